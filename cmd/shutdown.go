package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viktsys/marketdata-lake/logging"
	"github.com/viktsys/marketdata-lake/shutdown"
)

var shutdownCMD = &cobra.Command{
	Use:   "shutdown",
	Short: "Manage the cooperative shutdown rendezvous file",
}

var shutdownCreateCMD = &cobra.Command{
	Use:   "create",
	Short: "Create the shutdown flag (requests that running/future invocations stop at the next safe point)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(cfg.LogDir, verbose)
		if err != nil {
			return err
		}
		coord := shutdown.New(cfg.ShutdownFlagPath, cfg.ShutdownPollEvery, log)
		if err := coord.CreateFlag(); err != nil {
			return err
		}
		fmt.Println("shutdown flag created:", cfg.ShutdownFlagPath)
		return nil
	},
}

var shutdownRemoveCMD = &cobra.Command{
	Use:   "remove",
	Short: "Remove the shutdown flag (resume)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(cfg.LogDir, verbose)
		if err != nil {
			return err
		}
		coord := shutdown.New(cfg.ShutdownFlagPath, cfg.ShutdownPollEvery, log)
		if err := coord.RemoveFlag(); err != nil {
			return err
		}
		fmt.Println("shutdown flag removed:", cfg.ShutdownFlagPath)
		return nil
	},
}

var shutdownCheckCMD = &cobra.Command{
	Use:   "check",
	Short: "Report whether the shutdown flag is currently set",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(cfg.LogDir, verbose)
		if err != nil {
			return err
		}
		coord := shutdown.New(cfg.ShutdownFlagPath, cfg.ShutdownPollEvery, log)
		if coord.Requested() {
			fmt.Println("shutdown flag is set:", cfg.ShutdownFlagPath)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return errShutdownFlagSet
		}
		fmt.Println("shutdown flag is not set")
		return nil
	},
}

// errShutdownFlagSet carries no message of its own (the command already
// printed one); it exists solely to make Execute() exit 1 per spec.md:207.
var errShutdownFlagSet = errors.New("")

func init() {
	shutdownCMD.AddCommand(shutdownCreateCMD, shutdownRemoveCMD, shutdownCheckCMD)
}
