package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viktsys/marketdata-lake/monitor"
	"github.com/viktsys/marketdata-lake/shutdown"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-mostly Monitoring Service HTTP API",
	Long: `Serve starts the Monitoring Service described in spec.md §4.8: a
read-mostly HTTP surface over the ledger and aggregate tables, plus the
two control endpoints that create/remove the shutdown flag.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildMonitorStack(cfg, verbose)
		if err != nil {
			return err
		}
		defer s.Close()

		coord := shutdown.New(cfg.ShutdownFlagPath, cfg.ShutdownPollEvery, s.log)
		coord.Watch()

		svc := monitor.New(s.analytical, s.remote, coord, s.log)
		r := svc.Router()

		addr := fmt.Sprintf(":%d", cfg.MonitorPort)
		s.log.Infof("starting monitoring service on %s", addr)
		return r.Run(addr)
	},
}
