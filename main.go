package main

import "github.com/viktsys/marketdata-lake/cmd"

func main() {
	cmd.Execute()
}
