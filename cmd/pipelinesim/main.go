// Command pipelinesim drives a simulated rendering pipeline and reports how
// UI operations flowed between the JS, TASM, Layout and UI threads.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pipelinesim",
		Usage: "Simulate the rendering pipeline thread scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write JSON log lines instead of console output",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			RunCommand(),
			StrategiesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
