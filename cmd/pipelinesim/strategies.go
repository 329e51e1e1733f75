package main

import (
	"fmt"

	"github.com/Swind/go-render-pipeline/shell"
	"github.com/urfave/cli/v2"
)

func StrategiesCommand() *cli.Command {
	return &cli.Command{
		Name:   "strategies",
		Usage:  "List rendering strategies and the threads they use",
		Action: strategiesAction,
	}
}

func strategiesAction(c *cli.Context) error {
	w := c.App.Writer
	for _, s := range []shell.ThreadStrategyForRendering{
		shell.AllOnUI, shell.PartOnLayout, shell.MostOnTASM, shell.MultiThreads,
	} {
		fmt.Fprintf(w, "%-15s engine_async=%-5t tasm=%-6s layout=%s\n",
			s, s.IsEngineAsync(), tasmHome(s), layoutHome(s))
	}
	return nil
}

func tasmHome(s shell.ThreadStrategyForRendering) string {
	if s == shell.AllOnUI {
		return "ui"
	}
	return "tasm"
}

func layoutHome(s shell.ThreadStrategyForRendering) string {
	switch s {
	case shell.PartOnLayout, shell.MultiThreads:
		return "layout"
	case shell.MostOnTASM:
		return "tasm"
	}
	return "ui"
}
