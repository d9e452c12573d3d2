// Package main provides the pitchsight operator console CLI.
//
// Usage:
//
//	pitchsight <command> [options]
//
// Commands:
//   - stream: capture, throttle and stream frames to the processor
//   - submit: upload media as an analysis job
//   - watch:  poll a job to completion
//   - tools:  list a plugin's tools and resolve capabilities
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pitchsight/console/internal/config"
	"github.com/pitchsight/console/internal/logger"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "pitchsight",
		Usage:   "Operator console for the pitchsight analysis pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "log-color",
				Usage: "Colorize log output",
			},
		},
		Commands: []*cli.Command{
			streamCommand(),
			submitCommand(),
			watchCommand(),
			toolsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, environment and shared flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-color") {
		cfg.Log.Color = c.Bool("log-color")
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	return cfg, nil
}
