package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pitchsight/console/internal/api"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/pkg/types"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Upload media as an analysis job",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "REST endpoint (overrides config)",
			},
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Media file to upload",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "plugin",
				Usage:    "Plugin id",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "tool",
				Usage: "Concrete tool id (repeatable)",
			},
			&cli.StringFlag{
				Name:  "capability",
				Usage: "Resolve tool ids from a capability instead of --tool",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Poll the job to completion after submitting",
			},
		},
		Action: submitAction,
	}
}

func submitAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("backend-url") {
		cfg.Backend.BaseURL = c.String("backend-url")
	}
	client := api.NewClient(cfg.Backend.BaseURL, nil)

	ctx, cancel := signalContext()
	defer cancel()

	toolIDs := c.StringSlice("tool")
	if capability := c.String("capability"); capability != "" {
		manifest, err := client.FetchManifest(ctx, c.String("plugin"))
		if err != nil {
			return err
		}
		toolIDs, err = api.ResolveLogicalTool(manifest, capability)
		if err != nil {
			return err
		}
		logger.Info("Main", "Capability %s resolved to %s", capability, strings.Join(toolIDs, ", "))
	}
	if len(toolIDs) == 0 {
		return fmt.Errorf("no tools selected: pass --tool or --capability")
	}

	path := c.String("file")
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	jobID, err := client.SubmitJob(ctx, api.SubmitRequest{
		Media:    file,
		Filename: filepath.Base(path),
		PluginID: c.String("plugin"),
		ToolIDs:  toolIDs,
		OnProgress: func(percent int) {
			logger.Debug("Main", "Upload %d%%", percent)
		},
	})
	if err != nil {
		return err
	}
	fmt.Println(jobID)

	if !c.Bool("watch") {
		return nil
	}
	return watchJob(ctx, client, jobID, cfg.Job.PollInterval)
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll a job until it completes or fails",
		ArgsUsage: "<job-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "REST endpoint (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("backend-url") {
				cfg.Backend.BaseURL = c.String("backend-url")
			}
			if c.NArg() != 1 {
				return fmt.Errorf("usage: pitchsight watch <job-id>")
			}

			ctx, cancel := signalContext()
			defer cancel()
			client := api.NewClient(cfg.Backend.BaseURL, nil)
			return watchJob(ctx, client, c.Args().First(), cfg.Job.PollInterval)
		},
	}
}

func watchJob(ctx context.Context, client *api.Client, jobID string, interval time.Duration) error {
	watcher := api.NewWatcher(client, jobID, api.WatchConfig{
		PollInterval: interval,
		OnUpdate: func(state *types.JobState) {
			logger.Info("Main", "Job %s: %s", state.JobID, state.Status)
		},
	})

	final, err := watcher.Wait(ctx)
	if err != nil {
		return err
	}
	printFinalState(final)
	if final.Status == types.JobFailed {
		return cli.Exit(fmt.Sprintf("job %s failed: %s", jobID, final.Message), 1)
	}
	return nil
}

func printFinalState(state *types.JobState) {
	switch {
	case state.Video != nil:
		withDetections := 0
		for _, frame := range state.Video.Frames {
			if len(frame.Detections) > 0 {
				withDetections++
			}
		}
		fmt.Printf("%s: %s, %d frames (%d with detections)\n",
			state.JobID, state.Status, state.Video.TotalFrames, withDetections)
	case state.Image != nil:
		fmt.Printf("%s: %s, %d detections\n", state.JobID, state.Status, len(state.Image))
	default:
		fmt.Printf("%s: %s\n", state.JobID, state.Status)
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List a plugin's tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "REST endpoint (overrides config)",
			},
			&cli.StringFlag{
				Name:     "plugin",
				Usage:    "Plugin id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Only show tools accepting this input type",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("backend-url") {
				cfg.Backend.BaseURL = c.String("backend-url")
			}

			ctx, cancel := signalContext()
			defer cancel()
			client := api.NewClient(cfg.Backend.BaseURL, nil)

			manifest, err := client.FetchManifest(ctx, c.String("plugin"))
			if err != nil {
				return err
			}

			tools := manifest.Tools
			if input := c.String("input"); input != "" {
				tools = api.ToolsForInput(manifest, input)
			}
			for _, tool := range tools {
				line := fmt.Sprintf("%-24s in=%s out=%s",
					tool.ID,
					strings.Join(tool.InputTypes, ","),
					strings.Join(tool.OutputTypes, ","))
				if len(tool.Capabilities) > 0 {
					line += " caps=" + strings.Join(tool.Capabilities, ",")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
