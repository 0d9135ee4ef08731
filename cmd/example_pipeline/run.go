package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/birdayz/knode"
	"github.com/birdayz/knode/pkg/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd)
	},
}

func init() {
	runCmd.Flags().Int("count", 0, "How many numbers to generate (overrides config)")
	runCmd.Flags().Int("factor", 0, "Scale factor (overrides config)")
	runCmd.Flags().String("log-format", "json", "Log output format: json or console")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads the --config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*knode.Config, error) {
	cfg := &knode.Config{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := knode.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cfg.Inputs == nil {
		cfg.Inputs = map[string]any{}
	}
	for _, name := range []string{"count", "factor"} {
		if cmd.Flags().Lookup(name) == nil || !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetInt(name)
		if err != nil {
			return nil, err
		}
		cfg.Inputs[name] = v
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, level slog.Level) (*slog.Logger, error) {
	format, _ := cmd.Flags().GetString("log-format")
	switch format {
	case "json":
		return log.Slog(log.New(), level), nil
	case "console":
		return log.Console(cmd.ErrOrStderr(), level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func runPipeline(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	p := buildPipeline()
	target, err := p.target(cfg.Inputs)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, level)
	if err != nil {
		return err
	}

	opts := append(cfg.Options(), knode.WithLog(logger))
	app, err := knode.New(p.registry, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := app.Run(ctx, target)
	if err != nil {
		return err
	}

	path, err := reportPath(res.Targets[0])
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(content))
	return nil
}

// reportPath returns the file path the report node pushed.
func reportPath(out *knode.StreamResult) (string, error) {
	if len(out.Messages) != 1 {
		return "", fmt.Errorf("report pushed %d messages, want 1", len(out.Messages))
	}
	path, ok := out.Messages[0].(string)
	if !ok {
		return "", fmt.Errorf("report pushed %T, want a file path", out.Messages[0])
	}
	return path, nil
}
