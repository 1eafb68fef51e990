package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
)

type globalOptions struct {
	configPath string
	storage    string
}

var stdin = bufio.NewReader(os.Stdin)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Plan and run browser tasks",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config")
	root.PersistentFlags().StringVar(&opts.storage, "storage", "", "Path to browser storage state")
	root.AddCommand(newRunCmd(opts), newPlanCmd(opts))
	return root
}

// setup loads config and installs the global logger. The returned closer
// releases the log file, if any.
func setup(opts *globalOptions) (config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), func() {}, err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stderr
	if cfg.Log.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	closer := func() {}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return config.Config{}, zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = func() { _ = f.Close() }
	}
	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return cfg, log.Logger, closer, nil
}

func promptTask() (string, bool, error) {
	fmt.Print("Enter a task (leave empty to cancel): ")
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", true, nil
	}

	const maxTaskLength = 2000
	if len(line) > maxTaskLength {
		fmt.Printf("Task too long (max %d characters), truncated\n", maxTaskLength)
		line = line[:maxTaskLength]
	}

	// drop control characters except newlines and tabs
	var sanitized strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String(), false, nil
}
