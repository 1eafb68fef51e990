package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/polzovatel/hierarchical-browser-agent/internal/agent"
	"github.com/polzovatel/hierarchical-browser-agent/internal/browser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/observe"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/tools"
)

type runOptions struct {
	task        string
	saveState   string
	interactive bool
	metricsAddr string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan a task and execute it in the browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.task, "task", "", "Task description")
	cmd.Flags().StringVar(&opts.saveState, "save-state", "", "Path to save updated storage state")
	cmd.Flags().BoolVar(&opts.interactive, "interactive", false, "Read p/r/q from stdin to pause, resume or abort")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	return cmd
}

func runTask(global *globalOptions, opts *runOptions) error {
	cfg, logger, closeLog, err := setup(global)
	if err != nil {
		return err
	}
	defer closeLog()

	task := strings.TrimSpace(opts.task)
	if task == "" {
		var cancelled bool
		task, cancelled, err = promptTask()
		if err != nil {
			return fmt.Errorf("prompt task: %w", err)
		}
		if cancelled {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.New(cfg.LLM, logger.With().Str("comp", "llm").Logger())
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	ctrl, err := browser.Open(ctx, cfg.Browser, global.storage, logger.With().Str("comp", "browser").Logger())
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	defer ctrl.Close(context.Background())

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	observers := []observe.Observer{observe.NewLogger(logger.With().Str("comp", "events").Logger())}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		observers = append(observers, observe.NewMetrics("browser_agent", reg))
		srv := serveMetrics(metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	events := observe.NewAsync(observe.NewMulti(logger, observers...), 0, logger.With().Str("comp", "observer").Logger())
	defer events.Close()

	checkpoint := agent.NewCheckpoint()
	if opts.interactive {
		go driveCheckpoint(ctx, checkpoint, logger)
		fmt.Println("Interactive: p = pause, r = resume, q = abort")
	}

	a := agent.New(cfg.Agent, agent.Deps{
		LLM:         client,
		Page:        tools.New(ctrl, logger.With().Str("comp", "tools").Logger()),
		Observer:    events,
		Checkpoint:  checkpoint,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      logger,
	})

	fmt.Println("Starting task...")
	res := a.Run(ctx, task, plan.TaskContext{Objective: task})
	printResult(res)
	printSessionData(a)

	if !res.Success {
		return errors.New("task failed")
	}
	if opts.saveState != "" {
		if err := ctrl.SaveState(ctx, opts.saveState); err != nil {
			logger.Error().Err(err).Msg("save state")
		} else {
			logger.Info().Str("path", opts.saveState).Msg("storage saved")
		}
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

// driveCheckpoint maps stdin commands onto the checkpoint until ctx ends
// or stdin closes.
func driveCheckpoint(ctx context.Context, c *agent.Checkpoint, logger zerolog.Logger) {
	for ctx.Err() == nil {
		line, err := stdin.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "p", "pause":
			c.Pause()
			fmt.Println("Paused before next step. r = resume, q = abort")
		case "r", "resume":
			c.Resume()
			fmt.Println("Resumed.")
		case "q", "quit", "abort":
			c.Abort()
			fmt.Println("Aborting after current step.")
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("stdin closed")
			return
		}
	}
}

func printResult(res plan.ExecutionResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Println()
	for _, r := range res.Results {
		mark := ok("✓")
		if !r.Success {
			mark = bad("✗")
		}
		fmt.Printf("%s [%d] %s %s\n", mark, r.Index+1, r.Objective, dim(r.Duration.Round(time.Millisecond)))
		for _, s := range r.Steps {
			stepMark := ok("  ✓")
			if !s.Success {
				stepMark = bad("  ✗")
			}
			fmt.Printf("%s %s %s", stepMark, s.Type, s.Description)
			if s.Attempts > 1 {
				fmt.Printf(" %s", dim(fmt.Sprintf("(%d attempts)", s.Attempts)))
			}
			fmt.Println()
			if s.Error != "" {
				fmt.Printf("    %s\n", bad(s.Error))
			}
		}
		if r.Adaptations > 0 {
			fmt.Printf("  %s\n", dim(fmt.Sprintf("plan adapted %d time(s)", r.Adaptations)))
		}
	}
	fmt.Println()
	if res.Success {
		color.Green("Task completed in %s", res.Duration.Round(time.Millisecond))
		return
	}
	color.Red("Task failed: %s", res.Error)
}

func printSessionData(a *agent.Agent) {
	data := a.History().SessionData()
	if len(data) == 0 {
		return
	}
	color.Cyan("Extracted data:")
	for _, d := range data {
		fmt.Printf("  %s: %s\n", d.Description, d.Data)
	}
}
