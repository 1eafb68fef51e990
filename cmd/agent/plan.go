package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polzovatel/hierarchical-browser-agent/internal/agent"
	"github.com/polzovatel/hierarchical-browser-agent/internal/browser"
	"github.com/polzovatel/hierarchical-browser-agent/internal/llm"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
	"github.com/polzovatel/hierarchical-browser-agent/internal/tools"
)

type planOptions struct {
	task string
	url  string
}

func newPlanCmd(global *globalOptions) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a plan for a task and print it as JSON without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return planTask(global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.task, "task", "", "Task description")
	cmd.Flags().StringVar(&opts.url, "url", "", "Open this page before planning")
	return cmd
}

func planTask(global *globalOptions, opts *planOptions) error {
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

	if opts.url != "" {
		if err := ctrl.Navigate(ctx, opts.url); err != nil {
			return fmt.Errorf("open %s: %w", opts.url, err)
		}
	}

	a := agent.New(cfg.Agent, agent.Deps{
		LLM:         client,
		Page:        tools.New(ctrl, logger.With().Str("comp", "tools").Logger()),
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      logger,
	})
	top, err := a.CreatePlan(ctx, task, plan.TaskContext{Objective: task, URL: opts.url})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(top)
}
