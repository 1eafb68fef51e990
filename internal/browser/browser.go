// Package browser drives a single page through playwright or chromedp.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

const (
	defaultNavTimeout   = 30 * time.Second
	defaultActionTime   = 10 * time.Second
	defaultScrollAmount = 600
)

// Controller exposes the page primitives the step runner needs. A
// controller owns one page; callers must not use it concurrently.
type Controller interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string, exact bool) error
	ClickByCoordinates(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, selector, text string) error
	Type(ctx context.Context, selector, text string) error
	Read(ctx context.Context, selector string) (string, error)
	Scroll(ctx context.Context, direction string, distance int) (int, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	WaitForStableDOM(ctx context.Context, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	State(ctx context.Context) (plan.PageState, error)
	SaveState(ctx context.Context, path string) error
}

// Open starts the driver named in cfg and returns a controller on a fresh
// page. storagePath overrides cfg.StorageState when set.
func Open(ctx context.Context, cfg config.Browser, storagePath string, logger zerolog.Logger) (Controller, error) {
	if storagePath == "" {
		storagePath = cfg.StorageState
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "playwright":
		c, err := openPlaywright(ctx, cfg, storagePath, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "chromedp":
		c, err := openChromedp(ctx, cfg, storagePath, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown browser driver: %s (use 'playwright' or 'chromedp')", cfg.Driver)
	}
}

func timeouts(cfg config.Browser) (nav, action time.Duration) {
	nav, action = cfg.NavTimeout, cfg.ActionTimeout
	if nav <= 0 {
		nav = defaultNavTimeout
	}
	if action <= 0 {
		action = defaultActionTime
	}
	return nav, action
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func wrapCDP(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("chromedp: %w", err)
}
