package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

// cdpController drives Chrome over the DevTools protocol. Every call runs on
// the tab context, bounded by its own timeout and by the caller's context.
type cdpController struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration
	actTimeout  time.Duration
	logger      zerolog.Logger
}

func openChromedp(ctx context.Context, cfg config.Browser, storagePath string, logger zerolog.Logger) (*cdpController, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.IgnoreCertErrors,
	)
	if cfg.ViewportW > 0 && cfg.ViewportH > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportW, cfg.ViewportH))
	}
	// the browser outlives ctx, which only bounds startup
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
	)

	nav, action := timeouts(cfg)
	c := &cdpController{
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		navTimeout:  nav,
		actTimeout:  action,
		logger:      logger,
	}
	if err := c.run(ctx, nav); err != nil {
		c.shutdown()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	if strings.TrimSpace(storagePath) != "" {
		if err := c.loadCookies(ctx, storagePath); err != nil {
			logger.Warn().Err(err).Str("path", storagePath).Msg("storage state not loaded")
		}
	}
	return c, nil
}

func (c *cdpController) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrapCDP(err)
	}
	return nil
}

func (c *cdpController) shutdown() {
	c.cancelTab()
	c.cancelAlloc()
}

func (c *cdpController) Close(_ context.Context) error {
	c.shutdown()
	return nil
}

func (c *cdpController) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, c.navTimeout, chromedp.Navigate(url))
}

func (c *cdpController) Click(ctx context.Context, selector string) error {
	return c.run(ctx, c.actTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (c *cdpController) ClickText(ctx context.Context, text string, exact bool) error {
	var clicked bool
	if err := c.run(ctx, c.actTimeout, chromedp.Evaluate(call(clickTextScript, text, exact), &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("chromedp: no visible element with text %q", text)
	}
	return nil
}

func (c *cdpController) ClickByCoordinates(ctx context.Context, x, y float64) error {
	return c.run(ctx, c.actTimeout, chromedp.MouseClickXY(x, y))
}

func (c *cdpController) Fill(ctx context.Context, selector, text string) error {
	return c.run(ctx, c.actTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (c *cdpController) Type(ctx context.Context, selector, text string) error {
	return c.run(ctx, c.actTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (c *cdpController) Read(ctx context.Context, selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		selector = "body"
	}
	var text string
	err := c.run(ctx, c.actTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	return text, err
}

func (c *cdpController) Scroll(ctx context.Context, direction string, distance int) (int, error) {
	if distance <= 0 {
		distance = defaultScrollAmount
		var vh float64
		if err := c.run(ctx, c.actTimeout, chromedp.Evaluate(call(viewportHeightScript), &vh)); err == nil && vh > 0 {
			distance = int(vh)
		}
	}
	var moved float64
	if err := c.run(ctx, c.actTimeout, chromedp.Evaluate(call(scrollScript, normalizeDirection(direction), distance), &moved)); err != nil {
		return 0, err
	}
	return distance, nil
}

func (c *cdpController) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.actTimeout
	}
	return c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (c *cdpController) WaitForStableDOM(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var ok bool
	return c.run(ctx, timeout+time.Second,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(call(stableDOMScript), &ok, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
}

func (c *cdpController) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, c.actTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (c *cdpController) State(ctx context.Context) (plan.PageState, error) {
	var (
		st plan.PageState
		vp plan.Viewport
	)
	err := c.run(ctx, c.actTimeout,
		chromedp.Location(&st.URL),
		chromedp.Title(&st.Title),
		chromedp.OuterHTML("html", &st.Content, chromedp.ByQuery),
		chromedp.Evaluate(call(viewportScript), &vp),
	)
	st.Viewport = vp
	return st, err
}

// storageState mirrors the cookie part of playwright's storage state file so
// both drivers read and write the same format.
type storageState struct {
	Cookies []storedCookie `json:"cookies"`
	Origins []any          `json:"origins"`
}

type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (c *cdpController) SaveState(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	err := c.run(ctx, c.actTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}
	data, err := json.Marshal(toStorageState(cookies))
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *cdpController) loadCookies(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var st storageState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse storage state: %w", err)
	}
	return c.run(ctx, c.actTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range st.Cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func toStorageState(cookies []*network.Cookie) storageState {
	st := storageState{Cookies: make([]storedCookie, 0, len(cookies)), Origins: []any{}}
	for _, ck := range cookies {
		if ck == nil {
			continue
		}
		st.Cookies = append(st.Cookies, storedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: ck.SameSite.String(),
		})
	}
	return st
}
