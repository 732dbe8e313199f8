// Package browser launches headless Chrome processes via chromedp and
// adapts them to the resource pool's handle contract.
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/probelab/leetcrawl/internal/id/uuid"
	"github.com/probelab/leetcrawl/internal/pool"
)

const baseURL = "https://leetcode.com/"

// Cookie is one authentication cookie injected into a fresh browser.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// cookieEnvKeys maps the well-known auth cookie env names to the cookie
// domains they belong to.
var cookieEnvKeys = []struct {
	key    string
	name   string
	domain string
}{
	{"CF_CLEARANCE", "cf_clearance", ".leetcode.com"},
	{"CSRF_TOKEN", "csrftoken", "leetcode.com"},
	{"INGRESSCOOKIE", "INGRESSCOOKIE", "leetcode.com"},
	{"IP_CHECK", "ip_check", "leetcode.com"},
	{"LEETCODE_SESSION", "LEETCODE_SESSION", ".leetcode.com"},
	{"MESSAGES", "messages", ".leetcode.com"},
}

// CookiesFromEnv reads the auth cookie set for a named session from the
// environment. Session-scoped variables (LEETCRAWL_SESSION_<NAME>_<KEY>)
// win over the bare key names; the empty session name reads only the
// bare names.
func CookiesFromEnv(sessionName string) []Cookie {
	var cookies []Cookie
	prefix := ""
	if sessionName != "" {
		prefix = "LEETCRAWL_SESSION_" + strings.ToUpper(strings.ReplaceAll(sessionName, "-", "_")) + "_"
	}
	for _, ck := range cookieEnvKeys {
		val := ""
		if prefix != "" {
			val = os.Getenv(prefix + ck.key)
		}
		if val == "" {
			val = os.Getenv(ck.key)
		}
		if val == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: ck.name, Value: val, Domain: ck.domain})
	}
	return cookies
}

// Config controls how browser processes are launched.
type Config struct {
	UserAgent  string
	Headless   bool
	NavTimeout time.Duration
	Cookies    []Cookie
}

// DefaultConfig returns the standard launch configuration.
func DefaultConfig() Config {
	return Config{
		Headless:   true,
		NavTimeout: 25 * time.Second,
	}
}

// Factory creates one live Chrome process per NewHandle call. It
// implements pool.Factory.
type Factory struct {
	cfg    Config
	ids    *uuid.Generator
	logger *zap.Logger
}

// NewFactory builds a Factory for one identity's cookie set.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = DefaultConfig().NavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, ids: uuid.NewGenerator(), logger: logger}
}

// NewHandle launches a Chrome process, primes it with the identity's
// cookies, and returns it as a pool handle.
func (f *Factory) NewHandle(ctx context.Context) (pool.Handle, error) {
	handleID, err := f.ids.NewID()
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	h := &Handle{
		id:            handleID,
		cfg:           f.cfg,
		logger:        f.logger.With(zap.String("handle", handleID)),
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	if err := h.prime(ctx); err != nil {
		h.destroy()
		return nil, fmt.Errorf("prime browser: %w", err)
	}
	f.logger.Debug("browser launched", zap.String("handle", handleID))
	return h, nil
}

// Handle is one live Chrome process. It implements pool.Handle.
type Handle struct {
	id            string
	cfg           Config
	logger        *zap.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// ID returns the handle's identifier.
func (h *Handle) ID() string {
	return h.id
}

// IsConnected reports whether the underlying browser is still alive.
func (h *Handle) IsConnected() bool {
	return h.browserCtx.Err() == nil
}

// prime starts the browser and injects the identity's cookies after an
// initial navigation that establishes the cookie origin.
func (h *Handle) prime(ctx context.Context) error {
	runCtx, cancel := h.runContext(ctx)
	defer cancel()

	actions := []chromedp.Action{h.setupAction(), chromedp.Navigate(baseURL)}
	if len(h.cfg.Cookies) > 0 {
		actions = append(actions, h.setCookiesAction())
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// HTML navigates to url and returns the rendered DOM.
func (h *Handle) HTML(ctx context.Context, url string) (string, error) {
	runCtx, cancel := h.runContext(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// ResetContexts parks the tab on a blank page so the next borrower
// starts clean while the session cookies survive.
func (h *Handle) ResetContexts(ctx context.Context) error {
	runCtx, cancel := h.runContext(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("reset tab: %w", err)
	}
	return nil
}

// Close shuts the browser process down.
func (h *Handle) Close(_ context.Context) error {
	h.destroy()
	return nil
}

func (h *Handle) destroy() {
	h.browserCancel()
	h.allocCancel()
}

// runContext bounds a browser action by both the caller's context and
// the configured navigation timeout.
func (h *Handle) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(h.browserCtx, h.cfg.NavTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (h *Handle) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if h.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (h *Handle) setCookiesAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range h.cfg.Cookies {
			err := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath("/").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	})
}
