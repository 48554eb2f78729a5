// Package browser drives the archive form with headless Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tsdataclinic/mta/internal/archive"
)

const (
	defaultNavTimeout    = 60 * time.Second
	defaultSettleTimeout = 60 * time.Second
)

// ErrSettleTimeout indicates a triggered navigation never finished loading.
var ErrSettleTimeout = errors.New("navigation did not settle")

// Config controls the headless browser.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	// ActionsPerSecond throttles navigations and clicks; zero disables.
	ActionsPerSecond float64
}

// Browser owns one Chrome process; each Open call creates a new tab.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	limiter       *rate.Limiter
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New starts Chrome and verifies it is reachable.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.ActionsPerSecond < 0 {
		return nil, fmt.Errorf("actions per second must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1280, 1024),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.ActionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}
	return &Browser{
		cfg:           cfg,
		logger:        logger,
		limiter:       limiter,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocCancel()
}

// Open creates a new tab. The tab lives until Session.Close.
func (b *Browser) Open(_ context.Context) (archive.Session, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	s := &Session{
		tabCtx:        tabCtx,
		cancel:        cancel,
		loaded:        make(chan struct{}, 1),
		limiter:       b.limiter,
		navTimeout:    durationOr(b.cfg.NavigationTimeout, defaultNavTimeout),
		settleTimeout: durationOr(b.cfg.SettleTimeout, defaultSettleTimeout),
		logger:        b.logger,
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	setup := []chromedp.Action{network.Enable()}
	if b.cfg.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return s, nil
}

// Session is one chromedp tab implementing archive.Session.
type Session struct {
	tabCtx        context.Context
	cancel        context.CancelFunc
	loaded        chan struct{}
	limiter       *rate.Limiter
	navTimeout    time.Duration
	settleTimeout time.Duration
	logger        *zap.Logger
}

func (s *Session) onEvent(ev any) {
	if _, ok := ev.(*page.EventLoadEventFired); !ok {
		return
	}
	select {
	case s.loaded <- struct{}{}:
	default:
	}
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(taskCtx, actions...)
}

func (s *Session) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

// drain discards load signals left over from earlier navigations.
func (s *Session) drain() {
	for {
		select {
		case <-s.loaded:
		default:
			return
		}
	}
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	err := s.run(ctx, s.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	s.drain()
	if err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

// SetField triple-clicks the input to select its content, then types text over it.
func (s *Session) SetField(ctx context.Context, selector, text string) error {
	err := s.run(ctx, s.navTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var nodes []*cdp.Node
			if err := chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)).Do(ctx); err != nil {
				return err
			}
			return chromedp.MouseClickNode(nodes[0], chromedp.ClickCount(3)).Do(ctx)
		}),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks selector. A navigation it triggers is awaited by WaitForSettle.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	s.drain()
	if err := s.run(ctx, s.navTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// WaitForSettle blocks until the page fires its load event and has a body.
func (s *Session) WaitForSettle(ctx context.Context) error {
	timer := time.NewTimer(s.settleTimeout)
	defer timer.Stop()
	select {
	case <-s.loaded:
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrSettleTimeout, s.settleTimeout)
	case <-ctx.Done():
		return fmt.Errorf("wait for settle: %w", ctx.Err())
	case <-s.tabCtx.Done():
		return fmt.Errorf("tab closed: %w", s.tabCtx.Err())
	}
	if err := s.run(ctx, s.navTimeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for body: %w", err)
	}
	return nil
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.navTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.navTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
