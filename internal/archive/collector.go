package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/metrics"
)

// DefaultURL is the public MTA alert message archive.
const DefaultURL = "https://mymtaalerts.com/messagearchive.aspx"

// Config controls how the collector drives the archive form.
type Config struct {
	URL       string
	Selectors Selectors
	// MaxPages caps pages per range; zero disables the cap.
	MaxPages int
	// ScreenshotDir receives a capture of the filled form when set and the
	// session supports screenshots.
	ScreenshotDir string
}

// Screenshotter is implemented by sessions that can capture the viewport.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Collector gathers every row the archive returns for a date range.
type Collector struct {
	opener   SessionOpener
	cfg      Config
	observer Observer
	logger   *zap.Logger
}

// NewCollector validates cfg and returns a Collector. observer may be nil.
func NewCollector(opener SessionOpener, cfg Config, observer Observer, logger *zap.Logger) (*Collector, error) {
	if opener == nil {
		return nil, errors.New("session opener is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("archive url is required")
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0, got %d", cfg.MaxPages)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		opener:   opener,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
	}, nil
}

// Collect submits the date filter for r and pages through the results.
func (c *Collector) Collect(ctx context.Context, r DateRange) (CollectedRange, error) {
	session, err := c.opener.Open(ctx)
	if err != nil {
		return CollectedRange{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.logger.Warn("Failed to close session", zap.Error(cerr))
		}
	}()

	logger := c.logger.With(zap.String("range", r.CheckpointID))
	if err := c.submit(ctx, session, r, logger); err != nil {
		return CollectedRange{}, err
	}

	pages := &sessionPages{
		session:   session,
		selectors: c.cfg.Selectors,
		logger:    logger,
	}
	rows, count, err := Paginate(ctx, pages, c.cfg.MaxPages, func(page int, res PageResult, total int) {
		logger.Info("Parsed page",
			zap.String("current", res.Marker.Current),
			zap.String("of", res.Marker.Total),
			zap.Int("rows", len(res.Rows)),
			zap.Int("rows_so_far", total),
			zap.Duration("parse", pages.lastParse),
		)
		metrics.ObservePage(len(res.Rows))
		if c.observer != nil {
			c.observer.PageCollected(r, res.Marker, len(res.Rows))
		}
	})
	if err != nil {
		return CollectedRange{}, fmt.Errorf("paginate %s: %w", r.CheckpointID, err)
	}

	logger.Info("Range collected", zap.Int("rows", len(rows)), zap.Int("pages", count))
	return CollectedRange{Range: r, Rows: rows, Pages: count}, nil
}

func (c *Collector) submit(ctx context.Context, s Session, r DateRange, logger *zap.Logger) error {
	if err := s.Navigate(ctx, c.cfg.URL); err != nil {
		return fmt.Errorf("navigate %s: %w", c.cfg.URL, err)
	}
	if err := s.SetField(ctx, c.cfg.Selectors.StartDate, r.StartLabel); err != nil {
		return fmt.Errorf("set start date: %w", err)
	}
	if err := s.SetField(ctx, c.cfg.Selectors.EndDate, r.EndLabel); err != nil {
		return fmt.Errorf("set end date: %w", err)
	}
	c.captureForm(ctx, s, r, logger)
	if err := s.Click(ctx, c.cfg.Selectors.Fetch); err != nil {
		return fmt.Errorf("click fetch: %w", err)
	}
	if err := s.WaitForSettle(ctx); err != nil {
		return fmt.Errorf("wait for results: %w", err)
	}
	return nil
}

// captureForm is best effort: a failed debug capture never fails the range.
func (c *Collector) captureForm(ctx context.Context, s Session, r DateRange, logger *zap.Logger) {
	if c.cfg.ScreenshotDir == "" {
		return
	}
	shooter, ok := s.(Screenshotter)
	if !ok {
		return
	}
	img, err := shooter.Screenshot(ctx)
	if err != nil {
		logger.Warn("Form screenshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(c.cfg.ScreenshotDir, 0o750); err != nil {
		logger.Warn("Create screenshot dir failed", zap.Error(err))
		return
	}
	target := filepath.Join(c.cfg.ScreenshotDir, r.CheckpointID+"-before_get_data.png")
	if err := os.WriteFile(target, img, 0o600); err != nil {
		logger.Warn("Write screenshot failed", zap.String("path", target), zap.Error(err))
		return
	}
	logger.Debug("Form screenshot saved", zap.String("path", target))
}

// sessionPages reads pages from a live session.
type sessionPages struct {
	session   Session
	selectors Selectors
	logger    *zap.Logger
	lastParse time.Duration
}

func (p *sessionPages) Current(ctx context.Context) (PageResult, error) {
	start := time.Now()
	res, err := Extract(ctx, p.session, func(doc *goquery.Document) (PageResult, error) {
		return ParsePage(doc, p.selectors)
	})
	p.lastParse = time.Since(start)
	return res, err
}

func (p *sessionPages) Advance(ctx context.Context) error {
	start := time.Now()
	if err := p.session.Click(ctx, p.selectors.NextPage); err != nil {
		return fmt.Errorf("click next page: %w", err)
	}
	if err := p.session.WaitForSettle(ctx); err != nil {
		return fmt.Errorf("wait for next page: %w", err)
	}
	elapsed := time.Since(start)
	metrics.ObservePageLoad(elapsed)
	p.logger.Debug("Page load", zap.Duration("took", elapsed))
	return nil
}
