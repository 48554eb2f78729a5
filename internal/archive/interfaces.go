package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Session is a single browser tab driven through the archive form.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// SetField replaces the current value of the input matched by selector.
	SetField(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	// WaitForSettle blocks until the navigation triggered by the last Click completes.
	WaitForSettle(ctx context.Context) error
	// HTML returns the rendered DOM of the current page.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// SessionOpener opens a fresh Session, one per collected range.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// PageSource yields the currently rendered page and advances the pager.
type PageSource interface {
	Current(ctx context.Context) (PageResult, error)
	Advance(ctx context.Context) error
}

// Observer receives per-page progress during collection.
type Observer interface {
	PageCollected(r DateRange, marker PageMarker, rows int)
}

// Extract snapshots the session's rendered DOM and runs fn over it.
func Extract[T any](ctx context.Context, s Session, fn func(*goquery.Document) (T, error)) (T, error) {
	var zero T
	html, err := s.HTML(ctx)
	if err != nil {
		return zero, fmt.Errorf("snapshot html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return zero, fmt.Errorf("parse html: %w", err)
	}
	return fn(doc)
}
