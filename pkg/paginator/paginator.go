package paginator

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/pacing"

	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultURLParam     = "page"
	DefaultPollInterval = 300 * time.Millisecond
)

// Options configures page advancing.
type Options struct {
	// URLFallback increments URLParam in the current URL when no next-page
	// control is available.
	URLFallback  bool
	URLParam     string
	PollInterval time.Duration
}

// Snapshot is what the listing looked like before an advance.
type Snapshot struct {
	Count int
	Lead  string
}

// Paginator moves the listing to its next page.
type Paginator struct {
	loc    *locator.Locator
	waiter *pacing.Waiter
	opts   Options
}

// New fills zero options with the defaults.
func New(loc *locator.Locator, waiter *pacing.Waiter, opts Options) *Paginator {
	if opts.URLParam == "" {
		opts.URLParam = DefaultURLParam
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Paginator{loc: loc, waiter: waiter, opts: opts}
}

// Snapshot records the item count and the first item's text.
func (p *Paginator) Snapshot(ctx context.Context) Snapshot {
	items := p.loc.LocateAll(ctx, locator.RoleItem)
	snap := Snapshot{Count: len(items)}
	if len(items) > 0 {
		if text, err := p.loc.Page().Text(ctx, items[0]); err == nil {
			snap.Lead = text
		}
	}
	return snap
}

// Advance triggers the next-page control, or the URL fallback when enabled.
// It returns false only when no advance mechanism is available.
func (p *Paginator) Advance(ctx context.Context) bool {
	page := p.loc.Page()

	if next, ok := p.loc.Locate(ctx, locator.RoleNextPage, nil); ok {
		err := page.Click(ctx, next)
		if err == nil {
			zlog.Info().Str("control", next.String()).Msg("➡️ Next page triggered")
			return true
		}
		zlog.Warn().Err(err).Msg("Next page control could not be clicked")
	}

	if !p.opts.URLFallback {
		return false
	}

	current, err := page.URL(ctx)
	if err != nil || current == "" {
		return false
	}
	target, err := NextPageURL(current, p.opts.URLParam)
	if err != nil {
		zlog.Warn().Err(err).Str("url", current).Msg("Next page URL could not be built")
		return false
	}
	if err := page.Navigate(ctx, target); err != nil {
		zlog.Warn().Err(err).Str("url", target).Msg("Next page navigation failed")
		return false
	}

	zlog.Info().Str("url", target).Msg("➡️ Next page by URL")
	return true
}

// ConfirmLoaded polls until the listing is non-empty and differs from before.
func (p *Paginator) ConfirmLoaded(ctx context.Context, before Snapshot, timeout time.Duration) bool {
	return p.waiter.PollUntil(ctx, func(ctx context.Context) bool {
		now := p.Snapshot(ctx)
		if now.Count == 0 {
			return false
		}
		return now.Count != before.Count || now.Lead != before.Lead
	}, timeout, p.opts.PollInterval)
}

// NextPageURL increments param in raw; a missing or invalid value counts as 1.
func NextPageURL(raw, param string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	current, err := strconv.Atoi(q.Get(param))
	if err != nil || current < 1 {
		current = 1
	}
	q.Set(param, strconv.Itoa(current+1))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
