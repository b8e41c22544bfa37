package detail

import (
	"context"
	"time"
	"unicode/utf8"

	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/matcher"
	"listing-scanner/pkg/pacing"

	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultMinLength    = 100
	DefaultPollInterval = 300 * time.Millisecond
)

// Options tunes the stabilization heuristic.
type Options struct {
	MinLength    int
	PollInterval time.Duration
}

// Loader waits for the detail pane of the last triggered item.
type Loader struct {
	loc    *locator.Locator
	waiter *pacing.Waiter
	opts   Options
}

// NewLoader fills zero options with the defaults.
func NewLoader(loc *locator.Locator, waiter *pacing.Waiter, opts Options) *Loader {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Loader{loc: loc, waiter: waiter, opts: opts}
}

// AwaitDetail polls until the detail text is longer than the minimum length
// or timeout elapses, and returns the best text available either way.
func (l *Loader) AwaitDetail(ctx context.Context, timeout time.Duration) string {
	var text string
	ok := l.waiter.PollUntil(ctx, func(ctx context.Context) bool {
		text = l.Current(ctx)
		return l.Stable(text)
	}, timeout, l.opts.PollInterval)

	if !ok && ctx.Err() == nil {
		text = l.Current(ctx)
		zlog.Debug().
			Int("length", utf8.RuneCountInString(text)).
			Dur("timeout", timeout).
			Msg("⏳ Detail did not stabilize, using partial text")
	}
	return text
}

// Stable reports whether text passes the minimum length heuristic.
func (l *Loader) Stable(text string) bool {
	return utf8.RuneCountInString(text) > l.opts.MinLength
}

// Current returns the lower-cased detail text right now, falling back to the
// whole page text when no detail container resolves.
func (l *Loader) Current(ctx context.Context) string {
	page := l.loc.Page()

	if el, ok := l.loc.Locate(ctx, locator.RoleDetail, nil); ok {
		if text, err := page.Text(ctx, el); err == nil {
			return matcher.Normalize(text)
		}
	}

	text, err := page.BodyText(ctx)
	if err != nil {
		return ""
	}
	return matcher.Normalize(text)
}
