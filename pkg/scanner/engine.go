package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"listing-scanner/pkg/browser"
	"listing-scanner/pkg/detail"
	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/metrics"
	"listing-scanner/pkg/models"
	"listing-scanner/pkg/pacing"
	"listing-scanner/pkg/paginator"

	zlog "github.com/rs/zerolog/log"
)

// ErrInvalidParams wraps every ScanParams validation failure.
var ErrInvalidParams = errors.New("invalid scan parameters")

// Options configures an Engine. Zero timings take their defaults.
type Options struct {
	Timing       models.Timing
	Detail       detail.Options
	Pagination   paginator.Options
	SkipSeen     bool
	SeenCapacity int
	Metrics      *metrics.Metrics
	Sink         Sink
}

// Engine runs at most one scan session at a time over a page.
type Engine struct {
	loc    *locator.Locator
	waiter *pacing.Waiter
	detail *detail.Loader
	pager  *paginator.Paginator
	opts   Options

	// startMu serializes Start so an unwinding session is awaited once.
	startMu sync.Mutex

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	last    []models.MatchRecord
}

// New wires an engine; loc must query the same page the engine drives.
func New(loc *locator.Locator, waiter *pacing.Waiter, opts Options) *Engine {
	def := models.DefaultTiming()
	t := &opts.Timing
	if t.ClickSettle <= 0 {
		t.ClickSettle = def.ClickSettle
	}
	if t.DetailExtra <= 0 {
		t.DetailExtra = def.DetailExtra
	}
	if t.LazyLoadWait <= 0 {
		t.LazyLoadWait = def.LazyLoadWait
	}
	if t.PageConfirm <= 0 {
		t.PageConfirm = def.PageConfirm
	}
	if t.PageSettle <= 0 {
		t.PageSettle = def.PageSettle
	}
	if t.LazyLoadSlack <= 0 {
		t.LazyLoadSlack = def.LazyLoadSlack
	}
	if opts.SkipSeen && opts.SeenCapacity <= 0 {
		opts.SeenCapacity = 1000
	}
	if !opts.SkipSeen {
		opts.SeenCapacity = 0
	}
	if opts.Sink == nil {
		opts.Sink = Fanout(nil)
	}

	return &Engine{
		loc:    loc,
		waiter: waiter,
		detail: detail.NewLoader(loc, waiter, opts.Detail),
		pager:  paginator.New(loc, waiter, opts.Pagination),
		opts:   opts,
	}
}

// Start begins a session. It returns false without touching the current
// session when one is already running.
func (e *Engine) Start(ctx context.Context, params models.ScanParams) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if cur := e.session; cur != nil && cur.Running() {
		e.mu.Unlock()
		zlog.Warn().Str("session", cur.ID).Msg("Scan already running, start ignored")
		return false, nil
	}
	prev := e.done
	e.mu.Unlock()

	if prev != nil {
		<-prev
	}

	s, err := newSession(params, e.waiter.Clock().Now(), e.opts.SeenCapacity)
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.session = s
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	zlog.Info().
		Str("session", s.ID).
		Str("filter", params.Filter).
		Strs("terms", s.Filter().Terms()).
		Dur("base_delay", params.BaseDelay).
		Int("per_page_cap", params.PerPageCap).
		Int("max_pages", params.MaxPages).
		Msg("🚀 Scan started")

	e.opts.Metrics.SessionStarted()
	go e.run(runCtx, cancel, s, done)
	return true, nil
}

// Stop halts the running session and returns the matches accumulated so far.
// The terminal event follows once the scan loop has unwound.
func (e *Engine) Stop() []models.MatchRecord {
	e.mu.Lock()
	s, cancel := e.session, e.cancel
	e.mu.Unlock()

	if s == nil {
		return nil
	}
	matches := s.halt()
	cancel()
	zlog.Info().Str("session", s.ID).Int("matches", len(matches)).Msg("🛑 Stop requested")
	return matches
}

// Status reports the running session, or an idle status.
func (e *Engine) Status() models.Status {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s == nil {
		return models.Status{}
	}
	return s.Status()
}

// Matches returns the running session's matches, or those of the last
// finished session.
func (e *Engine) Matches() []models.MatchRecord {
	e.mu.Lock()
	s, last := e.session, e.last
	e.mu.Unlock()

	if s != nil {
		return s.Matches()
	}
	return append([]models.MatchRecord(nil), last...)
}

// Wait blocks until the current session, if any, has emitted its terminal
// event.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, s *Session, done chan struct{}) {
	defer close(done)
	defer cancel()

	reason, message := e.scan(ctx, s)

	matches := s.halt()
	e.mu.Lock()
	if e.session == s {
		e.session = nil
		e.cancel = nil
	}
	e.last = matches
	e.mu.Unlock()

	e.opts.Metrics.SessionEnded(string(reason))

	if reason.Failed() {
		zlog.Error().
			Str("session", s.ID).
			Str("reason", string(reason)).
			Int("matches", len(matches)).
			Msg("❌ " + message)
		e.opts.Sink.Publish(models.Error{SessionID: s.ID, Reason: reason, Message: message, Matches: matches})
		return
	}

	zlog.Info().
		Str("session", s.ID).
		Str("reason", string(reason)).
		Int("matches", len(matches)).
		Msg("🏁 Scan finished")
	e.opts.Sink.Publish(models.Completed{SessionID: s.ID, Reason: reason, Matches: matches})
}

// scan runs pages until a stop reason is reached.
func (e *Engine) scan(ctx context.Context, s *Session) (models.StopReason, string) {
	for {
		if ctx.Err() != nil {
			return models.StopUser, ""
		}

		page := s.Page()
		items := e.loc.LocateAll(ctx, locator.RoleItem)
		if len(items) == 0 {
			if ctx.Err() != nil {
				return models.StopUser, ""
			}
			return models.StopNoItemsFound, fmt.Sprintf("no items found on page %d", page)
		}

		e.scanPage(ctx, s, items)

		if ctx.Err() != nil {
			return models.StopUser, ""
		}
		if maxPages := s.Params.MaxPages; maxPages > 0 && page >= maxPages {
			zlog.Info().Int("page", page).Msg("📄 Page limit reached")
			return models.StopExhausted, ""
		}

		before := e.pager.Snapshot(ctx)
		if !e.pager.Advance(ctx) {
			if ctx.Err() != nil {
				return models.StopUser, ""
			}
			zlog.Info().Int("page", page).Msg("📄 No further pages")
			return models.StopExhausted, ""
		}
		if !e.pager.ConfirmLoaded(ctx, before, e.opts.Timing.PageConfirm) {
			if ctx.Err() != nil {
				return models.StopUser, ""
			}
			return models.StopPageLoadFailed, fmt.Sprintf("page %d did not load within %s", page+1, e.opts.Timing.PageConfirm)
		}
		if err := e.waiter.Delay(ctx, e.opts.Timing.PageSettle); err != nil {
			return models.StopUser, ""
		}
		s.nextPage()
	}
}

// scanPage processes the items of the current page until the limit is
// reached or ctx ends.
func (e *Engine) scanPage(ctx context.Context, s *Session, items []browser.Element) {
	page := s.Page()
	capped := s.Params.PerPageCap > 0
	limit := len(items)
	if capped && s.Params.PerPageCap < limit {
		limit = s.Params.PerPageCap
	}

	e.opts.Metrics.IncPage()
	zlog.Info().Int("page", page).Int("items", len(items)).Int("limit", limit).Msg("📄 Page started")
	e.opts.Sink.Publish(models.PageStarted{Total: limit, Page: page})

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		s.setIndex(i)

		fresh := e.loc.LocateAll(ctx, locator.RoleItem)
		if len(fresh) > len(items) {
			items = fresh
			if !capped {
				limit = len(items)
			}
		}
		if i >= len(fresh) {
			zlog.Debug().Int("index", i).Msg("Item vanished, skipping")
			continue
		}

		e.scanItem(ctx, s, fresh[i], i, limit)
		if ctx.Err() != nil {
			return
		}

		if !capped && i >= limit-e.opts.Timing.LazyLoadSlack {
			if grown := e.loadMore(ctx, len(items)); grown != nil {
				items = grown
				limit = len(items)
			}
		}
	}
}

func (e *Engine) scanItem(ctx context.Context, s *Session, item browser.Element, i, limit int) {
	page := e.loc.Page()
	clock := e.waiter.Clock()
	pageNum := s.Page()

	it, linkEl := e.resolve(ctx, item, i+1)
	if it.Link != "" && s.markSeen(it.Link) {
		e.opts.Metrics.IncItem("skipped")
		zlog.Debug().Str("link", it.Link).Msg("⏭️ Already seen, skipping")
		e.opts.Sink.Publish(models.Progress{Current: it.Index, Total: limit, Page: pageNum, Title: it.Title, Skipped: true})
		return
	}
	if it.Link == "" {
		if u, err := page.URL(ctx); err == nil {
			it.Link = u
		}
	}

	delay := e.waiter.Jitter(s.Params.BaseDelay)
	e.opts.Sink.Publish(models.Progress{Current: it.Index, Total: limit, Page: pageNum, Title: it.Title, ComputedDelay: delay})

	target := item
	if linkEl != nil {
		target = linkEl
	}
	if err := e.trigger(ctx, item, target); err != nil {
		return
	}
	if err := e.waiter.Delay(ctx, delay); err != nil {
		return
	}

	started := clock.Now()
	text := e.detail.AwaitDetail(ctx, delay+e.opts.Timing.DetailExtra)
	if ctx.Err() != nil {
		return
	}
	e.opts.Metrics.ObserveDetailWait(clock.Now().Sub(started))
	e.opts.Metrics.IncItem("scanned")

	if !s.Filter().Match(text) {
		return
	}
	rec, ok := s.record(it, clock.Now())
	if !ok {
		return
	}
	e.opts.Metrics.IncMatch()
	zlog.Info().
		Int("seq", rec.Seq).
		Int("page", rec.Page).
		Str("title", rec.Title).
		Str("link", rec.Link).
		Strs("terms", s.Filter().MatchedTerms(text)).
		Msg("✅ Match")
	e.opts.Sink.Publish(models.Matched{SessionID: s.ID, Record: rec})
}

// resolve reads the title and link of the item at the 1-based index. The
// link element is nil when no link resolved.
func (e *Engine) resolve(ctx context.Context, item browser.Element, index int) (models.Item, browser.Element) {
	page := e.loc.Page()
	it := models.Item{Index: index, Title: models.UnknownTitle}

	if el, ok := e.loc.Locate(ctx, locator.RoleTitle, item); ok {
		if t, err := page.Text(ctx, el); err == nil && strings.TrimSpace(t) != "" {
			it.Title = strings.TrimSpace(t)
		}
	}

	linkEl, ok := e.loc.Locate(ctx, locator.RoleLink, item)
	if !ok {
		return it, nil
	}
	if href, err := page.Href(ctx, linkEl); err == nil {
		it.Link = href
	}
	return it, linkEl
}

// trigger scrolls item into view, settles, then clicks target.
func (e *Engine) trigger(ctx context.Context, item, target browser.Element) error {
	page := e.loc.Page()
	if err := page.ScrollIntoView(ctx, item); err != nil {
		zlog.Debug().Err(err).Msg("Scroll into view failed")
	}
	if err := e.waiter.Delay(ctx, e.opts.Timing.ClickSettle); err != nil {
		return err
	}
	if err := page.Click(ctx, target); err != nil {
		zlog.Warn().Err(err).Str("target", target.String()).Msg("Item click failed")
	}
	return nil
}

// loadMore scrolls the listing container (or the window) to its end and
// returns the grown collection, or nil when nothing new appeared.
func (e *Engine) loadMore(ctx context.Context, have int) []browser.Element {
	page := e.loc.Page()
	listing, _ := e.loc.Locate(ctx, locator.RoleListing, nil)
	if err := page.ScrollToEnd(ctx, listing); err != nil {
		zlog.Debug().Err(err).Msg("Lazy-load scroll failed")
	}
	if err := e.waiter.Delay(ctx, e.opts.Timing.LazyLoadWait); err != nil {
		return nil
	}
	items := e.loc.LocateAll(ctx, locator.RoleItem)
	if len(items) <= have {
		return nil
	}
	zlog.Info().Int("before", have).Int("after", len(items)).Msg("📜 More items loaded")
	return items
}
