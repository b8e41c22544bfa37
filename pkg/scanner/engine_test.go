package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"listing-scanner/pkg/browser"
	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/models"
	"listing-scanner/pkg/pacing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var longDetail = strings.Repeat("Go services and distributed systems. ", 5)

type job struct {
	title  string
	href   string
	detail string
}

// listingPage renders a listing with a detail slot and an optional next link.
func listingPage(jobs []job, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="list">`)
	for _, j := range jobs {
		fmt.Fprintf(&b, `<li class="item"><span class="title">%s</span><a class="link" href="%s">open</a></li>`, j.title, j.href)
	}
	b.WriteString(`</ul><div id="detail"></div>`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">Next</a>`, next)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func fragmentsFor(jobs ...[]job) map[string]string {
	out := map[string]string{}
	for _, list := range jobs {
		for _, j := range list {
			out[j.href] = `<div class="description">` + j.detail + `</div>`
		}
	}
	return out
}

func jobs(prefix string, n int) []job {
	out := make([]job, n)
	for i := range out {
		out[i] = job{
			title:  fmt.Sprintf("%s %d", prefix, i+1),
			href:   fmt.Sprintf("/fragments/%s-%d.html", strings.ToLower(prefix), i+1),
			detail: longDetail,
		}
	}
	return out
}

func testTable() locator.Table {
	return locator.Table{
		locator.RoleItem:     {locator.CSS{Selector: ".item"}},
		locator.RoleTitle:    {locator.CSS{Selector: ".title"}},
		locator.RoleLink:     {locator.CSS{Selector: "a.link"}},
		locator.RoleDetail:   {locator.CSS{Selector: "#detail"}},
		locator.RoleNextPage: {locator.CSS{Selector: "a.next"}},
		locator.RoleListing:  {locator.CSS{Selector: ".list"}},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *recorder) ofKind(kind models.EventKind) []models.Event {
	var out []models.Event
	for _, ev := range r.all() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) terminal(t *testing.T) models.Event {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all)
	last := all[len(all)-1]
	require.Contains(t, []models.EventKind{models.KindCompleted, models.KindError}, last.Kind())
	return last
}

// countingPage counts selector queries on top of a StaticPage.
type countingPage struct {
	*browser.StaticPage
	mu     sync.Mutex
	counts map[string]int
}

func (p *countingPage) QueryAll(ctx context.Context, selector string, scope browser.Element) ([]browser.Element, error) {
	p.mu.Lock()
	p.counts[selector]++
	p.mu.Unlock()
	return p.StaticPage.QueryAll(ctx, selector, scope)
}

func (p *countingPage) count(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[selector]
}

func openPage(t *testing.T, pages, fragments map[string]string, start string) *browser.StaticPage {
	t.Helper()
	page := browser.NewStaticPage(pages, fragments, "#detail")
	require.NoError(t, page.Navigate(context.Background(), start))
	return page
}

func newEngine(page browser.Page, opts Options) (*Engine, *recorder) {
	rec := &recorder{}
	if opts.Sink == nil {
		opts.Sink = rec
	} else {
		opts.Sink = Fanout{rec, opts.Sink}
	}
	clock := pacing.NewVirtualClock(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	waiter := pacing.NewWaiter(pacing.WithClock(clock), pacing.WithSeed(7))
	return New(locator.New(page, testTable()), waiter, opts), rec
}

func run(t *testing.T, e *Engine, params models.ScanParams) {
	t.Helper()
	started, err := e.Start(context.Background(), params)
	require.NoError(t, err)
	require.True(t, started)
	e.Wait()
}

func TestScanCollectsEveryItemWithEmptyFilter(t *testing.T) {
	list := jobs("Job", 5)
	static := openPage(t, map[string]string{"/page1.html": listingPage(list, "")}, fragmentsFor(list), "/page1.html")
	page := &countingPage{StaticPage: static, counts: map[string]int{}}
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{BaseDelay: time.Second})

	matched := rec.ofKind(models.KindMatched)
	require.Len(t, matched, 5)
	for i, ev := range matched {
		r := ev.(models.Matched).Record
		assert.Equal(t, i+1, r.Seq, "cumulative numbering is monotonic")
		assert.Equal(t, fmt.Sprintf("Job %d", i+1), r.Title)
		assert.Equal(t, list[i].href, r.Link)
		assert.Equal(t, 1, r.Page)
	}

	done, ok := rec.terminal(t).(models.Completed)
	require.True(t, ok)
	assert.Equal(t, models.StopExhausted, done.Reason)
	assert.Len(t, done.Matches, 5)
	assert.Equal(t, 1, page.count("a.next"), "pagination attempted once")
	assert.Equal(t, e.Matches(), done.Matches)
	assert.False(t, e.Status().Running)
}

func TestScanStopsWhenNoItems(t *testing.T) {
	page := openPage(t, map[string]string{"/empty.html": listingPage(nil, "")}, nil, "/empty.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{})

	all := rec.all()
	require.Len(t, all, 1)
	failed, ok := all[0].(models.Error)
	require.True(t, ok)
	assert.Equal(t, models.StopNoItemsFound, failed.Reason)
	assert.Empty(t, failed.Matches)
	assert.Equal(t, 0, e.Status().MatchedCount)
}

func TestScanMatchesFilterTerms(t *testing.T) {
	list := []job{
		{title: "Backend", href: "/fragments/rust.html", detail: "Expert in Rust development. " + longDetail},
		{title: "Enterprise", href: "/fragments/java.html", detail: "Java only. " + strings.Repeat("Spring and JVM tuning. ", 5)},
	}
	page := openPage(t, map[string]string{"/p.html": listingPage(list, "")}, fragmentsFor(list), "/p.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{Filter: "python, rust"})

	matched := rec.ofKind(models.KindMatched)
	require.Len(t, matched, 1)
	assert.Equal(t, "Backend", matched[0].(models.Matched).Record.Title)
	assert.Len(t, rec.ofKind(models.KindProgress), 2)
}

func TestMatchLogNamesFoundTerms(t *testing.T) {
	var buf bytes.Buffer
	prev := zlog.Logger
	zlog.Logger = zerolog.New(&buf)
	t.Cleanup(func() { zlog.Logger = prev })

	list := []job{{title: "Backend", href: "/fragments/rust.html", detail: "Rust and Go services. " + longDetail}}
	page := openPage(t, map[string]string{"/p.html": listingPage(list, "")}, fragmentsFor(list), "/p.html")
	e, _ := newEngine(page, Options{})

	run(t, e, models.ScanParams{Filter: "python, rust, go"})

	var match map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "✅ Match" {
			match = entry
		}
	}
	require.NotNil(t, match)
	assert.Equal(t, []any{"rust", "go"}, match["terms"])
	assert.Equal(t, "Backend", match["title"])
}

func TestPerPageCapLimitsItemsBeforePagination(t *testing.T) {
	first, second := jobs("First", 5), jobs("Second", 2)
	pages := map[string]string{
		"/page1.html": listingPage(first, "/page2.html"),
		"/page2.html": listingPage(second, ""),
	}
	page := openPage(t, pages, fragmentsFor(first, second), "/page1.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{PerPageCap: 2})

	var perPage = map[int]int{}
	var starts []models.PageStarted
	for _, ev := range rec.all() {
		switch ev := ev.(type) {
		case models.Progress:
			perPage[ev.Page]++
			assert.Equal(t, 2, ev.Total)
		case models.PageStarted:
			starts = append(starts, ev)
		}
	}
	assert.Equal(t, map[int]int{1: 2, 2: 2}, perPage)
	assert.Equal(t, []models.PageStarted{{Total: 2, Page: 1}, {Total: 2, Page: 2}}, starts)

	done := rec.terminal(t).(models.Completed)
	assert.Equal(t, models.StopExhausted, done.Reason)
	require.Len(t, done.Matches, 4)
	assert.Equal(t, 3, done.Matches[2].Seq)
	assert.Equal(t, 1, done.Matches[2].Index, "page-local index restarts")
	assert.Equal(t, 2, done.Matches[2].Page)
}

func TestPageLoadFailedWhenListingNeverChanges(t *testing.T) {
	list := jobs("Job", 2)
	page := openPage(t, map[string]string{"/page1.html": listingPage(list, "/missing.html")}, fragmentsFor(list), "/page1.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{})

	failed, ok := rec.terminal(t).(models.Error)
	require.True(t, ok)
	assert.Equal(t, models.StopPageLoadFailed, failed.Reason)
	assert.Len(t, failed.Matches, 2)
	assert.Len(t, rec.ofKind(models.KindPageStarted), 1, "no further pages attempted")
}

func TestStopMidPageSkipsPagination(t *testing.T) {
	list := jobs("Job", 5)
	page := openPage(t, map[string]string{
		"/page1.html": listingPage(list, "/page2.html"),
		"/page2.html": listingPage(jobs("Other", 1), ""),
	}, fragmentsFor(list), "/page1.html")

	var e *Engine
	var stopped []models.MatchRecord
	e, rec := newEngine(page, Options{Sink: SinkFunc(func(ev models.Event) {
		if m, ok := ev.(models.Matched); ok && m.Record.Seq == 2 {
			stopped = e.Stop()
		}
	})})

	run(t, e, models.ScanParams{})

	done, ok := rec.terminal(t).(models.Completed)
	require.True(t, ok)
	assert.Equal(t, models.StopUser, done.Reason)
	assert.Len(t, stopped, 2)
	assert.Equal(t, stopped, done.Matches)
	assert.Len(t, rec.ofKind(models.KindPageStarted), 1)

	u, err := page.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/page1.html", u)
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	list := jobs("Job", 3)
	page := openPage(t, map[string]string{"/p.html": listingPage(list, "")}, fragmentsFor(list), "/p.html")

	release := make(chan struct{})
	e, rec := newEngine(page, Options{Sink: SinkFunc(func(ev models.Event) {
		if ev.Kind() == models.KindPageStarted {
			<-release
		}
	})})

	started, err := e.Start(context.Background(), models.ScanParams{})
	require.NoError(t, err)
	require.True(t, started)
	before := e.Status()

	again, err := e.Start(context.Background(), models.ScanParams{Filter: "other"})
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, before, e.Status())
	assert.True(t, before.Running)

	close(release)
	e.Wait()

	assert.Len(t, rec.ofKind(models.KindCompleted), 1)
	assert.Len(t, rec.ofKind(models.KindMatched), 3, "original empty filter still applies")
}

func TestStartRejectsInvalidParams(t *testing.T) {
	page := openPage(t, map[string]string{"/p.html": listingPage(nil, "")}, nil, "/p.html")
	e, _ := newEngine(page, Options{})

	started, err := e.Start(context.Background(), models.ScanParams{BaseDelay: -time.Second})

	assert.False(t, started)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRestartAfterFinish(t *testing.T) {
	list := jobs("Job", 1)
	page := openPage(t, map[string]string{"/p.html": listingPage(list, "")}, fragmentsFor(list), "/p.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{})
	run(t, e, models.ScanParams{})

	completed := rec.ofKind(models.KindCompleted)
	require.Len(t, completed, 2)
	assert.NotEqual(t, completed[0].(models.Completed).SessionID, completed[1].(models.Completed).SessionID)
	assert.Len(t, completed[1].(models.Completed).Matches, 1, "matches do not leak between sessions")
}

func TestMaxPagesEndsExhaustedWithoutAdvancing(t *testing.T) {
	list := jobs("Job", 2)
	page := openPage(t, map[string]string{
		"/page1.html": listingPage(list, "/page2.html"),
		"/page2.html": listingPage(jobs("Other", 1), ""),
	}, fragmentsFor(list), "/page1.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{MaxPages: 1})

	done := rec.terminal(t).(models.Completed)
	assert.Equal(t, models.StopExhausted, done.Reason)
	u, _ := page.URL(context.Background())
	assert.Equal(t, "/page1.html", u)
}

func TestLazyLoadedItemsAreProcessedOnSamePage(t *testing.T) {
	list := jobs("Job", 2)
	more := jobs("More", 2)
	html := strings.Replace(listingPage(list, ""), `<ul class="list">`, `<ul class="list" data-more="/fragments/more.html">`, 1)
	fragments := fragmentsFor(list, more)
	var extra strings.Builder
	for _, j := range more {
		fmt.Fprintf(&extra, `<li class="item"><span class="title">%s</span><a class="link" href="%s">open</a></li>`, j.title, j.href)
	}
	fragments["/fragments/more.html"] = extra.String()

	page := openPage(t, map[string]string{"/p.html": html}, fragments, "/p.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{})

	progress := rec.ofKind(models.KindProgress)
	require.Len(t, progress, 4)
	last := progress[3].(models.Progress)
	assert.Equal(t, 4, last.Current)
	assert.Equal(t, 4, last.Total)
	assert.Equal(t, "More 2", last.Title)
	assert.Len(t, rec.ofKind(models.KindPageStarted), 1)
}

func TestSkipSeenLinks(t *testing.T) {
	list := []job{
		{title: "Original", href: "/fragments/shared.html", detail: longDetail},
		{title: "Repost", href: "/fragments/shared.html", detail: longDetail},
	}
	page := openPage(t, map[string]string{"/p.html": listingPage(list, "")}, fragmentsFor(list), "/p.html")
	e, rec := newEngine(page, Options{SkipSeen: true})

	run(t, e, models.ScanParams{})

	progress := rec.ofKind(models.KindProgress)
	require.Len(t, progress, 2)
	assert.False(t, progress[0].(models.Progress).Skipped)
	assert.True(t, progress[1].(models.Progress).Skipped)
	assert.Equal(t, []string{"/fragments/shared.html"}, page.Clicks())
	assert.Len(t, rec.ofKind(models.KindMatched), 1)
}

func TestTitleAndLinkFallbacks(t *testing.T) {
	html := `<html><body><ul class="list"><li class="item" data-href="/fragments/x.html">no title</li></ul><div id="detail"></div></body></html>`
	page := openPage(t, map[string]string{"/p.html": html}, map[string]string{"/fragments/x.html": longDetail}, "/p.html")
	e, rec := newEngine(page, Options{})

	run(t, e, models.ScanParams{})

	matched := rec.ofKind(models.KindMatched)
	require.Len(t, matched, 1)
	r := matched[0].(models.Matched).Record
	assert.Equal(t, models.UnknownTitle, r.Title)
	assert.Equal(t, "/p.html", r.Link)
	assert.Equal(t, []string{"/fragments/x.html"}, page.Clicks(), "item itself is clicked without a link")
}
