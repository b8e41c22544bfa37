package browser

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	zlog "github.com/rs/zerolog/log"
)

// StaticPage is an offline Page over in-memory HTML documents. Clicking an
// anchor whose target is a fragment mounts that fragment into the detail
// slot, the way a listing UI fills its side pane; clicking an anchor whose
// target is a page navigates to it. An element carrying data-more appends the
// named fragment to itself the first time it is scrolled to its end.
type StaticPage struct {
	mu        sync.Mutex
	pages     map[string]string
	fragments map[string]string
	slot      string
	current   string
	doc       *goquery.Document
	clicks    []string
}

type staticElement struct {
	sel *goquery.Selection
}

func (e staticElement) String() string {
	name := goquery.NodeName(e.sel)
	if id, ok := e.sel.Attr("id"); ok {
		return name + "#" + id
	}
	if class, ok := e.sel.Attr("class"); ok {
		return name + "." + strings.ReplaceAll(strings.TrimSpace(class), " ", ".")
	}
	return name
}

// NewStaticPage serves pages (URL → HTML) and fragments (href → HTML)
// mounted into the element matching slot.
func NewStaticPage(pages, fragments map[string]string, slot string) *StaticPage {
	if fragments == nil {
		fragments = map[string]string{}
	}
	return &StaticPage{
		pages:     pages,
		fragments: fragments,
		slot:      slot,
	}
}

// LoadStaticSite reads every .html file under dir. Files below fragments/
// become fragments, the rest pages; both are keyed "/<relative path>".
func LoadStaticSite(dir, slot string) (*StaticPage, error) {
	pages := map[string]string{}
	fragments := map[string]string{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".html") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read fixture %s: %w", path, err)
		}
		key := "/" + filepath.ToSlash(rel)
		if strings.HasPrefix(key, "/fragments/") {
			fragments[key] = string(data)
		} else {
			pages[key] = string(data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load static site: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages found in %s", dir)
	}

	zlog.Info().
		Str("dir", dir).
		Int("pages", len(pages)).
		Int("fragments", len(fragments)).
		Msg("📂 Static site loaded")

	return NewStaticPage(pages, fragments, slot), nil
}

// Clicks lists the targets of every click, in order.
func (p *StaticPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *StaticPage) selection(el Element) (*goquery.Selection, error) {
	se, ok := el.(staticElement)
	if !ok {
		return nil, fmt.Errorf("element %v does not belong to this page", el)
	}
	return se.sel, nil
}

func (p *StaticPage) QueryAll(_ context.Context, selector string, scope Element) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return nil, nil
	}
	root := p.doc.Selection
	if scope != nil {
		sel, err := p.selection(scope)
		if err != nil {
			return nil, err
		}
		root = sel
	}

	var elements []Element
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, staticElement{sel: s})
	})
	return elements, nil
}

func (p *StaticPage) Text(_ context.Context, el Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (p *StaticPage) Attribute(_ context.Context, el Element, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	return sel.AttrOr(name, ""), nil
}

func (p *StaticPage) Href(_ context.Context, el Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selection(el)
	if err != nil {
		return "", err
	}
	href := sel.AttrOr("href", "")
	if href == "" {
		return "", nil
	}
	return p.resolve(href), nil
}

func (p *StaticPage) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(p.current)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (p *StaticPage) Interactable(_ context.Context, el Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selection(el)
	if err != nil {
		return false, err
	}
	if _, disabled := sel.Attr("disabled"); disabled {
		return false, nil
	}
	if sel.AttrOr("aria-disabled", "") == "true" {
		return false, nil
	}
	if _, hidden := sel.Attr("hidden"); hidden {
		return false, nil
	}
	if sel.ParentsFiltered("[hidden]").Length() > 0 {
		return false, nil
	}
	style := strings.ReplaceAll(sel.AttrOr("style", ""), " ", "")
	return !strings.Contains(style, "display:none"), nil
}

func (p *StaticPage) ScrollIntoView(_ context.Context, el Element) error {
	_, err := p.selection(el)
	return err
}

// Click follows href (or data-href) to a fragment or a page.
func (p *StaticPage) Click(_ context.Context, el Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sel, err := p.selection(el)
	if err != nil {
		return err
	}
	href := sel.AttrOr("href", sel.AttrOr("data-href", ""))
	if href == "" {
		p.clicks = append(p.clicks, "")
		return nil
	}
	target := p.resolve(href)
	p.clicks = append(p.clicks, target)

	if fragment, ok := p.fragments[target]; ok {
		p.doc.Find(p.slot).SetHtml(fragment)
		return nil
	}
	if _, ok := p.pages[target]; ok {
		return p.load(target)
	}
	return nil
}

func (p *StaticPage) ScrollToEnd(_ context.Context, el Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return nil
	}
	sel := p.doc.Find("body")
	if el != nil {
		s, err := p.selection(el)
		if err != nil {
			return err
		}
		sel = s
	}
	more, ok := sel.Attr("data-more")
	if !ok {
		return nil
	}
	sel.RemoveAttr("data-more")
	if fragment, ok := p.fragments[p.resolve(more)]; ok {
		sel.AppendHtml(fragment)
	}
	return nil
}

func (p *StaticPage) BodyText(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return "", nil
	}
	return strings.TrimSpace(p.doc.Find("body").Text()), nil
}

func (p *StaticPage) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *StaticPage) Navigate(_ context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != "" {
		target = p.resolve(target)
	}
	return p.load(target)
}

func (p *StaticPage) load(target string) error {
	html, ok := p.pages[target]
	if !ok {
		// query parameters select nothing in a static site
		if u, err := url.Parse(target); err == nil {
			html, ok = p.pages[u.Path]
		}
	}
	if !ok {
		return fmt.Errorf("page %s not found", target)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	p.doc = doc
	p.current = target
	return nil
}
