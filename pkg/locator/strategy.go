package locator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"listing-scanner/pkg/browser"
	"listing-scanner/pkg/models"
)

// ErrEmptySpec is returned for a selector spec that sets no lookup.
var ErrEmptySpec = errors.New("selector spec defines no lookup")

// Strategy is one way of finding elements for a role.
type Strategy interface {
	Find(ctx context.Context, page browser.Page, scope browser.Element) ([]browser.Element, error)
	String() string
}

// CSS matches a CSS selector.
type CSS struct {
	Selector string
}

func (s CSS) Find(ctx context.Context, page browser.Page, scope browser.Element) ([]browser.Element, error) {
	return page.QueryAll(ctx, s.Selector, scope)
}

func (s CSS) String() string { return "css(" + s.Selector + ")" }

// AttrContains keeps Tag elements whose attribute contains a substring and
// none of the excluded ones, case-insensitively.
type AttrContains struct {
	Tag      string
	Attr     string
	Contains string
	Exclude  []string
}

func (s AttrContains) Find(ctx context.Context, page browser.Page, scope browser.Element) ([]browser.Element, error) {
	candidates, err := page.QueryAll(ctx, tagOrAny(s.Tag), scope)
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(s.Contains)
	var found []browser.Element
	for _, el := range candidates {
		value, err := page.Attribute(ctx, el, s.Attr)
		if err != nil {
			continue
		}
		value = strings.ToLower(value)
		if value == "" || !strings.Contains(value, want) || containsAny(value, s.Exclude) {
			continue
		}
		found = append(found, el)
	}
	return found, nil
}

func (s AttrContains) String() string {
	return fmt.Sprintf("attr(%s[%s*=%q])", tagOrAny(s.Tag), s.Attr, s.Contains)
}

// TextEquals keeps Tag elements whose trimmed text equals Text.
type TextEquals struct {
	Tag  string
	Text string
}

func (s TextEquals) Find(ctx context.Context, page browser.Page, scope browser.Element) ([]browser.Element, error) {
	candidates, err := page.QueryAll(ctx, tagOrAny(s.Tag), scope)
	if err != nil {
		return nil, err
	}

	var found []browser.Element
	for _, el := range candidates {
		text, err := page.Text(ctx, el)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == s.Text {
			found = append(found, el)
		}
	}
	return found, nil
}

func (s TextEquals) String() string {
	return fmt.Sprintf("text(%s=%q)", tagOrAny(s.Tag), s.Text)
}

// HrefPattern keeps anchors whose href attribute matches Pattern.
type HrefPattern struct {
	Pattern *regexp.Regexp
}

func (s HrefPattern) Find(ctx context.Context, page browser.Page, scope browser.Element) ([]browser.Element, error) {
	candidates, err := page.QueryAll(ctx, "a[href]", scope)
	if err != nil {
		return nil, err
	}

	var found []browser.Element
	for _, el := range candidates {
		href, err := page.Attribute(ctx, el, "href")
		if err != nil {
			continue
		}
		if s.Pattern.MatchString(href) {
			found = append(found, el)
		}
	}
	return found, nil
}

func (s HrefPattern) String() string { return "href(" + s.Pattern.String() + ")" }

// FromSpec builds the strategy a config entry describes.
func FromSpec(spec models.SelectorSpec) (Strategy, error) {
	switch {
	case spec.CSS != "":
		return CSS{Selector: spec.CSS}, nil
	case spec.Attr != "":
		if spec.Contains == "" {
			return nil, fmt.Errorf("attr %q needs a contains value", spec.Attr)
		}
		return AttrContains{Tag: spec.Tag, Attr: spec.Attr, Contains: spec.Contains, Exclude: spec.Exclude}, nil
	case spec.Text != "":
		return TextEquals{Tag: spec.Tag, Text: spec.Text}, nil
	case spec.Href != "":
		re, err := regexp.Compile(spec.Href)
		if err != nil {
			return nil, fmt.Errorf("invalid href pattern %q: %w", spec.Href, err)
		}
		return HrefPattern{Pattern: re}, nil
	}
	return nil, ErrEmptySpec
}

func tagOrAny(tag string) string {
	if tag == "" {
		return "*"
	}
	return tag
}

func containsAny(value string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(value, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
