package browser

import "context"

// Element is an opaque handle to a node owned by a Page. Handles are only
// valid until the page re-renders, so callers re-query instead of caching.
type Element interface {
	String() string
}

// Page is the DOM-facing surface the scan flow acts through.
type Page interface {
	// QueryAll returns the elements matching a CSS selector, inside scope
	// when scope is non-nil. No match is an empty slice, not an error.
	QueryAll(ctx context.Context, selector string, scope Element) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(ctx context.Context, el Element, name string) (string, error)
	// Href returns the resolved link target of an anchor.
	Href(ctx context.Context, el Element) (string, error)
	// Interactable reports whether el is enabled and has a non-zero box.
	Interactable(ctx context.Context, el Element) (bool, error)
	ScrollIntoView(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	// ScrollToEnd scrolls el to its bottom, or the window when el is nil.
	ScrollToEnd(ctx context.Context, el Element) error
	BodyText(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
}
