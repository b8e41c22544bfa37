package models

import (
	"fmt"
	"time"
)

// UnknownTitle is used when no title source resolves for an item.
const UnknownTitle = "Unknown Title"

// SelectorSpec describes one lookup strategy for a locator role (config.yaml).
type SelectorSpec struct {
	CSS      string   `json:"css,omitempty" mapstructure:"css"`
	Tag      string   `json:"tag,omitempty" mapstructure:"tag"`
	Attr     string   `json:"attr,omitempty" mapstructure:"attr"`
	Contains string   `json:"contains,omitempty" mapstructure:"contains"`
	Exclude  []string `json:"exclude,omitempty" mapstructure:"exclude"`
	Text     string   `json:"text,omitempty" mapstructure:"text"`
	Href     string   `json:"href,omitempty" mapstructure:"href"`
}

// ScanParams are the arguments of a Start command.
type ScanParams struct {
	Filter     string        `json:"filter"`
	BaseDelay  time.Duration `json:"base_delay"`
	PerPageCap int           `json:"per_page_cap"`
	MaxPages   int           `json:"max_pages"`
}

// Validate rejects negative values.
func (p ScanParams) Validate() error {
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if p.PerPageCap < 0 {
		return fmt.Errorf("per-page cap cannot be negative")
	}
	if p.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	return nil
}

// Item is one listing entry resolved on the current page.
type Item struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Link  string `json:"link,omitempty"`
}

// Timing holds the fixed suspension points of the scan loop.
type Timing struct {
	ClickSettle   time.Duration `mapstructure:"click_settle"`
	DetailExtra   time.Duration `mapstructure:"detail_extra"`
	LazyLoadWait  time.Duration `mapstructure:"lazy_load_wait"`
	PageConfirm   time.Duration `mapstructure:"page_confirm"`
	PageSettle    time.Duration `mapstructure:"page_settle"`
	LazyLoadSlack int           `mapstructure:"lazy_load_slack"`
}

// DefaultTiming returns the stock timings.
func DefaultTiming() Timing {
	return Timing{
		ClickSettle:   300 * time.Millisecond,
		DetailExtra:   2 * time.Second,
		LazyLoadWait:  1500 * time.Millisecond,
		PageConfirm:   8 * time.Second,
		PageSettle:    2 * time.Second,
		LazyLoadSlack: 3,
	}
}

// MatchRecord is an immutable match, numbered cumulatively within a session.
type MatchRecord struct {
	Seq       int       `json:"seq"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Page      int       `json:"page"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

// Status answers GetStatus.
type Status struct {
	SessionID    string `json:"session_id,omitempty"`
	Running      bool   `json:"running"`
	Page         int    `json:"page"`
	CurrentIndex int    `json:"current_index"`
	MatchedCount int    `json:"matched_count"`
}

// StopReason is why a session left the Running state.
type StopReason string

const (
	StopUser           StopReason = "user_stop"
	StopNoItemsFound   StopReason = "no_items_found"
	StopPageLoadFailed StopReason = "page_load_failed"
	StopExhausted      StopReason = "exhausted"
)

// Failed reports whether the reason is reported through an Error event.
func (r StopReason) Failed() bool {
	return r == StopNoItemsFound || r == StopPageLoadFailed
}

// EventKind tags the event stream records.
type EventKind string

const (
	KindPageStarted EventKind = "page_started"
	KindProgress    EventKind = "progress"
	KindMatched     EventKind = "matched"
	KindCompleted   EventKind = "completed"
	KindError       EventKind = "error"
)

// Event is a transient message from the engine to the control surface.
type Event interface {
	Kind() EventKind
}

type PageStarted struct {
	Total int `json:"total"`
	Page  int `json:"page"`
}

type Progress struct {
	Current       int           `json:"current"`
	Total         int           `json:"total"`
	Page          int           `json:"page"`
	Title         string        `json:"title"`
	ComputedDelay time.Duration `json:"computed_delay"`
	Skipped       bool          `json:"skipped,omitempty"`
}

type Matched struct {
	SessionID string      `json:"session_id"`
	Record    MatchRecord `json:"record"`
}

type Completed struct {
	SessionID string        `json:"session_id"`
	Reason    StopReason    `json:"reason"`
	Matches   []MatchRecord `json:"matches"`
}

type Error struct {
	SessionID string        `json:"session_id"`
	Reason    StopReason    `json:"reason"`
	Message   string        `json:"message"`
	Matches   []MatchRecord `json:"matches"`
}

func (PageStarted) Kind() EventKind { return KindPageStarted }
func (Progress) Kind() EventKind    { return KindProgress }
func (Matched) Kind() EventKind     { return KindMatched }
func (Completed) Kind() EventKind   { return KindCompleted }
func (Error) Kind() EventKind       { return KindError }

// ComputedDelayMs is the delay in milliseconds, as displayed by the UI.
func (p Progress) ComputedDelayMs() int64 {
	return p.ComputedDelay.Milliseconds()
}
