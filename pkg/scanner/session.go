package scanner

import (
	"sync"
	"time"

	"listing-scanner/pkg/matcher"
	"listing-scanner/pkg/models"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Session is the state of one run, owned by the engine's scan goroutine.
// Readers (Status, Stop) go through its mutex.
type Session struct {
	ID        string
	Params    models.ScanParams
	StartedAt time.Time

	filter matcher.Filter
	seen   *lru.Cache[string, struct{}]

	mu      sync.Mutex
	running bool
	page    int
	index   int
	matches []models.MatchRecord
}

func newSession(params models.ScanParams, startedAt time.Time, seenCapacity int) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Params:    params,
		StartedAt: startedAt,
		filter:    matcher.ParseFilter(params.Filter),
		running:   true,
		page:      1,
	}
	if seenCapacity > 0 {
		seen, err := lru.New[string, struct{}](seenCapacity)
		if err != nil {
			return nil, err
		}
		s.seen = seen
	}
	return s, nil
}

// Filter is the compiled filter of this run.
func (s *Session) Filter() matcher.Filter { return s.filter }

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Matches returns a copy of the accumulated records.
func (s *Session) Matches() []models.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchRecord(nil), s.matches...)
}

func (s *Session) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Status{
		SessionID:    s.ID,
		Running:      s.running,
		Page:         s.page,
		CurrentIndex: s.index,
		MatchedCount: len(s.matches),
	}
}

// halt clears the running flag and returns the matches at that point.
func (s *Session) halt() []models.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return append([]models.MatchRecord(nil), s.matches...)
}

func (s *Session) setIndex(i int) {
	s.mu.Lock()
	s.index = i
	s.mu.Unlock()
}

func (s *Session) nextPage() {
	s.mu.Lock()
	s.page++
	s.index = 0
	s.mu.Unlock()
}

// record appends a match unless the session was halted meanwhile, so that
// Stop's snapshot and the terminal event agree.
func (s *Session) record(it models.Item, at time.Time) (models.MatchRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return models.MatchRecord{}, false
	}
	rec := models.MatchRecord{
		Seq:       len(s.matches) + 1,
		Title:     it.Title,
		Link:      it.Link,
		Page:      s.page,
		Index:     it.Index,
		Timestamp: at,
	}
	s.matches = append(s.matches, rec)
	return rec, true
}

// markSeen reports whether link was already processed, and remembers it.
func (s *Session) markSeen(link string) bool {
	if s.seen == nil {
		return false
	}
	if s.seen.Contains(link) {
		return true
	}
	s.seen.Add(link, struct{}{})
	return false
}
