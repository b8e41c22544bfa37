package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"listing-scanner/pkg/elastic"
	"listing-scanner/pkg/models"

	"github.com/rs/zerolog/log"
)

// ResultsFile is the name of the JSON results written into the output dir.
const ResultsFile = "results.json"

// ProgressLogger logs the non-terminal events the engine does not log itself.
type ProgressLogger struct{}

func (ProgressLogger) Publish(ev models.Event) {
	switch ev := ev.(type) {
	case models.PageStarted:
		log.Info().Int("page", ev.Page).Int("total", ev.Total).Msg("🔍 Scanning page")
	case models.Progress:
		if ev.Skipped {
			log.Info().Int("current", ev.Current).Int("total", ev.Total).Str("title", ev.Title).Msg("⏭️ Skipped")
			return
		}
		log.Info().
			Int("current", ev.Current).
			Int("total", ev.Total).
			Int("page", ev.Page).
			Str("title", ev.Title).
			Float64("wait_s", float64(ev.ComputedDelayMs())/1000).
			Msg("📡 Opening item")
	}
}

// FileSink writes results.json, and optionally the text report, when a
// session ends.
type FileSink struct {
	Dir    string
	Filter string
	Report bool
	Now    func() time.Time
}

func (s FileSink) Publish(ev models.Event) {
	var matches []models.MatchRecord
	switch ev := ev.(type) {
	case models.Completed:
		matches = ev.Matches
	case models.Error:
		matches = ev.Matches
	default:
		return
	}

	path, err := SaveResults(s.Dir, matches)
	if err != nil {
		log.Error().Err(err).Msg("❌ Results could not be saved")
	} else {
		log.Info().Int("matches", len(matches)).Str("file", path).Msg("💾 Results saved")
	}

	if !s.Report {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	report, err := WriteReport(s.Dir, s.Filter, now(), matches)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("❌ Report could not be written")
	case report != "":
		log.Info().Str("file", report).Msg("📝 Report written")
	}
}

// SaveResults writes matches as indented JSON into dir/results.json.
func SaveResults(dir string, matches []models.MatchRecord) (string, error) {
	if matches == nil {
		matches = []models.MatchRecord{}
	}
	data, err := json.MarshalIndent(matches, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}

// LoadResults reads a results file written by SaveResults.
func LoadResults(path string) ([]models.MatchRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var matches []models.MatchRecord
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return matches, nil
}

// Indexer is the part of elastic.Client the sink needs.
type Indexer interface {
	IndexDocument(ctx context.Context, doc elastic.Document) error
}

// ElasticSink indexes every match from a background worker. Publish returns
// at once while the queue has room and waits for room once buffer documents
// are pending, so no match is dropped. Close drains the queue; Publish must
// not be called after Close.
type ElasticSink struct {
	client  Indexer
	filter  string
	timeout time.Duration
	queue   chan elastic.Document
	wg      sync.WaitGroup
}

func NewElasticSink(client Indexer, filter string, buffer int, timeout time.Duration) *ElasticSink {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &ElasticSink{
		client:  client,
		filter:  filter,
		timeout: timeout,
		queue:   make(chan elastic.Document, buffer),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *ElasticSink) Publish(ev models.Event) {
	m, ok := ev.(models.Matched)
	if !ok {
		return
	}
	s.queue <- elastic.NewDocument(m.SessionID, s.filter, m.Record)
}

func (s *ElasticSink) worker() {
	defer s.wg.Done()
	for doc := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.client.IndexDocument(ctx, doc); err != nil {
			log.Error().
				Err(err).
				Int("seq", doc.Seq).
				Str("link", doc.Link).
				Msg("❌ Match could not be sent to Elasticsearch")
		}
		cancel()
	}
}

// Close waits until every queued document was sent.
func (s *ElasticSink) Close() {
	close(s.queue)
	s.wg.Wait()
}

// MatchSaver is the part of store.Store the sink needs.
type MatchSaver interface {
	SaveMatch(ctx context.Context, sessionID, filter string, rec models.MatchRecord) error
}

// StoreSink persists every match as it is found.
type StoreSink struct {
	Store  MatchSaver
	Filter string
}

func (s StoreSink) Publish(ev models.Event) {
	m, ok := ev.(models.Matched)
	if !ok {
		return
	}
	if err := s.Store.SaveMatch(context.Background(), m.SessionID, s.Filter, m.Record); err != nil {
		log.Error().Err(err).Int("seq", m.Record.Seq).Msg("❌ Match could not be stored")
	}
}
