package elastic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"listing-scanner/pkg/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"
)

// TimestampFormat is the @timestamp layout of indexed documents.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Document is the indexed form of a match.
type Document struct {
	SessionID string `json:"session_id"`
	Filter    string `json:"filter"`
	Seq       int    `json:"seq"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Page      int    `json:"page"`
	Index     int    `json:"index"`
	Timestamp string `json:"@timestamp"`
}

// NewDocument builds the document for rec found by a session.
func NewDocument(sessionID, filter string, rec models.MatchRecord) Document {
	return Document{
		SessionID: sessionID,
		Filter:    filter,
		Seq:       rec.Seq,
		Title:     rec.Title,
		Link:      rec.Link,
		Page:      rec.Page,
		Index:     rec.Index,
		Timestamp: rec.Timestamp.UTC().Format(TimestampFormat),
	}
}

// Client indexes match documents.
type Client struct {
	client *elasticsearch.Client
	index  string
}

// Option customizes the underlying elasticsearch.Config.
type Option func(*elasticsearch.Config)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *elasticsearch.Config) { cfg.Transport = rt }
}

// NewClient creates a client for one index.
func NewClient(url, username, password, index string, skipVerify bool, maxRetries int, backoff time.Duration, opts ...Option) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
		Username:  username,
		Password:  password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: skipVerify,
			},
		},
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    maxRetries,
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * backoff
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Client{client: client, index: index}, nil
}

// Index is the target index name.
func (c *Client) Index() string { return c.index }

// TestConnection checks that the cluster answers.
func (c *Client) TestConnection(ctx context.Context) error {
	res, err := c.client.Info(c.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("✅ Elasticsearch connection ok")
	return nil
}

// BuildDocumentID derives a stable ID from the session and the match
// sequence number, so a re-sent match overwrites instead of duplicating while
// matches sharing a link stay distinct.
func BuildDocumentID(sessionID string, seq int) string {
	session := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(session[:])[:32] + "-" + strconv.Itoa(seq)
}

// IndexDocument sends a single document.
func (c *Client) IndexDocument(ctx context.Context, doc Document) error {
	docID := BuildDocumentID(doc.SessionID, doc.Seq)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := c.client.Index(
		c.index,
		bytes.NewReader(data),
		c.client.Index.WithContext(ctx),
		c.client.Index.WithDocumentID(docID),
		c.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.String())
	}

	log.Info().
		Str("index", c.index).
		Str("doc_id", docID).
		Int("seq", doc.Seq).
		Msg("✅ Match indexed")
	return nil
}

// BulkIndex sends docs through a bulk indexer and returns how many were
// accepted and how many failed.
func (c *Client) BulkIndex(ctx context.Context, docs []Document) (int64, int64, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.client,
		Index:      c.index,
		NumWorkers: 2,
		Refresh:    "true",
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var failed atomic.Int64
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			failed.Add(1)
			continue
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: BuildDocumentID(doc.SessionID, doc.Seq),
			Body:       bytes.NewReader(data),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err != nil {
					log.Error().Err(err).Str("doc_id", item.DocumentID).Msg("❌ Bulk item failed")
					return
				}
				log.Error().Str("doc_id", item.DocumentID).Str("reason", res.Error.Reason).Msg("❌ Bulk item rejected")
			},
		})
		if err != nil {
			return 0, failed.Load(), fmt.Errorf("failed to queue document: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return 0, failed.Load(), fmt.Errorf("failed to flush bulk indexer: %w", err)
	}

	stats := bi.Stats()
	return int64(stats.NumIndexed), failed.Load(), nil
}

// Close releases the client.
func (c *Client) Close() error {
	log.Info().Msg("🔌 Elasticsearch client closed")
	return nil
}
