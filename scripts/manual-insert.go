package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"listing-scanner/pkg/config"
	"listing-scanner/pkg/elastic"
	"listing-scanner/pkg/models"
	"listing-scanner/pkg/output"
	"listing-scanner/pkg/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cmd = &cobra.Command{
	Use:          "manual-insert [results.json]",
	Short:        "Bulk-index a results file, or a session from the match history, into Elasticsearch",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	cmd.Flags().String("session", "", "session id for the documents (default: new uuid)")
	cmd.Flags().String("store", "", "SQLite match history to read the session from instead of a results file")
	cmd.Flags().String("filter", "", "filter the results were scanned with")
	cmd.Flags().Duration("timeout", 2*time.Minute, "bulk indexing timeout")
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	path := filepath.Join("data", output.ResultsFile)
	if len(args) == 1 {
		path = args[0]
	}
	sessionID, _ := cmd.Flags().GetString("session")
	storePath, _ := cmd.Flags().GetString("store")
	filter, _ := cmd.Flags().GetString("filter")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var matches []models.MatchRecord
	var source string
	var err error
	switch {
	case storePath != "":
		if sessionID == "" {
			return fmt.Errorf("--session is required with --store")
		}
		log.Info().Str("store", storePath).Str("session_id", sessionID).Msg("🚀 Manual insert started")
		matches, err = loadStored(ctx, storePath, sessionID)
		source = storePath
	default:
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		log.Info().Str("file", path).Msg("🚀 Manual insert started")
		matches, err = output.LoadResults(path)
		source = path
	}
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%s holds no matches", source)
	}
	log.Info().Int("matches", len(matches)).Msg("📋 Matches loaded")

	ecfg, err := config.LoadElasticConfig()
	if err != nil {
		return fmt.Errorf("elasticsearch config: %w", err)
	}

	client, err := elastic.NewClient(
		ecfg.URL,
		ecfg.Username,
		ecfg.Password,
		ecfg.Index,
		ecfg.SkipVerify,
		ecfg.MaxRetries,
		ecfg.RetryBackoff,
	)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.TestConnection(ctx); err != nil {
		return err
	}

	docs := make([]elastic.Document, 0, len(matches))
	for _, rec := range matches {
		if rec.Link == "" {
			log.Warn().Int("seq", rec.Seq).Msg("⚠️ Skipping match without a link")
			continue
		}
		docs = append(docs, elastic.NewDocument(sessionID, filter, rec))
	}

	indexed, failed, err := client.BulkIndex(ctx, docs)
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("index", client.Index()).
		Int64("indexed", indexed).
		Int64("failed", failed).
		Msg("📊 Manual insert finished")

	if failed > 0 {
		return fmt.Errorf("%d documents failed to index", failed)
	}
	return nil
}

func loadStored(ctx context.Context, path, sessionID string) ([]models.MatchRecord, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	return st.ListSession(ctx, sessionID)
}
