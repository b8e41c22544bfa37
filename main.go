package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"listing-scanner/pkg/browser"
	"listing-scanner/pkg/config"
	"listing-scanner/pkg/detail"
	"listing-scanner/pkg/elastic"
	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/metrics"
	"listing-scanner/pkg/models"
	"listing-scanner/pkg/output"
	"listing-scanner/pkg/pacing"
	"listing-scanner/pkg/paginator"
	"listing-scanner/pkg/proxy"
	"listing-scanner/pkg/scanner"
	"listing-scanner/pkg/store"
)

const (
	defaultFixtureStart = "/index.html"
	shutdownTimeout     = 10 * time.Second
	proxyCheckTimeout   = 30 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "listing-scanner",
	Short: "Paced scan of a paginated listing for items matching a filter",
	Long: `listing-scanner opens every item of a paginated listing in Chrome, waits
for its detail pane, and records the items whose detail text contains one of
the filter terms. It pages forward until the listing is exhausted or it is
interrupted, then writes the matches to the output directory.`,
	SilenceUsage: true,
	RunE:         runScan,
}

func init() {
	f := rootCmd.Flags()
	f.StringP("config", "c", "", "config file (default is ./config.yaml)")
	f.StringP("filter", "f", "", "comma-separated terms, any of which must appear; empty keeps every item")
	f.Duration("delay", 0, "base delay between items, jittered ±25%")
	f.Int("per-page-cap", 0, "items to open per page (0 = all)")
	f.Int("max-pages", 0, "pages to scan (0 = until exhausted)")
	f.String("url", "", "listing URL to open")
	f.String("fixture", "", "directory of static HTML to scan instead of Chrome")

	_ = viper.BindPFlag("scan.filter", f.Lookup("filter"))
	_ = viper.BindPFlag("scan.delay", f.Lookup("delay"))
	_ = viper.BindPFlag("scan.per_page_cap", f.Lookup("per-page-cap"))
	_ = viper.BindPFlag("scan.max_pages", f.Lookup("max-pages"))
	_ = viper.BindPFlag("target.url", f.Lookup("url"))
	_ = viper.BindPFlag("target.fixture", f.Lookup("fixture"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(viper.GetViper(), cfgPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info().Msg("🚀 listing-scanner started")
	log.Info().
		Str("filter", cfg.Scan.Filter).
		Dur("delay", cfg.Scan.Delay).
		Int("per_page_cap", cfg.Scan.PerPageCap).
		Int("max_pages", cfg.Scan.MaxPages).
		Msg("⚙️ Configuration loaded")

	ctx := context.Background()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := serveMetrics(cfg.Metrics.Address, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	page, chrome, closePage, err := openPage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePage()

	table, err := locator.BuildTable(cfg.Selectors)
	if err != nil {
		return err
	}
	loc := locator.New(page, table)
	waiter := pacing.NewWaiter(pacing.WithJitter(cfg.Scan.Jitter))

	var terminal models.Event
	sinks := scanner.Fanout{
		output.ProgressLogger{},
		output.FileSink{Dir: cfg.Output.Dir, Filter: cfg.Scan.Filter, Report: cfg.Output.Report},
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		sinks = append(sinks, output.StoreSink{Store: st, Filter: cfg.Scan.Filter})
	}

	esSink, err := elasticSink(ctx, cfg.Scan.Filter)
	if err != nil {
		return err
	}
	if esSink != nil {
		defer esSink.Close()
		sinks = append(sinks, esSink)
	}

	if chrome != nil && cfg.Output.FailureCapture {
		failureDir := filepath.Join(cfg.Output.Dir, "failure")
		sinks = append(sinks, scanner.SinkFunc(func(ev models.Event) {
			if e, ok := ev.(models.Error); ok {
				chrome.SaveFailure(ctx, failureDir, string(e.Reason))
			}
		}))
	}

	sinks = append(sinks, scanner.SinkFunc(func(ev models.Event) {
		switch ev.Kind() {
		case models.KindCompleted, models.KindError:
			terminal = ev
		}
	}))

	engine := scanner.New(loc, waiter, scanner.Options{
		Timing: cfg.Timing,
		Detail: detail.Options{
			MinLength:    cfg.Detail.MinLength,
			PollInterval: cfg.Detail.PollInterval,
		},
		Pagination: paginator.Options{
			URLFallback:  cfg.Pagination.URLFallback,
			URLParam:     cfg.Pagination.URLParam,
			PollInterval: cfg.Pagination.PollInterval,
		},
		SkipSeen:     cfg.Scan.SkipSeen,
		SeenCapacity: cfg.Scan.SeenCapacity,
		Metrics:      m,
		Sink:         sinks,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if _, err := engine.Start(ctx, cfg.ScanParams()); err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		engine.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutdown signal received")
		engine.Stop()
		<-finished
	}

	logMemoryStats("finished")

	if e, ok := terminal.(models.Error); ok {
		return fmt.Errorf("scan failed: %s", e.Message)
	}
	return nil
}

// setupLogging writes to stdout and a rotating file.
func setupLogging(cfg config.LogConfig) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	multi := zerolog.MultiLevelWriter(console, rotating)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()

	return func() { _ = rotating.Close() }, nil
}

// openPage returns the page to scan. chrome is nil for a fixture.
func openPage(ctx context.Context, cfg config.Config) (browser.Page, *browser.Chrome, func(), error) {
	if cfg.Target.Fixture != "" {
		static, err := browser.LoadStaticSite(cfg.Target.Fixture, cfg.Target.FixtureSlot)
		if err != nil {
			return nil, nil, nil, err
		}
		start := cfg.Target.URL
		if start == "" {
			start = defaultFixtureStart
		}
		if err := static.Navigate(ctx, start); err != nil {
			return nil, nil, nil, err
		}
		return static, nil, func() {}, nil
	}

	opts := browser.Options{
		RemoteURL:    cfg.Browser.RemoteURL,
		Headless:     cfg.Browser.Headless,
		UserDataDir:  cfg.Browser.UserDataDir,
		UserAgent:    cfg.Browser.UserAgent,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		OpTimeout:    cfg.Browser.OpTimeout,
	}

	if addr := cfg.Proxy.Address; addr != "" {
		client, err := proxy.NewClient(addr, cfg.Proxy.Username, cfg.Proxy.Password, proxyCheckTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		checkCtx, cancel := context.WithTimeout(ctx, proxyCheckTimeout)
		err = proxy.Check(checkCtx, client, cfg.Proxy.CheckURL)
		cancel()
		if err != nil {
			return nil, nil, nil, err
		}
		opts.ProxyServer = proxy.ChromeFlag(addr)
		log.Info().Str("proxy", addr).Msg("🧅 Proxy reachable")
	}

	chrome, err := browser.Launch(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := chrome.Navigate(ctx, cfg.Target.URL); err != nil {
		chrome.Close()
		return nil, nil, nil, err
	}
	return chrome, chrome, chrome.Close, nil
}

// elasticSink returns nil when no .env configures Elasticsearch.
func elasticSink(ctx context.Context, filter string) (*output.ElasticSink, error) {
	ecfg, err := config.LoadElasticConfig()
	if errors.Is(err, config.ErrElasticDisabled) {
		log.Info().Msg("Elasticsearch not configured, matches are kept locally")
		return nil, nil
	}
	if err != nil {
		return nil, err
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
		return nil, err
	}
	if err := client.TestConnection(ctx); err != nil {
		return nil, err
	}

	log.Info().Str("url", ecfg.URL).Str("index", ecfg.Index).Msg("📊 Elasticsearch client ready")
	return output.NewElasticSink(client, filter, 0, 0), nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("📈 Metrics endpoint ready")
	return srv
}

func logMemoryStats(phase string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	log.Info().
		Str("phase", phase).
		Uint64("alloc_mb", ms.Alloc/1024/1024).
		Uint64("sys_mb", ms.Sys/1024/1024).
		Uint32("num_gc", ms.NumGC).
		Msg("📊 Memory stats")
}
