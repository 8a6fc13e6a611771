// Package crawler wires the reservoir, seen-set, and five long-lived
// stages (fetcher, HTML worker, CSS worker, enqueuer, reporter) into a
// single running crawl, and owns its configuration and graceful
// shutdown.
package crawler

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tonimc/cssgrubber/bloom"
	"github.com/tonimc/cssgrubber/cssworker"
	"github.com/tonimc/cssgrubber/enqueuer"
	"github.com/tonimc/cssgrubber/env"
	"github.com/tonimc/cssgrubber/fetcher"
	"github.com/tonimc/cssgrubber/htmlworker"
	"github.com/tonimc/cssgrubber/messaging"
	"github.com/tonimc/cssgrubber/reporter"
	"github.com/tonimc/cssgrubber/reservoir"
)

const (
	// defaultURIChannelCapacity is B, the bounded URI channel between the
	// Enqueuer and the Fetcher.
	defaultURIChannelCapacity = 2048
	// defaultBodyChannelCapacity sizes the Fetcher's HTML/CSS output
	// channels; small, since these are consumed promptly by their workers.
	defaultBodyChannelCapacity = 64
	// defaultConcurrency is C, the Fetcher's in-flight GET count.
	defaultConcurrency int64 = 128
	// defaultFetchTimeout is T_get.
	defaultFetchTimeout = 10 * time.Second
	// defaultReportInterval is T_report.
	defaultReportInterval = 30 * time.Second
	// defaultMaxLinksPerPage is M_u.
	defaultMaxLinksPerPage = htmlworker.MaxURLsPerPage
	// defaultHostFairnessCap is F.
	defaultHostFairnessCap = htmlworker.MaxURLsPerHostPerPage
	// defaultUserAgent identifies this crawler to remote servers.
	defaultUserAgent = "Mozilla/5.0 (compatible; cssgrubber/1.0; +http://cssdb.co)"
	// defaultCSSDir is where sanitised stylesheets are written.
	defaultCSSDir = "css"
	// defaultReportPath is where the Reporter appends its snapshots.
	defaultReportPath = "report.txt"
)

// defaultSeenSetSeeds address the shared seen-set (the Large approximate
// set the Enqueuer marks and the HTML worker filters against).
var defaultSeenSetSeeds = []uint32{0xb77c92ec, 0x660208ac}

// CrawlerSettings represents general settings for the crawl and its
// stages.
type CrawlerSettings struct {
	// SeedURLs is the initial frontier. Defaults to http://cssdb.co.
	SeedURLs []string
	// UserAgent is the User-Agent header set on every GET.
	UserAgent string

	// URIChannelCapacity is B.
	URIChannelCapacity int
	// BodyChannelCapacity sizes the Fetcher's HTML/CSS output channels.
	BodyChannelCapacity int
	// FetchConcurrency is C, the Fetcher's in-flight GET count.
	FetchConcurrency int64
	// FetchTimeout is T_get.
	FetchTimeout time.Duration

	// EnqueuerBatchSize selects the single-URL (1) or batch-drain (>1)
	// Enqueuer loop variant.
	EnqueuerBatchSize int
	// EnqueuerSleepPerIteration is T_send, the pause after a successful
	// send.
	EnqueuerSleepPerIteration time.Duration
	// EnqueuerSleepOnEmpty is T_empty.
	EnqueuerSleepOnEmpty time.Duration
	// EnqueuerSleepOnFull is T_full.
	EnqueuerSleepOnFull time.Duration

	// ReportInterval is T_report.
	ReportInterval time.Duration
	// ReportPath is where the Reporter appends its snapshots.
	ReportPath string

	// CSSDir is where sanitised stylesheets are written.
	CSSDir string

	// SeenSetSeeds address the shared Large approximate set.
	SeenSetSeeds []uint32
}

// CrawlerOpt is a type definition for the option pattern used while
// constructing a Crawler.
type CrawlerOpt func(*CrawlerSettings)

// WithSeedURLs overrides the crawl's starting frontier.
func WithSeedURLs(urls ...string) CrawlerOpt {
	return func(s *CrawlerSettings) { s.SeedURLs = urls }
}

// WithFetchConcurrency overrides C.
func WithFetchConcurrency(c int64) CrawlerOpt {
	return func(s *CrawlerSettings) { s.FetchConcurrency = c }
}

// WithURIChannelCapacity overrides B.
func WithURIChannelCapacity(b int) CrawlerOpt {
	return func(s *CrawlerSettings) { s.URIChannelCapacity = b }
}

// WithEnqueuerBatchSize overrides the Enqueuer's drain batch size.
func WithEnqueuerBatchSize(n int) CrawlerOpt {
	return func(s *CrawlerSettings) { s.EnqueuerBatchSize = n }
}

// Crawler is the supervisor that owns every stage of one crawl.
type Crawler struct {
	logger   *log.Logger
	settings *CrawlerSettings

	reservoir   *reservoir.Reservoir
	reservoirMu sync.Mutex
	seenSet     *bloom.SeenSet

	fetcher  *fetcher.Fetcher
	html     *htmlworker.Worker
	css      *cssworker.Worker
	enqueuer *enqueuer.Enqueuer
	reporter *reporter.Reporter
}

// New constructs a Crawler with default settings overridden by opts.
func New(opts ...CrawlerOpt) *Crawler {
	settings := &CrawlerSettings{
		SeedURLs:                  []string{"http://cssdb.co"},
		UserAgent:                 defaultUserAgent,
		URIChannelCapacity:        defaultURIChannelCapacity,
		BodyChannelCapacity:       defaultBodyChannelCapacity,
		FetchConcurrency:          defaultConcurrency,
		FetchTimeout:              defaultFetchTimeout,
		EnqueuerBatchSize:         1,
		EnqueuerSleepPerIteration: enqueuer.DefaultSleepPerIteration,
		EnqueuerSleepOnEmpty:      enqueuer.DefaultSleepOnEmpty,
		EnqueuerSleepOnFull:       enqueuer.DefaultSleepOnFull,
		ReportInterval:            defaultReportInterval,
		ReportPath:                defaultReportPath,
		CSSDir:                    defaultCSSDir,
		SeenSetSeeds:              defaultSeenSetSeeds,
	}

	for _, opt := range opts {
		opt(settings)
	}

	return &Crawler{
		logger:   log.New(os.Stderr, "crawler: ", log.LstdFlags),
		settings: settings,
	}
}

// NewFromEnv constructs a Crawler reading its tunables from environment
// variables, following the teacher's NewFromEnv shape.
func NewFromEnv(opts ...CrawlerOpt) *Crawler {
	c := New(
		append([]CrawlerOpt{func(s *CrawlerSettings) {
			s.UserAgent = env.GetEnv("USER_AGENT", defaultUserAgent)
			s.URIChannelCapacity = env.GetEnvAsInt("URI_CHANNEL_CAPACITY", defaultURIChannelCapacity)
			s.FetchConcurrency = int64(env.GetEnvAsInt("FETCH_CONCURRENCY", int(defaultConcurrency)))
			s.FetchTimeout = env.GetEnvAsDuration("FETCH_TIMEOUT", defaultFetchTimeout)
			s.ReportInterval = env.GetEnvAsDuration("REPORT_INTERVAL", defaultReportInterval)
			s.EnqueuerSleepOnEmpty = env.GetEnvAsDuration("ENQUEUER_SLEEP_ON_EMPTY", enqueuer.DefaultSleepOnEmpty)
			s.EnqueuerSleepOnFull = env.GetEnvAsDuration("ENQUEUER_SLEEP_ON_FULL", enqueuer.DefaultSleepOnFull)
			s.CSSDir = env.GetEnv("CSS_DIR", defaultCSSDir)
			s.ReportPath = env.GetEnv("REPORT_PATH", defaultReportPath)
		}}, opts...)...,
	)
	return c
}

// stats adapts the wired stages to the reporter.Stats interface.
type stats struct {
	c *Crawler
}

func (s stats) URLsEnqueued() uint64 { return s.c.enqueuer.URLsEnqueued() }
func (s stats) URLsGotten() uint64 {
	return s.c.fetcher.Processed() + s.c.fetcher.TimedOut() + s.c.fetcher.Failed()
}
func (s stats) Processed() uint64    { return s.c.fetcher.Processed() }
func (s stats) TimedOut() uint64     { return s.c.fetcher.TimedOut() }
func (s stats) Failed() uint64       { return s.c.fetcher.Failed() }
func (s stats) HTMLsCrawled() uint64 { return s.c.html.PagesProcessed }
func (s stats) CSSWritten() uint64   { return uint64(s.c.css.Written()) }
func (s stats) ReservoirLen() int {
	s.c.reservoirMu.Lock()
	defer s.c.reservoirMu.Unlock()
	return s.c.reservoir.Len()
}

// Crawl wires every stage and runs until the process receives SIGINT or
// SIGTERM, or ctx is cancelled. It blocks until shutdown completes.
func (c *Crawler) Crawl(ctx context.Context) error {
	if err := os.MkdirAll(c.settings.CSSDir, 0o755); err != nil {
		return err
	}

	c.reservoir = reservoir.NewWithDefaultSource(c.settings.SeedURLs)
	c.seenSet = bloom.NewSeenSet(c.settings.SeenSetSeeds...)

	// Each inter-stage handoff is a typed messaging.Queue: the URI queue
	// backs the Enqueuer's non-blocking TryProduce/backpressure-shedding
	// send, the HTML/CSS queues are drained by range over their own
	// channel the way the fetcher's single-producer dispatch wants.
	uriQueue := messaging.NewQueue[string](c.settings.URIChannelCapacity)
	htmlQueue := messaging.NewQueue[htmlworker.Page](c.settings.BodyChannelCapacity)
	cssQueue := messaging.NewQueue[cssworker.Blob](c.settings.BodyChannelCapacity)
	uriCh, htmlCh, cssCh := uriQueue.Chan(), htmlQueue.Chan(), cssQueue.Chan()

	c.fetcher = fetcher.New(uriCh, htmlCh, cssCh, c.settings.UserAgent,
		c.settings.FetchTimeout, c.settings.FetchConcurrency,
		log.New(os.Stderr, "fetcher: ", log.LstdFlags))
	c.html = htmlworker.New(htmlCh, c.reservoir, &c.reservoirMu, c.seenSet,
		log.New(os.Stderr, "htmlworker: ", log.LstdFlags))
	c.css = cssworker.New(cssCh, c.settings.CSSDir,
		log.New(os.Stderr, "cssworker: ", log.LstdFlags))
	c.enqueuer = enqueuer.New(c.reservoir, &c.reservoirMu, c.seenSet, uriQueue,
		log.New(os.Stderr, "enqueuer: ", log.LstdFlags))
	c.enqueuer.BatchSize = c.settings.EnqueuerBatchSize
	c.enqueuer.SleepPerIteration = c.settings.EnqueuerSleepPerIteration
	c.enqueuer.SleepOnEmpty = c.settings.EnqueuerSleepOnEmpty
	c.enqueuer.SleepOnFull = c.settings.EnqueuerSleepOnFull
	c.reporter = reporter.New(stats{c}, c.settings.ReportPath, c.settings.ReportInterval,
		log.New(os.Stderr, "reporter: ", log.LstdFlags))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			c.logger.Println("shutting down")
			cancel()
		case <-runCtx.Done():
		}
	}()

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() { defer wg.Done(); c.html.Run() }()
	go func() { defer wg.Done(); c.css.Run() }()

	wg.Add(1)
	go func() { defer wg.Done(); c.reporter.Run(done) }()

	// enqueuer and fetcher are the only producers into uriCh/htmlCh/cssCh
	// respectively; they're tracked separately so we can wait for both to
	// actually stop sending before closing the channels they write to.
	var producers sync.WaitGroup
	producers.Add(1)
	go func() { defer producers.Done(); c.enqueuer.Run(done) }()
	producers.Add(1)
	go func() { defer producers.Done(); c.fetcher.Run(runCtx) }()

	<-runCtx.Done()
	close(done)
	producers.Wait()
	close(uriCh)
	close(htmlCh)
	close(cssCh)
	wg.Wait()

	c.logger.Println("crawl stopped")
	return nil
}
