// Package fetcher issues HTTP GETs for discovered URIs, races each one
// against a per-request timeout, classifies the response by Content-Type,
// and forwards classified bodies downstream to the HTML and CSS workers.
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/tonimc/cssgrubber/cssworker"
	"github.com/tonimc/cssgrubber/htmlworker"
)

// MaxBodyBytes bounds how much of a response body the Fetcher will
// buffer; a larger body is dropped and counted as a failed fetch, not as
// a timeout.
const MaxBodyBytes = 8 << 20 // 8 MiB

// Fetcher reads URIs from In, performs bounded-concurrency GETs, and
// dispatches classified bodies to HTMLOut/CSSOut. It is safe for a single
// call to Run; Run itself fans the work out internally up to
// Concurrency.
type Fetcher struct {
	In      <-chan string
	HTMLOut chan<- htmlworker.Page
	CSSOut  chan<- cssworker.Blob

	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration
	Concurrency int64
	Clock       clock.Clock
	Logger      *log.Logger

	processed uint64
	timedOut  uint64
	failed    uint64
}

// New constructs a Fetcher with keep-alives disabled (per-host traffic is
// one-shot, so connection pooling only wastes file descriptors) and a
// bounded-retry transport for transient errors.
func New(in <-chan string, htmlOut chan<- htmlworker.Page, cssOut chan<- cssworker.Blob, userAgent string, timeout time.Duration, concurrency int64, logger *log.Logger) *Fetcher {
	transport := rehttp.NewTransport(
		&http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
		rehttp.RetryAll(rehttp.RetryMaxRetries(3), rehttp.RetryTemporaryErr()),
		rehttp.ExpJitterDelay(1, 10*time.Second),
	)
	return &Fetcher{
		In:          in,
		HTMLOut:     htmlOut,
		CSSOut:      cssOut,
		Client:      &http.Client{Transport: transport},
		UserAgent:   userAgent,
		Timeout:     timeout,
		Concurrency: concurrency,
		Clock:       clock.New(),
		Logger:      logger,
	}
}

// Processed, TimedOut, and Failed report the Fetcher's running counters.
func (f *Fetcher) Processed() uint64 { return atomic.LoadUint64(&f.processed) }
func (f *Fetcher) TimedOut() uint64  { return atomic.LoadUint64(&f.timedOut) }
func (f *Fetcher) Failed() uint64    { return atomic.LoadUint64(&f.failed) }

// Run admits up to Concurrency in-flight GETs at once from In, dispatching
// each to its own goroutine; new work is admitted as old work completes
// (the Go equivalent of a buffer_unordered(C) future combinator). Run
// blocks until In is closed or ctx is done, and every in-flight request
// has finished.
func (f *Fetcher) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(f.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var uri string
		select {
		case <-ctx.Done():
			return
		case u, ok := <-f.In:
			if !ok {
				return
			}
			uri = u
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			defer sem.Release(1)
			f.fetchOne(ctx, uri)
		}(uri)
	}
}

// fetchResult is what the GET-and-read future below resolves to; kind is
// meaningless when err is non-nil.
type fetchResult struct {
	kind responseKind
	body []byte
	err  error
}

// fetchOne races a single GET-and-read against f.Timeout on f.Clock, the
// same race spec.md §4.5 step 2 and step 4 both describe for the GET
// itself and for reading the body.
func (f *Fetcher) fetchOne(ctx context.Context, uri string) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		atomic.AddUint64(&f.failed, 1)
		f.Logger.Printf("build request for %s: %v", uri, err)
		return
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resultCh := make(chan fetchResult, 1)
	go func() {
		resp, err := f.Client.Do(req)
		if err != nil {
			resultCh <- fetchResult{err: err}
			return
		}
		defer resp.Body.Close()

		kind := classify(resp.Header.Get("Content-Type"))
		if kind == kindOther {
			resultCh <- fetchResult{kind: kindOther}
			return
		}
		body, err := readCapped(resp.Body, MaxBodyBytes)
		if err != nil {
			resultCh <- fetchResult{err: err}
			return
		}
		resultCh <- fetchResult{kind: kind, body: body}
	}()

	timer := f.Clock.Timer(f.Timeout)
	defer timer.Stop()

	var result fetchResult
	select {
	case result = <-resultCh:
	case <-timer.C:
		atomic.AddUint64(&f.timedOut, 1)
		f.Logger.Printf("timeout fetching %s", uri)
		return
	case <-ctx.Done():
		return
	}

	if result.err != nil {
		atomic.AddUint64(&f.failed, 1)
		f.Logger.Printf("fetch %s: %v", uri, result.err)
		return
	}

	switch result.kind {
	case kindHTML:
		select {
		case f.HTMLOut <- htmlworker.Page{URL: uri, Body: result.body}:
		case <-ctx.Done():
			return
		}
	case kindCSS:
		select {
		case f.CSSOut <- cssworker.Blob{Body: result.body}:
		case <-ctx.Done():
			return
		}
	default:
		return
	}

	atomic.AddUint64(&f.processed, 1)
}

type responseKind int

const (
	kindOther responseKind = iota
	kindHTML
	kindCSS
)

// classify inspects a Content-Type header value and buckets it into
// HTML, CSS, or Other. A missing or unparseable header is Other.
func classify(contentType string) responseKind {
	if contentType == "" {
		return kindOther
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return kindOther
	}
	switch mediaType {
	case "text/html":
		return kindHTML
	case "text/css":
		return kindCSS
	default:
		return kindOther
	}
}

// readCapped reads up to limit+1 bytes from r, returning an error if the
// body is larger than limit so an oversized response is treated like a
// failed fetch rather than silently truncated.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}
