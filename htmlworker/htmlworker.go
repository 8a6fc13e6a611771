// Package htmlworker extracts candidate URLs out of fetched HTML pages,
// enforces a per-host fairness cap so one page can't flood the reservoir
// with links to a single domain, and filters out URLs already seen before
// handing the survivors to the reservoir.
package htmlworker

import (
	"log"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/tonimc/cssgrubber/bloom"
	"github.com/tonimc/cssgrubber/reservoir"
)

// MaxURLsPerPage bounds how many regex matches a single page contributes,
// regardless of how many appear in its markup.
const MaxURLsPerPage = 2000

// MaxURLsPerHostPerPage bounds how many of those matches may share a
// single host, so one page linking 2,000 times to itself can't crowd out
// every other discovered domain. A host's first match is always admitted
// and up to MaxURLsPerHostPerPage more after it, so one page contributes
// at most MaxURLsPerHostPerPage+1 links per host.
const MaxURLsPerHostPerPage = 5

// linkPattern matches the values following href=, src=, and url=, with
// or without an opening quote, stopping at the first quote, space, or
// angle bracket. CSS url(...) references are not matched.
var linkPattern = regexp.MustCompile(`(?:href=|src=|url=)["']?([^"' <>]*)`)

// Page is one fetched document handed to the worker: the URL it was
// fetched from (used to resolve relative links) and its raw body.
type Page struct {
	URL  string
	Body []byte
}

// Worker reads Pages from In, extracts links, and pushes survivors into
// Reservoir. Seen is consulted (never updated) to drop URLs the Enqueuer
// has already dispatched.
type Worker struct {
	In          <-chan Page
	Reservoir   *reservoir.Reservoir
	ReservoirMu *sync.Mutex
	Seen        *bloom.SeenSet
	Logger      *log.Logger

	// PagesProcessed counts how many pages this worker has scanned for
	// links, mirroring the original's htmls_crawled counter.
	PagesProcessed uint64
}

// New constructs a Worker wired to the given channel, shared reservoir,
// and shared seen-set.
func New(in <-chan Page, res *reservoir.Reservoir, resMu *sync.Mutex, seen *bloom.SeenSet, logger *log.Logger) *Worker {
	return &Worker{In: in, Reservoir: res, ReservoirMu: resMu, Seen: seen, Logger: logger}
}

// Run processes Pages from In until it's closed. It's meant to be called
// from its own goroutine.
func (w *Worker) Run() {
	urls := make([]string, 0, MaxURLsPerPage)
	type hostCount struct {
		host  string
		count int
	}
	hosts := make([]hostCount, 0, MaxURLsPerPage)

	for page := range w.In {
		base, err := url.Parse(page.URL)
		if err != nil {
			w.Logger.Printf("parse base url %q: %v", page.URL, err)
			continue
		}
		if !utf8.Valid(page.Body) {
			w.Logger.Printf("page %q body is not valid utf-8", page.URL)
			continue
		}
		body := string(page.Body)

		urls = urls[:0]
		hosts = hosts[:0]

		matches := linkPattern.FindAllStringSubmatch(body, MaxURLsPerPage)
		for _, m := range matches {
			resolved, err := base.Parse(m[1])
			if err != nil {
				continue
			}
			host := resolved.Host
			if host == "" {
				continue
			}

			surpassed := false
			found := false
			for i := range hosts {
				if hosts[i].host == host {
					found = true
					if hosts[i].count < MaxURLsPerHostPerPage {
						hosts[i].count++
					} else {
						surpassed = true
					}
					break
				}
			}
			if !found {
				hosts = append(hosts, hostCount{host: host, count: 0})
			}
			if surpassed {
				continue
			}

			urls = append(urls, resolved.String())
		}

		sort.Strings(urls)
		urls = dedupSorted(urls)

		if len(urls) > 0 {
			urls = filterSeen(urls, w.Seen)
		}

		if len(urls) > 0 {
			w.ReservoirMu.Lock()
			w.Reservoir.Add(urls)
			w.ReservoirMu.Unlock()
		}

		w.PagesProcessed++
	}
}

// dedupSorted removes consecutive duplicates from a sorted slice in
// place, matching Vec::dedup's contract.
func dedupSorted(urls []string) []string {
	if len(urls) < 2 {
		return urls
	}
	out := urls[:1]
	for _, u := range urls[1:] {
		if u != out[len(out)-1] {
			out = append(out, u)
		}
	}
	return out
}

// filterSeen drops every url already marked in seen, preserving order.
func filterSeen(urls []string, seen *bloom.SeenSet) []string {
	out := urls[:0]
	for _, u := range urls {
		if !seen.Contains([]byte(u)) {
			out = append(out, u)
		}
	}
	return out
}
