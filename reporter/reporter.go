// Package reporter periodically snapshots the crawl's counters and
// reservoir size and appends a human-readable line to a report file.
package reporter

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
)

// Stats is the subset of crawl-wide counters the Reporter snapshots. Each
// stage exposes the pieces it owns; the supervisor wires a Stats
// implementation that reads all of them.
type Stats interface {
	URLsEnqueued() uint64
	URLsGotten() uint64
	Processed() uint64
	TimedOut() uint64
	Failed() uint64
	HTMLsCrawled() uint64
	CSSWritten() uint64
	ReservoirLen() int
}

// Reporter appends one line to Path every Interval, until the done
// channel passed to Run closes.
type Reporter struct {
	Stats    Stats
	Path     string
	Interval time.Duration
	Clock    clock.Clock
	Logger   *log.Logger

	index int
	prev  snapshot
}

type snapshot struct {
	at        time.Time
	enqueued  uint64
	gotten    uint64
	processed uint64
	timedOut  uint64
	failed    uint64
	css       uint64
}

// New constructs a Reporter writing to path every interval.
func New(stats Stats, path string, interval time.Duration, logger *log.Logger) *Reporter {
	return &Reporter{
		Stats:    stats,
		Path:     path,
		Interval: interval,
		Clock:    clock.New(),
		Logger:   logger,
	}
}

// Run appends one report.txt line every Interval until done closes.
// It's meant to be called from its own goroutine.
func (r *Reporter) Run(done <-chan struct{}) {
	r.prev = snapshot{at: r.Clock.Now()}

	t := r.Clock.Ticker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-t.C:
			r.report(now)
		}
	}
}

func (r *Reporter) report(now time.Time) {
	cur := snapshot{
		at:        now,
		enqueued:  r.Stats.URLsEnqueued(),
		gotten:    r.Stats.URLsGotten(),
		processed: r.Stats.Processed(),
		timedOut:  r.Stats.TimedOut(),
		failed:    r.Stats.Failed(),
		css:       r.Stats.CSSWritten(),
	}
	window := cur.at.Sub(r.prev.at).Seconds()
	if window <= 0 {
		window = 1
	}

	processedRate := float64(cur.processed-r.prev.processed) / window
	timedOutRate := float64(cur.timedOut-r.prev.timedOut) / window
	cssRate := float64(cur.css-r.prev.css) / window

	processedPct := percentOf(cur.processed, cur.gotten)
	timedOutPct := percentOf(cur.timedOut, cur.gotten)
	failedPct := percentOf(cur.failed, cur.gotten)

	line := fmt.Sprintf(
		"[report (%d)] urls enqueued: %s, urls gotten: %s, gotten-enqueued: %d, "+
			"processed: %s (%.2f%%, %.2f/s), timeouts: %s (%.2f%%, %.2f/s), "+
			"other errors: %s (%.2f%%), htmls crawled: %s, css written: %s (%.2f/s), "+
			"reservoir size: %s\n",
		r.index,
		humanize.Comma(int64(cur.enqueued)),
		humanize.Comma(int64(cur.gotten)),
		int64(cur.gotten)-int64(cur.enqueued),
		humanize.Comma(int64(cur.processed)), processedPct, processedRate,
		humanize.Comma(int64(cur.timedOut)), timedOutPct, timedOutRate,
		humanize.Comma(int64(cur.failed)), failedPct,
		humanize.Comma(int64(r.Stats.HTMLsCrawled())),
		humanize.Comma(int64(r.Stats.CSSWritten())), cssRate,
		humanize.Comma(int64(r.Stats.ReservoirLen())),
	)

	f, err := os.OpenFile(r.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.Logger.Printf("open %s: %v", r.Path, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		r.Logger.Printf("write %s: %v", r.Path, err)
		return
	}

	r.index++
	r.prev = cur
}

// percentOf returns 100*n/total as a float, or 0 when total is 0.
func percentOf(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
