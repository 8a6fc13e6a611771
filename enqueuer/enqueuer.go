// Package enqueuer drains discovered URLs out of the reservoir, marks
// each one in the shared seen-set so no other stage dispatches it twice,
// and hands survivors to the fetcher over a bounded channel, shedding
// load under backpressure rather than blocking the whole crawl.
package enqueuer

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tonimc/cssgrubber/bloom"
	"github.com/tonimc/cssgrubber/reservoir"
)

// Sender is the non-blocking handoff the Enqueuer needs from its output
// queue: try to push, report whether there was room. A
// messaging.Queue[string] satisfies this directly.
type Sender interface {
	TryProduce(string) bool
}

// Default sleep durations, named for the condition that triggers them.
// Matches the original crawler's three distinct backoffs: a tight loop
// delay after every successful send, a longer one when the reservoir has
// nothing to offer, and the longest when the downstream channel has been
// refusing sends.
const (
	DefaultSleepPerIteration = 10 * time.Millisecond
	DefaultSleepOnEmpty      = 2 * time.Second
	DefaultSleepOnFull       = 40 * time.Second
)

// Enqueuer is not safe for concurrent use; run exactly one per reservoir.
type Enqueuer struct {
	Reservoir   *reservoir.Reservoir
	ReservoirMu *sync.Mutex
	Seen        *bloom.SeenSet
	Out         Sender
	Clock       clock.Clock
	Logger      *log.Logger

	// BatchSize controls how many URLs are drained from the reservoir per
	// lock acquisition. 1 reproduces the original single-URL loop; >1
	// reproduces its commented-out batch-drain variant, amortising the
	// reservoir lock over several URLs per iteration.
	BatchSize int

	SleepPerIteration time.Duration
	SleepOnEmpty      time.Duration
	SleepOnFull       time.Duration

	mu           sync.Mutex
	urlsEnqueued uint64
}

// New constructs an Enqueuer with the original crawler's default sleep
// durations and a single-URL batch size.
func New(res *reservoir.Reservoir, resMu *sync.Mutex, seen *bloom.SeenSet, out Sender, logger *log.Logger) *Enqueuer {
	return &Enqueuer{
		Reservoir:         res,
		ReservoirMu:       resMu,
		Seen:              seen,
		Out:               out,
		Clock:             clock.New(),
		Logger:            logger,
		BatchSize:         1,
		SleepPerIteration: DefaultSleepPerIteration,
		SleepOnEmpty:      DefaultSleepOnEmpty,
		SleepOnFull:       DefaultSleepOnFull,
	}
}

// URLsEnqueued reports how many URLs have been successfully pushed onto
// Out so far. A URL marked in the seen-set but dropped because Out stayed
// full is not counted.
func (e *Enqueuer) URLsEnqueued() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.urlsEnqueued
}

// Run drains the reservoir forever, until done is closed. It's meant to
// be called from its own goroutine.
func (e *Enqueuer) Run(done <-chan struct{}) {
	batch := e.BatchSize
	if batch < 1 {
		batch = 1
	}
	urls := make([]string, 0, batch)

	for {
		select {
		case <-done:
			return
		default:
		}

		urls = urls[:0]
		e.ReservoirMu.Lock()
		for i := 0; i < batch; i++ {
			u, ok := e.Reservoir.Get()
			if !ok {
				break
			}
			urls = append(urls, u)
		}
		e.ReservoirMu.Unlock()

		if len(urls) == 0 {
			e.Logger.Println("reservoir is empty")
			if !e.sleep(done, e.SleepOnEmpty) {
				return
			}
			continue
		}

		sawFullChannel := false
		for _, u := range urls {
			if e.Seen.ContainsAdd([]byte(u)) {
				e.Logger.Printf("url already used: %s", u)
				continue
			}

			if e.Out.TryProduce(u) {
				e.mu.Lock()
				e.urlsEnqueued++
				e.mu.Unlock()
			} else {
				e.Logger.Printf("channel full, dropping: %s", u)
				sawFullChannel = true
			}
		}

		if sawFullChannel {
			if !e.sleep(done, e.SleepOnFull) {
				return
			}
			continue
		}

		if e.SleepPerIteration > 0 {
			if !e.sleep(done, e.SleepPerIteration) {
				return
			}
		}
	}
}

// sleep waits for d on the Enqueuer's clock, returning early (with false)
// if done closes first.
func (e *Enqueuer) sleep(done <-chan struct{}, d time.Duration) bool {
	t := e.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
