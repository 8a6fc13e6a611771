// Package cssworker sanitizes, filters, and persists CSS bodies fetched
// from the web: only plain, printable, comment-free stylesheets of
// reasonable size are ever written to disk, and each one is written once.
package cssworker

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tonimc/cssgrubber/bloom"
)

// allowedChars is the whitelist every sanitized stylesheet must stay
// within after lower-casing. Anything outside it (accents, emoji, CJK,
// control characters beyond the few listed) disqualifies the content.
const allowedChars = "abcdefghijklmnopqrstuvwxzy0123456789\n\t\r \"'(){}[]+-*/.,:;_@#%$!?=\\<>~^|&`"

// MinLength and MinNewlines reject content too small to be a meaningful
// stylesheet (single-line snippets, empty rule blocks).
const (
	MinLength   = 50
	MinNewlines = 5
)

var (
	commentPattern   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	blankLinePattern = regexp.MustCompile(`\n{3,}`)
)

// Seed1 and Seed2 address the worker's local content-dedup filter. Two
// seeds, sized for a single process's worth of saved stylesheets.
const (
	Seed1 uint32 = 0x41be6a18
	Seed2 uint32 = 0xb8261088
)

// Blob is one fetched CSS body handed to the worker.
type Blob struct {
	Body []byte
}

// Worker reads Blobs from In, sanitizes them, and writes survivors under
// Dir as cssNNNNNN.css. Dir must already exist.
type Worker struct {
	In  <-chan Blob
	Dir string

	seen   *bloom.Small
	logger *log.Logger

	mu      sync.Mutex
	seq     int
	written int
}

// New constructs a Worker that writes into dir.
func New(in <-chan Blob, dir string, logger *log.Logger) *Worker {
	return &Worker{
		In:     in,
		Dir:    dir,
		seen:   bloom.NewSmall(Seed1, Seed2),
		logger: logger,
	}
}

// Written reports how many stylesheets this worker has saved so far.
func (w *Worker) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Run processes Blobs from In until it's closed. It's meant to be called
// from its own goroutine.
func (w *Worker) Run() {
	for blob := range w.In {
		if err := w.process(blob); err != nil {
			w.logger.Println(err)
		}
	}
}

// process sanitizes and, if it survives every check, persists one blob.
// It returns a non-nil error for every rejection, mirroring the
// original's one eprintln per discard reason, except the final disk
// write itself which can legitimately fail for external reasons.
func (w *Worker) process(blob Blob) error {
	if !utf8.Valid(blob.Body) {
		return fmt.Errorf("css content is not valid utf-8")
	}
	content := strings.ToLower(string(blob.Body))

	if !containsOnlyAllowedChars(content) {
		return fmt.Errorf("css contains disallowed chars")
	}

	content = commentPattern.ReplaceAllString(content, "")
	content = blankLinePattern.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)

	if len(content) <= MinLength {
		return fmt.Errorf("css len less than %d", MinLength)
	}
	if strings.Count(content, "\n") < MinNewlines {
		return fmt.Errorf("css has fewer than %d newline chars", MinNewlines)
	}

	if w.seen.ContainsAdd([]byte(content)) {
		return fmt.Errorf("css was already gathered")
	}

	w.mu.Lock()
	w.seq++
	n := w.seq
	w.mu.Unlock()

	path := filepath.Join(w.Dir, fmt.Sprintf("css%06d.css", n))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	w.mu.Lock()
	w.written++
	w.mu.Unlock()
	return nil
}

// containsOnlyAllowedChars reports whether every rune in s is in the
// fixed CSS character whitelist.
func containsOnlyAllowedChars(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(allowedChars, r) {
			return false
		}
	}
	return true
}
