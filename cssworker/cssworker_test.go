package cssworker

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Ported from the original crawler's css_worker.rs test_contains_only_allowed_chars.
func TestContainsOnlyAllowedChars(t *testing.T) {
	allowed := []string{
		"hello",
		"hello123",
		"hello world !",
		"fn a() -> bool {return true;}",
		"0123456789,.-;:_[]@#! ?\"\n\t\r",
	}
	for _, s := range allowed {
		if !containsOnlyAllowedChars(s) {
			t.Errorf("containsOnlyAllowedChars(%q) = false, want true", s)
		}
	}

	disallowed := []string{
		"Hello",
		"helloª",
		"hello¨",
		"helloÇ",
		"ASD",
	}
	for _, s := range disallowed {
		if containsOnlyAllowedChars(s) {
			t.Errorf("containsOnlyAllowedChars(%q) = true, want false", s)
		}
	}
}

func newTestWorker(t *testing.T) (*Worker, chan Blob) {
	t.Helper()
	dir := t.TempDir()
	in := make(chan Blob, 8)
	logger := log.New(os.Stderr, "cssworker-test: ", 0)
	return New(in, dir, logger), in
}

func longEnoughCSS(selectorCount int) string {
	var b strings.Builder
	for i := 0; i < selectorCount; i++ {
		b.WriteString(".box")
		b.WriteString(string(rune('a' + i)))
		b.WriteString(" {\n\tcolor: red;\n}\n")
	}
	return b.String()
}

func TestValidCSSIsSavedToDisk(t *testing.T) {
	w, in := newTestWorker(t)
	css := longEnoughCSS(6)
	in <- Blob{Body: []byte(css)}
	close(in)
	w.Run()

	if w.Written() != 1 {
		t.Fatalf("Written() = %d, want 1", w.Written())
	}
	data, err := os.ReadFile(filepath.Join(w.Dir, "css000001.css"))
	if err != nil {
		t.Fatalf("reading saved css: %v", err)
	}
	if string(data) != strings.TrimSpace(css) {
		t.Fatalf("saved content = %q, want %q", data, strings.TrimSpace(css))
	}
}

func TestCommentsAndExtraBlankLinesAreStripped(t *testing.T) {
	w, in := newTestWorker(t)
	css := "/* header comment */\n" + longEnoughCSS(6) + "\n\n\n\nextra"
	in <- Blob{Body: []byte(css)}
	close(in)
	w.Run()

	data, err := os.ReadFile(filepath.Join(w.Dir, "css000001.css"))
	if err != nil {
		t.Fatalf("reading saved css: %v", err)
	}
	if strings.Contains(string(data), "/*") {
		t.Fatalf("saved content still has a comment: %q", data)
	}
	if strings.Contains(string(data), "\n\n\n") {
		t.Fatalf("saved content still has 3+ consecutive newlines: %q", data)
	}
}

func TestTooShortCSSIsRejected(t *testing.T) {
	w, in := newTestWorker(t)
	in <- Blob{Body: []byte(".a{color:red}")}
	close(in)
	w.Run()

	if w.Written() != 0 {
		t.Fatalf("Written() = %d, want 0 for too-short css", w.Written())
	}
}

func TestTooFewNewlinesIsRejected(t *testing.T) {
	w, in := newTestWorker(t)
	css := strings.Repeat("a", 60)
	in <- Blob{Body: []byte(css)}
	close(in)
	w.Run()

	if w.Written() != 0 {
		t.Fatalf("Written() = %d, want 0 for css with fewer than %d newlines", w.Written(), MinNewlines)
	}
}

func TestDisallowedCharsIsRejected(t *testing.T) {
	w, in := newTestWorker(t)
	css := longEnoughCSS(6) + "/* café */"
	in <- Blob{Body: []byte(css)}
	close(in)
	w.Run()

	if w.Written() != 0 {
		t.Fatalf("Written() = %d, want 0 for css with non-whitelisted chars", w.Written())
	}
}

func TestInvalidUTF8IsRejected(t *testing.T) {
	w, in := newTestWorker(t)
	in <- Blob{Body: []byte{0xff, 0xfe, 0xfd}}
	close(in)
	w.Run()

	if w.Written() != 0 {
		t.Fatalf("Written() = %d, want 0 for invalid utf-8", w.Written())
	}
}

func TestDuplicateContentIsSavedOnlyOnce(t *testing.T) {
	w, in := newTestWorker(t)
	css := longEnoughCSS(6)
	in <- Blob{Body: []byte(css)}
	in <- Blob{Body: []byte(css)}
	close(in)
	w.Run()

	if w.Written() != 1 {
		t.Fatalf("Written() = %d, want 1 for duplicate content submitted twice", w.Written())
	}
}

func TestSequentialFilesAreNumberedInOrder(t *testing.T) {
	w, in := newTestWorker(t)
	in <- Blob{Body: []byte(longEnoughCSS(6))}
	in <- Blob{Body: []byte(longEnoughCSS(7))}
	close(in)
	w.Run()

	if w.Written() != 2 {
		t.Fatalf("Written() = %d, want 2", w.Written())
	}
	for _, name := range []string{"css000001.css", "css000002.css"} {
		if _, err := os.Stat(filepath.Join(w.Dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}
