package bloom

import "testing"

// These pin the byte-level behaviour of the two hash derivations so a
// future refactor can't accidentally "fix" the non-canonical bit packing
// documented in murmur.go and silently invalidate every bit ever set in a
// running set (spec.md §4.1, §9).
func TestHash32EmptyInputIsZeroForZeroSeed(t *testing.T) {
	if got := hash32(nil, 0); got != 0 {
		t.Fatalf("hash32(nil, 0) = %#x, want 0", got)
	}
	if got := hash32([]byte{}, 0); got != 0 {
		t.Fatalf("hash32([]byte{}, 0) = %#x, want 0", got)
	}
}

func TestHash128EmptyInputIsZeroForZeroSeed(t *testing.T) {
	h1, h2 := hash128(nil, 0)
	if h1 != 0 || h2 != 0 {
		t.Fatalf("hash128(nil, 0) = (%#x, %#x), want (0, 0)", h1, h2)
	}
}

func TestHashTestVectors(t *testing.T) {
	const seed = 0xa4a759a4
	if got := hash32([]byte("hello"), seed); got != 0x2b5371cf {
		t.Fatalf("hash32(\"hello\", seed) = %#x, want 0x2b5371cf", got)
	}
	if got := hash32([]byte("http://cssdb.co/styles/site.css"), seed); got != 0xa3d59412 {
		t.Fatalf("hash32(site.css url, seed) = %#x, want 0xa3d59412", got)
	}
	if h1, h2 := hash128([]byte("hello"), seed); h1 != 0x031896fee3110d94 || h2 != 0xa3f5a17f240fd7d7 {
		t.Fatalf("hash128(\"hello\", seed) = (%#x, %#x)", h1, h2)
	}
	if h1, h2 := hash128([]byte("http://cssdb.co/styles/site.css"), seed); h1 != 0x308822ef530d990e || h2 != 0x70a7e361c540ebc8 {
		t.Fatalf("hash128(site.css url, seed) = (%#x, %#x)", h1, h2)
	}
}

func TestHash32Deterministic(t *testing.T) {
	items := [][]byte{
		[]byte("hello"),
		[]byte("http://cssdb.co/styles/site.css"),
		[]byte("some rather long string just because, and just in case, lets make it even longer"),
		{0x00, 0x01, 0x02, 0x03, 0x04},
	}
	for _, item := range items {
		first := hash32(item, 0xa4a759a4)
		for i := 0; i < 5; i++ {
			if got := hash32(item, 0xa4a759a4); got != first {
				t.Fatalf("hash32(%q, seed) not stable across calls: %#x != %#x", item, got, first)
			}
		}
	}
}

func TestHash128Deterministic(t *testing.T) {
	items := [][]byte{
		[]byte("hello"),
		[]byte("http://cssdb.co/styles/site.css"),
		{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
	}
	for _, item := range items {
		h1, h2 := hash128(item, 0xa4a759a4)
		for i := 0; i < 5; i++ {
			g1, g2 := hash128(item, 0xa4a759a4)
			if g1 != h1 || g2 != h2 {
				t.Fatalf("hash128(%q, seed) not stable across calls", item)
			}
		}
	}
}

func TestHash32SeedChangesOutput(t *testing.T) {
	item := []byte("hello world")
	a := hash32(item, 0xa4a759a4)
	b := hash32(item, 0xe5f20661)
	if a == b {
		t.Fatalf("hash32 produced identical output for two different seeds: %#x", a)
	}
}

func TestHash128SeedChangesOutput(t *testing.T) {
	item := []byte("hello world")
	a1, a2 := hash128(item, 0xa4a759a4)
	b1, b2 := hash128(item, 0xe5f20661)
	if a1 == b1 && a2 == b2 {
		t.Fatalf("hash128 produced identical output for two different seeds")
	}
}

func TestHash32VariesWithInput(t *testing.T) {
	seed := uint32(0x85684b56)
	a := hash32([]byte("foo"), seed)
	b := hash32([]byte("bar"), seed)
	if a == b {
		t.Fatalf("hash32 collided on distinct short inputs (allowed but extremely unlikely): %#x", a)
	}
}

// Exercises the reversed block-iteration path (inputs >= 8 bytes take two
// or more full 4-byte blocks) as well as every tail-length remainder.
func TestHash32AcrossBlockAndTailLengths(t *testing.T) {
	seed := uint32(0xba444a10)
	seen := map[uint32]string{}
	for n := 0; n <= 20; n++ {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte('a' + i%26)
		}
		h := hash32(buf, seed)
		if prev, ok := seen[h]; ok {
			t.Fatalf("hash32 collided between length %d and %q (allowed but extremely unlikely)", n, prev)
		}
		seen[h] = string(buf)
	}
}

func TestHash128AcrossBlockAndTailLengths(t *testing.T) {
	seed := uint32(0xba444a10)
	seen := map[[2]uint64]string{}
	for n := 0; n <= 40; n++ {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte('a' + i%26)
		}
		h1, h2 := hash128(buf, seed)
		key := [2]uint64{h1, h2}
		if prev, ok := seen[key]; ok {
			t.Fatalf("hash128 collided between length %d and %q (allowed but extremely unlikely)", n, prev)
		}
		seen[key] = string(buf)
	}
}
