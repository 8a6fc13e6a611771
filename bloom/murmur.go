// Package bloom implements the fixed-size approximate-membership bit
// arrays used to track URLs and CSS content the crawler has already seen,
// along with the MurmurHash3 derivations that address their bits.
package bloom

import "math/bits"

// hash32 computes the 32-bit MurmurHash3 of input with the given seed.
//
// This deliberately does not match the canonical MurmurHash3_x86_32
// reference implementation: its body-block loop walks 4-byte chunks in
// reverse order rather than forward. That deviation is preserved here
// byte-for-byte because every bit ever set in an approximate-membership
// set derives from it — changing it silently invalidates every previously
// inserted key.
func hash32(input []byte, seed uint32) uint32 {
	const c1 = 0xcc9e2d51
	const c2 = 0x1b873593

	h1 := seed
	nblocks := len(input) / 4

	// The block packing below shifts each byte by its index within the
	// chunk (0..3 bits), not by index*8 as a little-endian u32 load would.
	// That mismatches the tail packing further down and isn't canonical
	// MurmurHash3, but it's what the original crawler shipped and every
	// bit ever set in a seen-set derives from it, so it's preserved
	// byte-for-byte rather than "fixed".
	for i := nblocks - 1; i >= 0; i-- {
		chunk := input[i*4 : i*4+4]
		k1 := uint32(chunk[0])<<0 | uint32(chunk[1])<<1 | uint32(chunk[2])<<2 | uint32(chunk[3])<<3
		k1 *= c1
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2

		h1 ^= k1
		h1 = bits.RotateLeft32(h1, 13)
		h1 = h1*5 + 0xe6546b64
	}

	tail := input[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint32(len(input))
	return fmix32(h1)
}

func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// hash128 computes the x64 flavour of the 128-bit MurmurHash3 of input
// with the given seed. Its block loop runs forward, unlike hash32's, but
// shares the same non-canonical bit-packing quirk (see bitPack).
func hash128(input []byte, seed uint32) (uint64, uint64) {
	const c1 = 0x87c37b91114253d5
	const c2 = 0x4cf5ad432745937f

	h1 := uint64(seed)
	h2 := uint64(seed)
	nblocks := len(input) / 16

	// As in hash32, each 8-byte half of the block is packed by shifting
	// byte n by n bits rather than 8*n (see hash32 for why this is kept).
	for i := 0; i < nblocks; i++ {
		block := input[i*16 : i*16+16]
		k1 := bitPack(block[0:8])
		k2 := bitPack(block[8:16])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := input[nblocks*16:]
	var k1, k2 uint64
	switch len(tail) {
	case 15:
		k2 ^= uint64(tail[14]) << 48
		fallthrough
	case 14:
		k2 ^= uint64(tail[13]) << 40
		fallthrough
	case 13:
		k2 ^= uint64(tail[12]) << 32
		fallthrough
	case 12:
		k2 ^= uint64(tail[11]) << 24
		fallthrough
	case 11:
		k2 ^= uint64(tail[10]) << 16
		fallthrough
	case 10:
		k2 ^= uint64(tail[9]) << 8
		fallthrough
	case 9:
		k2 ^= uint64(tail[8])
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
	}
	switch len(tail) {
	case 8, 9, 10, 11, 12, 13, 14, 15:
		k1 ^= uint64(tail[7]) << 56
		fallthrough
	case 7:
		k1 ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k1 ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k1 ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k1 ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k1 ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint64(tail[0])
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(len(input))
	h2 ^= uint64(len(input))

	h1 += h2
	h2 += h1

	h1 = fmix64(h1)
	h2 = fmix64(h2)

	h1 += h2
	h2 += h1

	return h1, h2
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// bitPack packs 8 bytes into a uint64 by shifting byte n left by n bits,
// not the 8*n a little-endian load would use. Matches the original
// crawler's block-loop packing; see hash32's doc comment.
func bitPack(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << uint(i)
	}
	return v
}
