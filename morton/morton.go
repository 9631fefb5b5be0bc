// Package morton implements bit-interleaved Morton (Z-order) encoding of
// 3D integer coordinates, used by glomethod's initial linear Morton split
// and by sfc's curve-order partitioning.
package morton

// Encode interleaves the low bits of x, y, z into a single Morton index.
// Coordinates must be non-negative and fit in 21 bits (2^21 per axis is
// far beyond any grid size repa targets).
func Encode(x, y, z uint32) uint64 {
	return spread(uint64(x)) | spread(uint64(y))<<1 | spread(uint64(z))<<2
}

// Decode is the inverse of Encode.
func Decode(m uint64) (x, y, z uint32) {
	x = uint32(compact(m))
	y = uint32(compact(m >> 1))
	z = uint32(compact(m >> 2))
	return
}

// spread inserts two zero bits after each of the low 21 bits of v.
func spread(v uint64) uint64 {
	v &= 0x1fffff
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

// compact is the inverse of spread: it extracts every third bit starting
// at bit 0 back into a dense low-order integer.
func compact(v uint64) uint64 {
	v &= 0x1249249249249249
	v = (v | v>>2) & 0x10c30c30c30c30c3
	v = (v | v>>4) & 0x100f00f00f00f00f
	v = (v | v>>8) & 0x1f0000ff0000ff
	v = (v | v>>16) & 0x1f00000000ffff
	v = (v | v>>32) & 0x1fffff
	return v
}

// CubeSideBits returns L = ceil(log2(max(nx,ny,nz))), the number of bits
// per axis needed so that (2^L)^3 bounds the padded Morton cube the SFC
// partitioner's node_first_cell_idx rounds up to (spec.md §4.4).
func CubeSideBits(nx, ny, nz int) uint {
	max := nx
	if ny > max {
		max = ny
	}
	if nz > max {
		max = nz
	}
	var l uint
	for (1 << l) < max {
		l++
	}
	return l
}
