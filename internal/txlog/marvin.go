package txlog

import "math/bits"

// Marvin32 implements Microsoft's Marvin32 hash, which Windows uses to
// checksum transaction log entries. The two 32-bit lanes of the result are
// returned packed as hi<<32|lo, matching how the on-disk hash fields store
// the value.
func Marvin32(seed uint64, data []byte) uint64 {
	lo := uint32(seed)
	hi := uint32(seed >> 32)

	for len(data) >= 4 {
		lo += uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		lo, hi = marvinMix(lo, hi)
		data = data[4:]
	}

	// Final block: remaining 0-3 bytes padded with a 0x80 terminator.
	var fin uint32
	switch len(data) {
	case 0:
		fin = 0x80
	case 1:
		fin = 0x8000 | uint32(data[0])
	case 2:
		fin = 0x800000 | uint32(data[1])<<8 | uint32(data[0])
	case 3:
		fin = 0x80000000 | uint32(data[2])<<16 | uint32(data[1])<<8 | uint32(data[0])
	}
	lo += fin
	lo, hi = marvinMix(lo, hi)
	lo, hi = marvinMix(lo, hi)

	return uint64(hi)<<32 | uint64(lo)
}

func marvinMix(lo, hi uint32) (uint32, uint32) {
	hi ^= lo
	lo = bits.RotateLeft32(lo, 20)
	lo += hi
	hi = bits.RotateLeft32(hi, 9)
	hi ^= lo
	lo = bits.RotateLeft32(lo, 27)
	lo += hi
	hi = bits.RotateLeft32(hi, 19)
	return lo, hi
}
