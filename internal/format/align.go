package format

// Align8 rounds n up to the cell allocation granularity.
func Align8(n int) int {
	return (n + CellAlignmentMask) &^ CellAlignmentMask
}

// IsCellAligned reports whether a cell offset sits on the 8-byte grid.
func IsCellAligned(off uint32) bool {
	return off&CellAlignmentMask == 0
}
