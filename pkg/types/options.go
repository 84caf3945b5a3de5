package types

// Windows-imposed bounds used for option defaults. Depth in particular has
// no hard format limit, but real hives stay far below this.
const (
	WindowsMaxKeyNameChars   = 255
	WindowsMaxValueNameChars = 16383
	WindowsMaxTreeDepth      = 512
)

// DefaultMaxCellSize guards against absurd or malicious cell sizes (16 MiB).
const DefaultMaxCellSize = 16 << 20

// Options controls parsing behavior. Normalize fills unset numeric fields
// with defaults; the boolean fields are taken as-is, false meaning disabled.
// Start from DefaultOptions (or pass nil options to Parse) to get the
// secondary-log preference and the recovery scan enabled.
type Options struct {
	// MaxDepth bounds logical tree traversal. Keys deeper than this are
	// skipped with a depth-exceeded diagnostic. Zero selects
	// WindowsMaxTreeDepth.
	MaxDepth int

	// MaxCellSize guards individual cell sizes. Zero selects
	// DefaultMaxCellSize.
	MaxCellSize int

	// PreferSecondaryLog picks the secondary transaction log when both logs
	// carry an entry with the same sequence number. Windows alternates
	// between the two files, and on a tie the secondary is the one written
	// later in the common crash pattern. Set by default.
	PreferSecondaryLog bool

	// RecoverDeleted enables the deleted-record scan on first use of
	// Orphans. The scan itself is lazy either way; this gate exists so
	// callers who never want recovered data pay nothing.
	RecoverDeleted bool
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		MaxDepth:           WindowsMaxTreeDepth,
		MaxCellSize:        DefaultMaxCellSize,
		PreferSecondaryLog: true,
		RecoverDeleted:     true,
	}
}

// Normalize fills the zero numeric fields with their defaults. Boolean
// fields are left alone: a false cannot be told apart from unset, so it
// always means disabled.
func (o Options) Normalize() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = WindowsMaxTreeDepth
	}
	if o.MaxCellSize <= 0 {
		o.MaxCellSize = DefaultMaxCellSize
	}
	return o
}
