package format

// Sanity limits for decoded counts and lengths. These are deliberately far
// above anything Windows itself allows (key names cap at 255 characters,
// value names at 16383) so that a legitimate but unusual hive always passes,
// while a cell whose bytes happen to start with the right signature almost
// never does. Decoders reject violations with ErrSanityLimit; the recovery
// scanner leans on that rejection to filter noise out of free space.
const (
	// MaxNameLen bounds NK and VK name lengths in bytes.
	MaxNameLen = 16383 * 2

	// MaxClassLen bounds the NK class name length in bytes.
	MaxClassLen = 16383 * 2

	// MaxSubkeyCount bounds the stable subkey count of a single key.
	MaxSubkeyCount = 16_000_000

	// MaxValueCount bounds the value count of a single key.
	MaxValueCount = 16_000_000

	// MaxValueDataLen bounds a single value's data length (1 GiB).
	MaxValueDataLen = 1 << 30

	// MaxDescriptorLen bounds an SK record's security descriptor (64 KiB,
	// the documented maximum for a self-relative descriptor).
	MaxDescriptorLen = 1 << 16
)
