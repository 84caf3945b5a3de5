//go:build windows

package mmfile

import (
	"os"
)

// Map reads the entire file; hive images are small enough that a plain read
// is acceptable where mmap plumbing isn't wired.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return data, func() error { return nil }, nil
}
