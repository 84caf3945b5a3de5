package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// ListKind distinguishes the subkey list variants. LF carries 4-byte name
// hints and LH 4-byte name hashes next to each offset; LI is offsets only.
// RI is an index root whose entries point at further LF/LH/LI lists.
type ListKind uint8

const (
	ListLF ListKind = iota
	ListLH
	ListLI
	ListRI
)

func (k ListKind) String() string {
	switch k {
	case ListLF:
		return "lf"
	case ListLH:
		return "lh"
	case ListLI:
		return "li"
	case ListRI:
		return "ri"
	}
	return "unknown"
}

// SubkeyList is a decoded subkey list of any variant. For LF/LH/LI the
// offsets are NK cell offsets; for RI they are offsets of nested lists and
// the caller flattens them. Hints/hashes are dropped: lookup is by name
// comparison, which stays correct even when a corrupt hive has stale hints.
type SubkeyList struct {
	Kind    ListKind
	Offsets []uint32
}

// DecodeSubkeyList decodes any of the four subkey list variants, dispatching
// on the two-byte signature.
func DecodeSubkeyList(b []byte) (SubkeyList, error) {
	if len(b) < ListHeaderSize {
		return SubkeyList{}, fmt.Errorf("subkey list: %w (have %d, need %d)",
			ErrTruncated, len(b), ListHeaderSize)
	}

	var kind ListKind
	var stride, offField int
	switch {
	case bytes.Equal(b[:SignatureSize], LFSignature):
		kind, stride, offField = ListLF, LFEntrySize, 0
	case bytes.Equal(b[:SignatureSize], LHSignature):
		kind, stride, offField = ListLH, LFEntrySize, 0
	case bytes.Equal(b[:SignatureSize], LISignature):
		kind, stride, offField = ListLI, LIEntrySize, 0
	case bytes.Equal(b[:SignatureSize], RISignature):
		kind, stride, offField = ListRI, LIEntrySize, 0
	default:
		return SubkeyList{}, fmt.Errorf("subkey list: %w (tag %q)",
			ErrSignatureMismatch, string(b[:SignatureSize]))
	}

	count := int(buf.U16LE(b[SignatureSize:]))
	if _, err := buf.CheckListBounds(len(b), ListHeaderSize, count, stride); err != nil {
		return SubkeyList{}, fmt.Errorf("%s list: %w: %v", kind, ErrTruncated, err)
	}

	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i] = buf.U32LE(b[ListHeaderSize+i*stride+offField:])
	}
	return SubkeyList{Kind: kind, Offsets: offsets}, nil
}

// DecodeValueList decodes a value list payload: count uint32 VK cell
// offsets with no header or signature. The count comes from the owning NK.
func DecodeValueList(b []byte, count int) ([]uint32, error) {
	if _, err := buf.CheckListBounds(len(b), 0, count, OffsetFieldSize); err != nil {
		return nil, fmt.Errorf("value list: %w: %v", ErrTruncated, err)
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = buf.U32LE(b[i*OffsetFieldSize:])
	}
	return out, nil
}
