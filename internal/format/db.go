package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// DBRecord is a decoded big data record. Values whose data exceeds a single
// cell store a DB record instead: it points at a block list cell holding
// BlockCount offsets, each of a data block cell; blocks are concatenated
// (minus 4 bytes of trailing padding per block) to rebuild the value.
type DBRecord struct {
	BlockCount      uint16
	BlocklistOffset uint32
}

// DecodeDB decodes a DB record payload.
func DecodeDB(b []byte) (DBRecord, error) {
	if len(b) < DBMinSize {
		return DBRecord{}, fmt.Errorf("db: %w (have %d, need %d)", ErrTruncated, len(b), DBMinSize)
	}
	if !bytes.Equal(b[:SignatureSize], DBSignature) {
		return DBRecord{}, fmt.Errorf("db: %w", ErrSignatureMismatch)
	}

	db := DBRecord{
		BlockCount:      buf.U16LE(b[DBNumBlocksOffset:]),
		BlocklistOffset: buf.U32LE(b[DBBlocklistOffset:]),
	}
	if db.BlockCount < DBMinBlockCount {
		return DBRecord{}, fmt.Errorf("db block count %d below minimum %d: %w",
			db.BlockCount, DBMinBlockCount, ErrSanityLimit)
	}
	return db, nil
}

// DecodeBlockList decodes the block offset list referenced by a DB record.
// The list payload holds count uint32 cell offsets, no header.
func DecodeBlockList(b []byte, count int) ([]uint32, error) {
	if _, err := buf.CheckListBounds(len(b), 0, count, OffsetFieldSize); err != nil {
		return nil, fmt.Errorf("db block list: %w: %v", ErrTruncated, err)
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = buf.U32LE(b[i*OffsetFieldSize:])
	}
	return out, nil
}
