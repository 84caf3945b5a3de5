package reader

import (
	"fmt"

	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// ValueData materializes a value's data bytes. Three storage forms exist:
// data packed into the VK's offset field (inline), a single data cell, and
// a DB (big data) record spreading the bytes over block cells. Data shorter
// than declared is returned as far as it goes, with a diagnostic.
func (r *Reader) ValueData(vk format.VKRecord, vkOff uint32) ([]byte, error) {
	want := vk.DataSize()
	if want == 0 {
		return nil, nil
	}
	if vk.DataInline() {
		return vk.InlineData(), nil
	}

	p, err := r.cm.Payload(vk.DataOffset)
	if err != nil {
		return nil, r.badRef("value data", vk.DataOffset, err)
	}

	if want <= len(p) {
		out := make([]byte, want)
		copy(out, p[:want])
		return out, nil
	}

	// Declared size exceeds the cell: either big data or a truncated cell.
	if db, err := format.DecodeDB(p); err == nil {
		return r.assembleBigData(db, want)
	}

	r.col.AddIssue(types.SevWarning, types.DiagData, types.CodeTruncatedCell,
		fileOffset(vk.DataOffset), "vk",
		fmt.Sprintf("data cell holds %d bytes, value at %#x declares %d; returning short data",
			len(p), vkOff, want))
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// assembleBigData concatenates DB block cells up to the declared length.
// Each block carries up to DBChunkSize usable bytes; anything beyond that is
// allocator padding and is dropped.
func (r *Reader) assembleBigData(db format.DBRecord, want int) ([]byte, error) {
	listPayload, err := r.cm.Payload(db.BlocklistOffset)
	if err != nil {
		return nil, r.badRef("db block list", db.BlocklistOffset, err)
	}
	blocks, err := format.DecodeBlockList(listPayload, int(db.BlockCount))
	if err != nil {
		return nil, r.badRecord("db block list", db.BlocklistOffset, err)
	}

	out := make([]byte, 0, want)
	for i, blockOff := range blocks {
		if len(out) >= want {
			break
		}
		chunk, err := r.cm.Payload(blockOff)
		if err != nil {
			r.refIssue("db block", blockOff, err)
			r.col.AddIssue(types.SevWarning, types.DiagData, types.CodeTruncatedCell,
				fileOffset(blockOff), "db",
				fmt.Sprintf("big data block %d/%d unresolvable; value truncated at %d of %d bytes",
					i+1, len(blocks), len(out), want))
			return out, nil
		}
		if len(chunk) > format.DBChunkSize {
			chunk = chunk[:format.DBChunkSize]
		}
		if rem := want - len(out); len(chunk) > rem {
			chunk = chunk[:rem]
		}
		out = append(out, chunk...)
	}

	if len(out) < want {
		r.col.AddIssue(types.SevWarning, types.DiagData, types.CodeTruncatedCell,
			fileOffset(db.BlocklistOffset), "db",
			fmt.Sprintf("big data blocks yield %d of %d declared bytes", len(out), want))
	}
	return out, nil
}
