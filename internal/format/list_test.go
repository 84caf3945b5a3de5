package format

import (
	"encoding/binary"
	"errors"
	"testing"
)

func buildList(sig []byte, stride int, offsets ...uint32) []byte {
	b := make([]byte, ListHeaderSize+len(offsets)*stride)
	copy(b, sig)
	binary.LittleEndian.PutUint16(b[SignatureSize:], uint16(len(offsets)))
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(b[ListHeaderSize+i*stride:], off)
	}
	return b
}

func TestDecodeSubkeyListVariants(t *testing.T) {
	cases := []struct {
		sig    []byte
		stride int
		kind   ListKind
	}{
		{LFSignature, LFEntrySize, ListLF},
		{LHSignature, LFEntrySize, ListLH},
		{LISignature, LIEntrySize, ListLI},
		{RISignature, LIEntrySize, ListRI},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			list, err := DecodeSubkeyList(buildList(c.sig, c.stride, 0x100, 0x200, 0x300))
			if err != nil {
				t.Fatalf("DecodeSubkeyList: %v", err)
			}
			if list.Kind != c.kind {
				t.Fatalf("kind = %v", list.Kind)
			}
			if len(list.Offsets) != 3 || list.Offsets[1] != 0x200 {
				t.Fatalf("offsets = %#x", list.Offsets)
			}
		})
	}
}

func TestDecodeSubkeyListErrors(t *testing.T) {
	if _, err := DecodeSubkeyList([]byte{'l', 'f'}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short: %v", err)
	}
	if _, err := DecodeSubkeyList(buildList([]byte("xx"), LIEntrySize, 1)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("tag: %v", err)
	}
	// Count claiming more entries than the payload holds.
	b := buildList(LHSignature, LFEntrySize, 0x100)
	binary.LittleEndian.PutUint16(b[SignatureSize:], 50)
	if _, err := DecodeSubkeyList(b); !errors.Is(err, ErrTruncated) {
		t.Fatalf("count overrun: %v", err)
	}
}

func TestDecodeValueList(t *testing.T) {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:], 0x80)
	binary.LittleEndian.PutUint32(b[4:], 0x90)
	binary.LittleEndian.PutUint32(b[8:], 0xA0)

	offsets, err := DecodeValueList(b, 3)
	if err != nil {
		t.Fatalf("DecodeValueList: %v", err)
	}
	if len(offsets) != 3 || offsets[2] != 0xA0 {
		t.Fatalf("offsets = %#x", offsets)
	}
	if _, err := DecodeValueList(b, 4); !errors.Is(err, ErrTruncated) {
		t.Fatalf("count overrun: %v", err)
	}
}

func TestDecodeSKAndDB(t *testing.T) {
	desc := []byte{1, 0, 4, 128, 20, 0, 0, 0}
	sk := make([]byte, SKHeaderSize+len(desc))
	copy(sk, SKSignature)
	binary.LittleEndian.PutUint32(sk[SKFlinkOffset:], 0x500)
	binary.LittleEndian.PutUint32(sk[SKBlinkOffset:], 0x300)
	binary.LittleEndian.PutUint32(sk[SKReferenceCountOffset:], 12)
	binary.LittleEndian.PutUint32(sk[SKDescriptorLengthOffset:], uint32(len(desc)))
	copy(sk[SKDescriptorOffset:], desc)

	rec, err := DecodeSK(sk)
	if err != nil {
		t.Fatalf("DecodeSK: %v", err)
	}
	if rec.Flink != 0x500 || rec.Blink != 0x300 || rec.ReferenceCount != 12 {
		t.Fatalf("sk: %+v", rec)
	}
	if len(rec.Descriptor) != len(desc) {
		t.Fatalf("descriptor len = %d", len(rec.Descriptor))
	}

	binary.LittleEndian.PutUint32(sk[SKDescriptorLengthOffset:], 1<<20)
	if _, err := DecodeSK(sk); !errors.Is(err, ErrSanityLimit) {
		t.Fatalf("oversized descriptor: %v", err)
	}

	db := make([]byte, DBHeaderSize)
	copy(db, DBSignature)
	binary.LittleEndian.PutUint16(db[DBNumBlocksOffset:], 3)
	binary.LittleEndian.PutUint32(db[DBBlocklistOffset:], 0x700)

	d, err := DecodeDB(db)
	if err != nil {
		t.Fatalf("DecodeDB: %v", err)
	}
	if d.BlockCount != 3 || d.BlocklistOffset != 0x700 {
		t.Fatalf("db: %+v", d)
	}

	binary.LittleEndian.PutUint16(db[DBNumBlocksOffset:], 1)
	if _, err := DecodeDB(db); !errors.Is(err, ErrSanityLimit) {
		t.Fatalf("single-block db: %v", err)
	}
}
