package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/hivescout/internal/buf"
)

// SKRecord is a decoded security descriptor cell. SK records form a
// hive-wide circular doubly-linked list via Flink/Blink; multiple keys share
// one record and the reference count tracks how many.
type SKRecord struct {
	Flink            uint32
	Blink            uint32
	ReferenceCount   uint32
	DescriptorLength uint32
	Descriptor       []byte // raw SECURITY_DESCRIPTOR_RELATIVE bytes
}

// DecodeSK decodes an SK record payload.
func DecodeSK(b []byte) (SKRecord, error) {
	if len(b) < SKMinSize {
		return SKRecord{}, fmt.Errorf("sk: %w (have %d, need %d)", ErrTruncated, len(b), SKMinSize)
	}
	if !bytes.Equal(b[:SignatureSize], SKSignature) {
		return SKRecord{}, fmt.Errorf("sk: %w", ErrSignatureMismatch)
	}

	sk := SKRecord{
		Flink:            buf.U32LE(b[SKFlinkOffset:]),
		Blink:            buf.U32LE(b[SKBlinkOffset:]),
		ReferenceCount:   buf.U32LE(b[SKReferenceCountOffset:]),
		DescriptorLength: buf.U32LE(b[SKDescriptorLengthOffset:]),
	}

	if sk.DescriptorLength > MaxDescriptorLen {
		return SKRecord{}, fmt.Errorf("sk descriptor len %d exceeds limit %d: %w",
			sk.DescriptorLength, MaxDescriptorLen, ErrSanityLimit)
	}

	desc, ok := buf.Slice(b, SKDescriptorOffset, int(sk.DescriptorLength))
	if !ok {
		return SKRecord{}, fmt.Errorf("sk descriptor: %w (need %d bytes, have %d)",
			ErrTruncated, sk.DescriptorLength, len(b))
	}
	sk.Descriptor = desc

	return sk, nil
}
