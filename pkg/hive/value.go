package hive

import (
	"fmt"
	"strings"

	"github.com/joshuapare/hivescout/internal/buf"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// Value is a handle on one value entry. Data is resolved on demand; typed
// accessors check the registry type before decoding and return
// ErrTypeMismatch when it disagrees.
type Value struct {
	h     *Hive
	off   uint32
	vk    format.VKRecord
	name  string
	lossy bool
}

// Name returns the value's decoded name. The empty string denotes the key's
// default value.
func (v *Value) Name() string { return v.name }

// NameLossy reports whether Name contains replacement characters.
func (v *Value) NameLossy() bool { return v.lossy }

// Offset returns the value's cell offset.
func (v *Value) Offset() uint32 { return v.off }

// Type returns the declared registry value type.
func (v *Value) Type() types.RegType { return types.RegType(v.vk.Type) }

// Size returns the declared data size in bytes. The resolvable data can be
// shorter in a corrupt hive.
func (v *Value) Size() int { return v.vk.DataSize() }

// Bytes materializes the raw data regardless of type.
func (v *Value) Bytes() ([]byte, error) {
	if v.h.closed {
		return nil, types.ErrClosed
	}
	return v.h.rd.ValueData(v.vk, v.off)
}

// Text decodes a REG_SZ, REG_EXPAND_SZ, or REG_LINK value as UTF-16LE with
// the trailing terminator stripped.
func (v *Value) Text() (string, error) {
	switch v.Type() {
	case types.REG_SZ, types.REG_EXPAND_SZ, types.REG_LINK:
	default:
		return "", v.typeMismatch("string")
	}
	data, err := v.Bytes()
	if err != nil {
		return "", err
	}
	s, _ := format.DecodeUTF16LE(data)
	return strings.TrimRight(s, "\x00"), nil
}

// Texts decodes a REG_MULTI_SZ value into its component strings. The
// double-NUL terminator and any empty trailing entries are dropped.
func (v *Value) Texts() ([]string, error) {
	if v.Type() != types.REG_MULTI_SZ {
		return nil, v.typeMismatch("multi-string")
	}
	data, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	s, _ := format.DecodeUTF16LE(data)
	parts := strings.Split(strings.TrimRight(s, "\x00"), "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Uint32 decodes a REG_DWORD or REG_DWORD_BE value.
func (v *Value) Uint32() (uint32, error) {
	t := v.Type()
	if t != types.REG_DWORD && t != types.REG_DWORD_BE {
		return 0, v.typeMismatch("dword")
	}
	data, err := v.Bytes()
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, types.WrapErr(types.ErrKindCorrupt,
			fmt.Sprintf("dword value %q holds %d bytes", v.name, len(data)), nil)
	}
	if t == types.REG_DWORD_BE {
		return buf.U32BE(data), nil
	}
	return buf.U32LE(data), nil
}

// Uint64 decodes a REG_QWORD value.
func (v *Value) Uint64() (uint64, error) {
	if v.Type() != types.REG_QWORD {
		return 0, v.typeMismatch("qword")
	}
	data, err := v.Bytes()
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, types.WrapErr(types.ErrKindCorrupt,
			fmt.Sprintf("qword value %q holds %d bytes", v.name, len(data)), nil)
	}
	return buf.U64LE(data), nil
}

func (v *Value) typeMismatch(want string) error {
	return types.WrapErr(types.ErrKindType,
		fmt.Sprintf("value %q is %s, not %s", v.name, v.Type(), want),
		types.ErrTypeMismatch)
}
