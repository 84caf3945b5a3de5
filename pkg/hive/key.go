package hive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/pkg/types"
)

// SkipSubtree can be returned from a Walk callback to prune the current
// key's subtree without aborting the walk.
var SkipSubtree = errors.New("skip subtree")

// Key is a handle on one key node. Handles are cheap: the record is decoded
// when the handle is created, but subkeys, values, class names, and security
// descriptors resolve on demand.
type Key struct {
	h      *Hive
	off    uint32
	nk     format.NKRecord
	name   string
	lossy  bool
	depth  int
	parent *Key
}

// keyAt decodes the NK record at off and wraps it in a handle whose ancestor
// chain is rooted at parent.
func (h *Hive) keyAt(off uint32, parent *Key) (*Key, error) {
	nk, err := h.rd.KeyNode(off)
	if err != nil {
		return nil, err
	}
	k := &Key{h: h, off: off, nk: nk, parent: parent}
	if parent != nil {
		k.depth = parent.depth + 1
	}
	k.name, k.lossy = h.rd.DecodeKeyName(nk, off)
	return k, nil
}

// Name returns the key's decoded name. Invalid byte sequences appear as
// U+FFFD; NameLossy reports whether any were substituted.
func (k *Key) Name() string { return k.name }

// NameLossy reports whether Name contains replacement characters.
func (k *Key) NameLossy() bool { return k.lossy }

// Path returns the backslash-joined path from the root to this key,
// including the root's own name.
func (k *Key) Path() string {
	if k.parent == nil {
		return k.name
	}
	var parts []string
	for cur := k; cur != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, `\`)
}

// Offset returns the key's cell offset, its stable identity within the hive.
func (k *Key) Offset() uint32 { return k.off }

// LastWrite returns the key's last write timestamp.
func (k *Key) LastWrite() time.Time { return format.FiletimeToTime(k.nk.LastWriteRaw) }

// IsRoot reports whether the node carries the hive-entry flag.
func (k *Key) IsRoot() bool { return k.nk.IsRoot() }

// Flags returns the raw NK flag word.
func (k *Key) Flags() uint16 { return k.nk.Flags }

// SubkeyCount returns the declared stable subkey count. The actual number of
// reachable subkeys can be lower in a corrupt hive.
func (k *Key) SubkeyCount() int { return int(k.nk.SubkeyCount) }

// VolatileSubkeyCount returns the declared volatile subkey count. Volatile
// keys never persist to disk, so the count is metadata only.
func (k *Key) VolatileSubkeyCount() int { return int(k.nk.VolSubkeyCount) }

// ValueCount returns the declared value count.
func (k *Key) ValueCount() int { return int(k.nk.ValueCount) }

// Subkeys resolves the key's stable children. Corrupt children are skipped
// with a diagnostic; crossing the depth bound or closing a reference cycle
// prunes the affected children and keeps the rest of the tree intact.
func (k *Key) Subkeys() ([]*Key, error) {
	if k.h.closed {
		return nil, types.ErrClosed
	}
	offsets := k.h.rd.SubkeyOffsets(k.nk)
	if len(offsets) == 0 {
		return nil, nil
	}
	if k.depth+1 > k.h.opts.MaxDepth {
		k.h.col.AddIssue(types.SevError, types.DiagStructure, types.CodeDepthExceeded,
			int64(k.off)+format.HiveDataBase, "nk",
			fmt.Sprintf("key %q at depth %d: children exceed depth limit %d",
				k.name, k.depth, k.h.opts.MaxDepth))
		return nil, nil
	}
	out := make([]*Key, 0, len(offsets))
	for _, off := range offsets {
		if anc := k.findAncestor(off); anc != nil {
			k.h.col.AddIssue(types.SevError, types.DiagIntegrity, types.CodeCycleDetected,
				int64(off)+format.HiveDataBase, "nk",
				fmt.Sprintf("subkey of %q points back at ancestor %q", k.name, anc.name))
			continue
		}
		child, err := k.h.keyAt(off, k)
		if err != nil {
			// Diagnostic already recorded; the branch is dropped.
			continue
		}
		out = append(out, child)
	}
	return out, nil
}

func (k *Key) findAncestor(off uint32) *Key {
	for cur := k; cur != nil; cur = cur.parent {
		if cur.off == off {
			return cur
		}
	}
	return nil
}

// Subkey returns the named child, matched case-insensitively.
func (k *Key) Subkey(name string) (*Key, error) {
	children, err := k.Subkeys()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if strings.EqualFold(c.name, name) {
			return c, nil
		}
	}
	return nil, types.WrapErr(types.ErrKindNotFound,
		fmt.Sprintf("subkey %q under %q", name, k.name), types.ErrNotFound)
}

// Values resolves the key's values. Corrupt entries are skipped with a
// diagnostic.
func (k *Key) Values() ([]*Value, error) {
	if k.h.closed {
		return nil, types.ErrClosed
	}
	offsets := k.h.rd.ValueOffsets(k.nk)
	out := make([]*Value, 0, len(offsets))
	for _, off := range offsets {
		vk, err := k.h.rd.Value(off)
		if err != nil {
			continue
		}
		name, lossy := k.h.rd.DecodeValueName(vk, off)
		out = append(out, &Value{h: k.h, off: off, vk: vk, name: name, lossy: lossy})
	}
	return out, nil
}

// Value returns the named value, matched case-insensitively. The empty name
// addresses the key's default value.
func (k *Key) Value(name string) (*Value, error) {
	values, err := k.Values()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if strings.EqualFold(v.name, name) {
			return v, nil
		}
	}
	return nil, types.WrapErr(types.ErrKindNotFound,
		fmt.Sprintf("value %q under %q", name, k.name), types.ErrNotFound)
}

// ClassName resolves the key's class name, if any.
func (k *Key) ClassName() (string, error) {
	return k.h.rd.ClassName(k.nk)
}

// Security resolves the key's security descriptor. Descriptors are shared:
// keys with identical security return the same *SecurityDescriptor.
func (k *Key) Security() (*types.SecurityDescriptor, error) {
	return k.h.rd.Security(k.nk.SecurityOffset)
}
