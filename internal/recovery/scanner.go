// Package recovery scans non-reachable cell space for deleted registry
// records. When a key or value is deleted, its cell is marked free but the
// payload bytes usually survive until reuse, so free cells (and allocated
// cells no longer linked from the tree) are tried as NK and VK records under
// strict plausibility gating. Results are best-effort by nature: a candidate
// can decode cleanly and still be stale.
package recovery

import (
	"crypto/sha256"
	"fmt"

	"github.com/joshuapare/hivescout/internal/cellmap"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/reader"
	"github.com/joshuapare/hivescout/pkg/types"
)

// Scanner recovers deleted records from one hive image.
type Scanner struct {
	r *reader.Reader
}

// New builds a Scanner over the same reader the tree uses.
func New(r *reader.Reader) *Scanner {
	return &Scanner{r: r}
}

// Scan walks the reachable record graph from rootOff, then decodes every
// free cell and every allocated-but-unreachable cell as a key or value.
// Candidates whose structural bytes hash-match a linked record (or an
// earlier orphan) are suppressed as duplicates: free space routinely holds
// stale copies of live records left behind by cell moves.
func (s *Scanner) Scan(rootOff uint32) []types.OrphanRecord {
	seen := make(map[[sha256.Size]byte]bool)
	reachable := s.markReachable(rootOff, seen)

	var orphans []types.OrphanRecord
	for _, e := range s.r.Map().Extents() {
		var payload []byte
		var fromFree bool
		switch e.State {
		case cellmap.StateFree:
			payload = s.r.Map().FreePayload(e)
			fromFree = true
		case cellmap.StateAllocated:
			if reachable[e.Offset] {
				continue
			}
			payload, _ = s.r.Map().Payload(e.Offset)
		default:
			continue
		}
		if len(payload) < format.SignatureSize {
			continue
		}

		switch {
		case e.Tag == [2]byte{'n', 'k'}:
			if rec, ok := s.plausibleNK(payload); ok {
				s.emitKey(&orphans, seen, rec, e.Offset, fromFree)
			}
		case e.Tag == [2]byte{'v', 'k'}:
			if rec, ok := s.plausibleVK(payload); ok {
				s.emitValue(&orphans, seen, rec, e.Offset, fromFree)
			}
		}
	}
	return orphans
}

// markReachable walks the live tree, recording every referenced cell offset
// and hashing every linked NK/VK for duplicate suppression. The walk is
// defensive: it shares no state with the lazy tree traversal and tolerates
// the same corruption (visited set, not trusting counts).
func (s *Scanner) markReachable(rootOff uint32, seen map[[sha256.Size]byte]bool) map[uint32]bool {
	reachable := make(map[uint32]bool)
	cm := s.r.Map()

	stack := []uint32{rootOff}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if off == format.InvalidOffset || reachable[off] {
			continue
		}
		payload, err := cm.Payload(off)
		if err != nil {
			continue
		}
		reachable[off] = true

		nk, err := format.DecodeNK(payload)
		if err != nil {
			continue
		}
		seen[hashNK(nk)] = true

		if nk.ClassNameOffset != format.InvalidOffset {
			reachable[nk.ClassNameOffset] = true
		}
		s.markSecurity(nk.SecurityOffset, reachable)
		stack = s.markSubkeyLists(nk.SubkeyListOffset, reachable, stack)
		s.markValues(nk, reachable, seen)
	}
	return reachable
}

// markSubkeyLists records list cells (following RI indirection) and pushes
// the child NK offsets.
func (s *Scanner) markSubkeyLists(listOff uint32, reachable map[uint32]bool, stack []uint32) []uint32 {
	if listOff == format.InvalidOffset || reachable[listOff] {
		return stack
	}
	payload, err := s.r.Map().Payload(listOff)
	if err != nil {
		return stack
	}
	reachable[listOff] = true
	list, err := format.DecodeSubkeyList(payload)
	if err != nil {
		return stack
	}
	if list.Kind == format.ListRI {
		for _, sub := range list.Offsets {
			stack = s.markSubkeyLists(sub, reachable, stack)
		}
		return stack
	}
	return append(stack, list.Offsets...)
}

func (s *Scanner) markValues(nk format.NKRecord, reachable map[uint32]bool, seen map[[sha256.Size]byte]bool) {
	if nk.ValueCount == 0 || nk.ValueListOffset == format.InvalidOffset {
		return
	}
	cm := s.r.Map()
	listPayload, err := cm.Payload(nk.ValueListOffset)
	if err != nil {
		return
	}
	reachable[nk.ValueListOffset] = true
	count := int(nk.ValueCount)
	if max := len(listPayload) / format.OffsetFieldSize; count > max {
		count = max
	}
	offsets, err := format.DecodeValueList(listPayload, count)
	if err != nil {
		return
	}
	for _, vkOff := range offsets {
		payload, err := cm.Payload(vkOff)
		if err != nil {
			continue
		}
		reachable[vkOff] = true
		vk, err := format.DecodeVK(payload)
		if err != nil {
			continue
		}
		seen[hashVK(vk)] = true
		s.markValueData(vk, reachable)
	}
}

func (s *Scanner) markValueData(vk format.VKRecord, reachable map[uint32]bool) {
	if vk.DataInline() || vk.DataSize() == 0 || vk.DataOffset == format.InvalidOffset {
		return
	}
	cm := s.r.Map()
	payload, err := cm.Payload(vk.DataOffset)
	if err != nil {
		return
	}
	reachable[vk.DataOffset] = true
	if vk.DataSize() <= len(payload) {
		return
	}
	db, err := format.DecodeDB(payload)
	if err != nil {
		return
	}
	listPayload, err := cm.Payload(db.BlocklistOffset)
	if err != nil {
		return
	}
	reachable[db.BlocklistOffset] = true
	blocks, err := format.DecodeBlockList(listPayload, int(db.BlockCount))
	if err != nil {
		return
	}
	for _, blk := range blocks {
		reachable[blk] = true
	}
}

// markSecurity follows the circular SK list so shared descriptors count as
// reachable from the first key that references any of them.
func (s *Scanner) markSecurity(skOff uint32, reachable map[uint32]bool) {
	for skOff != format.InvalidOffset && !reachable[skOff] {
		payload, err := s.r.Map().Payload(skOff)
		if err != nil {
			return
		}
		reachable[skOff] = true
		rec, err := format.DecodeSK(payload)
		if err != nil {
			return
		}
		skOff = rec.Flink
	}
}

// ---------------------------------------------------------------------------
// candidate gating and emission
// ---------------------------------------------------------------------------

// plausibleNK decodes a candidate key and applies gates beyond the decoder's
// sanity limits: unknown flag bits, or references leaving the bin region,
// mean the bytes are noise that happens to start with "nk".
func (s *Scanner) plausibleNK(payload []byte) (format.NKRecord, bool) {
	nk, err := format.DecodeNK(payload)
	if err != nil {
		return format.NKRecord{}, false
	}
	if nk.Flags&^format.NKKnownFlagsMask != 0 {
		return format.NKRecord{}, false
	}
	for _, off := range []uint32{
		nk.ParentOffset, nk.SubkeyListOffset, nk.ValueListOffset,
		nk.SecurityOffset, nk.ClassNameOffset,
	} {
		if !s.offsetPlausible(off) {
			return format.NKRecord{}, false
		}
	}
	return nk, true
}

func (s *Scanner) plausibleVK(payload []byte) (format.VKRecord, bool) {
	vk, err := format.DecodeVK(payload)
	if err != nil {
		return format.VKRecord{}, false
	}
	// Registry types are small integers (applications can define their own,
	// but they stay well under 16 bits); a huge value marks reused space.
	if vk.Type > 0xFFFF {
		return format.VKRecord{}, false
	}
	if !vk.DataInline() && vk.DataSize() > 0 && !s.offsetPlausible(vk.DataOffset) {
		return format.VKRecord{}, false
	}
	return vk, true
}

// offsetPlausible accepts the nil placeholder and anything inside the bin
// region; a reference pointing past the region marks reused space.
func (s *Scanner) offsetPlausible(off uint32) bool {
	return off == format.InvalidOffset || int(off) < s.r.Map().Size()
}

func (s *Scanner) emitKey(orphans *[]types.OrphanRecord, seen map[[sha256.Size]byte]bool,
	nk format.NKRecord, off uint32, fromFree bool) {
	h := hashNK(nk)
	if seen[h] {
		s.dupIssue(off, "nk")
		return
	}
	seen[h] = true

	name, lossy := nk.Name()
	*orphans = append(*orphans, types.OrphanRecord{
		Kind:       types.OrphanKey,
		Offset:     off,
		FromFree:   fromFree,
		Name:       name,
		NameLossy:  lossy,
		LastWrite:  format.FiletimeToTime(nk.LastWriteRaw),
		ParentHint: nk.ParentOffset,
	})
}

func (s *Scanner) emitValue(orphans *[]types.OrphanRecord, seen map[[sha256.Size]byte]bool,
	vk format.VKRecord, off uint32, fromFree bool) {
	h := hashVK(vk)
	if seen[h] {
		s.dupIssue(off, "vk")
		return
	}
	seen[h] = true

	name, lossy := vk.Name()
	*orphans = append(*orphans, types.OrphanRecord{
		Kind:      types.OrphanValue,
		Offset:    off,
		FromFree:  fromFree,
		Name:      name,
		NameLossy: lossy,
		Type:      types.RegType(vk.Type),
		DataSize:  vk.DataSize(),
		Data:      s.recoverData(vk),
	})
}

// recoverData fetches a recovered value's data when the reference still
// resolves, from allocated or free space alike. Nil means unrecoverable,
// which callers distinguish from an empty value via DataSize.
func (s *Scanner) recoverData(vk format.VKRecord) []byte {
	want := vk.DataSize()
	if want == 0 {
		return nil
	}
	if vk.DataInline() {
		return vk.InlineData()
	}
	e, ok := s.r.Map().Lookup(vk.DataOffset)
	if !ok {
		return nil
	}
	var payload []byte
	switch e.State {
	case cellmap.StateAllocated:
		payload, _ = s.r.Map().Payload(vk.DataOffset)
	case cellmap.StateFree:
		payload = s.r.Map().FreePayload(e)
	}
	if payload == nil || want > len(payload) {
		// Big-data reassembly from free space is too unreliable to attempt.
		return nil
	}
	out := make([]byte, want)
	copy(out, payload[:want])
	return out
}

func (s *Scanner) dupIssue(off uint32, structure string) {
	s.r.Collector().AddIssue(types.SevInfo, types.DiagRecovery, types.CodeOrphanDuplicate,
		int64(off)+format.HiveDataBase, structure,
		fmt.Sprintf("recovered %s record duplicates a linked or earlier-recovered record", structure))
}

// hashNK hashes a key's structural identity: fixed header fields and name.
func hashNK(nk format.NKRecord) [sha256.Size]byte {
	h := sha256.New()
	var fixed [20]byte
	putU16 := func(off int, v uint16) { fixed[off] = byte(v); fixed[off+1] = byte(v >> 8) }
	putU16(0, nk.Flags)
	for i := 0; i < 8; i++ {
		fixed[2+i] = byte(nk.LastWriteRaw >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		fixed[10+i] = byte(nk.ParentOffset >> (8 * i))
		fixed[14+i] = byte(nk.SubkeyCount >> (8 * i))
	}
	putU16(18, nk.NameLength)
	h.Write(fixed[:])
	h.Write(nk.NameRaw)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashVK hashes a value's structural identity: header fields and name.
func hashVK(vk format.VKRecord) [sha256.Size]byte {
	h := sha256.New()
	var fixed [14]byte
	fixed[0] = byte(vk.NameLength)
	fixed[1] = byte(vk.NameLength >> 8)
	for i := 0; i < 4; i++ {
		fixed[2+i] = byte(vk.DataLength >> (8 * i))
		fixed[6+i] = byte(vk.DataOffset >> (8 * i))
		fixed[10+i] = byte(vk.Type >> (8 * i))
	}
	h.Write(fixed[:])
	h.Write(vk.NameRaw)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
