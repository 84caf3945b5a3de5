package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hivescout/internal/cellmap"
	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/reader"
	"github.com/joshuapare/hivescout/internal/testutil"
	"github.com/joshuapare/hivescout/pkg/types"
)

func newScanner(t *testing.T, b *testutil.HiveBuilder) (*Scanner, *diag.Collector) {
	t.Helper()
	bins := b.Bins()
	col := diag.NewCollector(int64(len(bins)))
	cm, err := cellmap.Build(bins, 0, col)
	require.NoError(t, err)
	return New(reader.New(cm, col, types.DefaultOptions())), col
}

func byName(orphans []types.OrphanRecord, name string) *types.OrphanRecord {
	for i := range orphans {
		if orphans[i].Name == name {
			return &orphans[i]
		}
	}
	return nil
}

func TestScanRecoversDeletedKey(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "ROOT"})
	deleted := b.AddFreeCell(testutil.EncodeNK(testutil.NKSpec{
		Name:      "DeletedKey",
		Parent:    root,
		LastWrite: 131000000000000000,
	}))

	s, _ := newScanner(t, b)
	orphans := s.Scan(root)

	rec := byName(orphans, "DeletedKey")
	require.NotNil(t, rec, "deleted key not recovered: %+v", orphans)
	assert.Equal(t, types.OrphanKey, rec.Kind)
	assert.True(t, rec.FromFree)
	assert.Equal(t, deleted, rec.Offset)
	assert.Equal(t, root, rec.ParentHint)
	assert.False(t, rec.LastWrite.IsZero())
}

func TestScanRecoversDeletedValueWithData(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "ROOT"})
	// The VK is freed but its data cell is still allocated (and unreachable).
	dataOff := b.AddCell([]byte("old-data"))
	b.AddFreeCell(testutil.EncodeVK(testutil.VKSpec{
		Name:    "DeletedValue",
		Type:    format.RegBinary,
		DataLen: 8,
		DataOff: dataOff,
	}))

	s, _ := newScanner(t, b)
	orphans := s.Scan(root)

	rec := byName(orphans, "DeletedValue")
	require.NotNil(t, rec)
	assert.Equal(t, types.OrphanValue, rec.Kind)
	assert.Equal(t, types.REG_BINARY, rec.Type)
	assert.Equal(t, 8, rec.DataSize)
	assert.Equal(t, []byte("old-data"), rec.Data)
}

func TestScanFindsUnreachableAllocatedKey(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "ROOT"})
	// Allocated but never linked from the tree.
	unlinked := b.AddNK(testutil.NKSpec{Name: "Unlinked", Parent: root})

	s, _ := newScanner(t, b)
	orphans := s.Scan(root)

	rec := byName(orphans, "Unlinked")
	require.NotNil(t, rec)
	assert.False(t, rec.FromFree)
	assert.Equal(t, unlinked, rec.Offset)
}

func TestScanSkipsLinkedRecords(t *testing.T) {
	b := testutil.NewHiveBuilder()
	child := b.AddNK(testutil.NKSpec{Name: "Child"})
	v := b.AddInlineValue("Val", format.RegDword, []byte{1, 0, 0, 0})
	vlist := b.AddValueList(v)
	list := b.AddSubkeyList(format.LFSignature, child)
	root := b.AddNK(testutil.NKSpec{Name: "ROOT", SubkeyN: 1, SubkeyList: list,
		ValueN: 1, ValueList: vlist})
	b.PatchU32(child, format.NKParentOffset, root)

	s, _ := newScanner(t, b)
	assert.Empty(t, s.Scan(root), "linked records must not appear as orphans")
}

func TestScanDeduplicatesStaleCopies(t *testing.T) {
	b := testutil.NewHiveBuilder()
	child := b.AddNK(testutil.NKSpec{Name: "Child", LastWrite: 5})
	list := b.AddSubkeyList(format.LFSignature, child)
	root := b.AddNK(testutil.NKSpec{Name: "ROOT", SubkeyN: 1, SubkeyList: list})
	b.PatchU32(child, format.NKParentOffset, root)

	// A byte-identical stale copy of the linked child, left in free space.
	stale := testutil.EncodeNK(testutil.NKSpec{Name: "Child", LastWrite: 5, Parent: root})
	b.AddFreeCell(stale)
	b.AddFreeCell(stale) // and a second copy of the copy

	s, col := newScanner(t, b)
	orphans := s.Scan(root)

	assert.Empty(t, orphans, "stale copies of linked records must be suppressed")
	assert.True(t, col.Report().Has(types.CodeOrphanDuplicate))
}

func TestScanRejectsNoise(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "ROOT"})

	// Starts with "nk" but carries an impossible subkey count.
	noise := testutil.EncodeNK(testutil.NKSpec{Name: "x", SubkeyN: 0xF0000000, SubkeyList: 8})
	b.AddFreeCell(noise)

	// Valid decode but unknown flag bits set.
	badFlags := testutil.EncodeNK(testutil.NKSpec{Name: "y", Flags: 0x8000})
	b.AddFreeCell(badFlags)

	// Too short to be any record.
	b.AddFreeCell([]byte{'n', 'k', 0})

	s, _ := newScanner(t, b)
	assert.Empty(t, s.Scan(root))
}
