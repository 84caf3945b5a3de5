package reader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hivescout/internal/cellmap"
	"github.com/joshuapare/hivescout/internal/diag"
	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/testutil"
	"github.com/joshuapare/hivescout/pkg/types"
)

func newReader(t *testing.T, b *testutil.HiveBuilder) (*Reader, *diag.Collector) {
	t.Helper()
	bins := b.Bins()
	col := diag.NewCollector(int64(len(bins)))
	cm, err := cellmap.Build(bins, 0, col)
	require.NoError(t, err)
	return New(cm, col, types.DefaultOptions()), col
}

func TestKeyNodeAndSubkeys(t *testing.T) {
	b := testutil.NewHiveBuilder()
	childA := b.AddNK(testutil.NKSpec{Name: "Alpha"})
	childB := b.AddNK(testutil.NKSpec{Name: "Beta"})
	list := b.AddSubkeyList(format.LFSignature, childA, childB)
	root := b.AddNK(testutil.NKSpec{Name: "ROOT", SubkeyN: 2, SubkeyList: list})
	b.PatchU32(childA, format.NKParentOffset, root)
	b.PatchU32(childB, format.NKParentOffset, root)

	r, col := newReader(t, b)

	nk, err := r.KeyNode(root)
	require.NoError(t, err)
	name, lossy := r.DecodeKeyName(nk, root)
	assert.Equal(t, "ROOT", name)
	assert.False(t, lossy)

	subs := r.SubkeyOffsets(nk)
	require.Equal(t, []uint32{childA, childB}, subs)

	a, err := r.KeyNode(childA)
	require.NoError(t, err)
	assert.Equal(t, root, a.ParentOffset)

	assert.False(t, col.Report().HasAnyIssues())
}

func TestSubkeyRIFlattening(t *testing.T) {
	b := testutil.NewHiveBuilder()
	var kids []uint32
	for _, n := range []string{"a", "b", "c", "d"} {
		kids = append(kids, b.AddNK(testutil.NKSpec{Name: n}))
	}
	lf1 := b.AddSubkeyList(format.LFSignature, kids[0], kids[1])
	lh2 := b.AddSubkeyList(format.LHSignature, kids[2])
	li3 := b.AddSubkeyList(format.LISignature, kids[3])
	ri := b.AddSubkeyList(format.RISignature, lf1, lh2, li3)
	root := b.AddNK(testutil.NKSpec{Name: "R", SubkeyN: 4, SubkeyList: ri})

	r, col := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)

	// The index root must be invisible: callers see one flat child set.
	assert.Equal(t, kids, r.SubkeyOffsets(nk))
	assert.False(t, col.Report().HasAnyIssues())
}

func TestSubkeyListCorruptionKeepsRest(t *testing.T) {
	b := testutil.NewHiveBuilder()
	kid := b.AddNK(testutil.NKSpec{Name: "ok"})
	good := b.AddSubkeyList(format.LFSignature, kid)
	ri := b.AddSubkeyList(format.RISignature, good, 0xEEEE00) // second list dangles
	root := b.AddNK(testutil.NKSpec{Name: "R", SubkeyN: 2, SubkeyList: ri})

	r, col := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)

	assert.Equal(t, []uint32{kid}, r.SubkeyOffsets(nk))
	rep := col.Report()
	assert.True(t, rep.Has(types.CodeDanglingOffset))
	assert.True(t, rep.Has(types.CodeCountMismatch))
}

func TestValueResolution(t *testing.T) {
	b := testutil.NewHiveBuilder()
	v1 := b.AddValueWithData("Version", format.RegSz, []byte("1\x000\x00\x00\x00"))
	v2 := b.AddInlineValue("Count", format.RegDword, []byte{0x2A, 0, 0, 0})
	vlist := b.AddValueList(v1, v2)
	root := b.AddNK(testutil.NKSpec{Name: "R", ValueN: 2, ValueList: vlist})

	r, col := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)

	offsets := r.ValueOffsets(nk)
	require.Equal(t, []uint32{v1, v2}, offsets)

	vk, err := r.Value(v1)
	require.NoError(t, err)
	name, _ := r.DecodeValueName(vk, v1)
	assert.Equal(t, "Version", name)
	data, err := r.ValueData(vk, v1)
	require.NoError(t, err)
	assert.Equal(t, []byte("1\x000\x00\x00\x00"), data)

	vk, err = r.Value(v2)
	require.NoError(t, err)
	assert.True(t, vk.DataInline())
	data, err = r.ValueData(vk, v2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A, 0, 0, 0}, data)

	assert.False(t, col.Report().HasAnyIssues())
}

func TestValueListCountMismatch(t *testing.T) {
	b := testutil.NewHiveBuilder()
	v1 := b.AddInlineValue("x", format.RegDword, []byte{1, 0, 0, 0})
	vlist := b.AddValueList(v1)
	// Key claims 8 values but the list holds one.
	root := b.AddNK(testutil.NKSpec{Name: "R", ValueN: 8, ValueList: vlist})

	r, col := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)

	offsets := r.ValueOffsets(nk)
	assert.Equal(t, []uint32{v1}, offsets)
	assert.True(t, col.Report().Has(types.CodeCountMismatch))
}

func TestBigDataAssembly(t *testing.T) {
	b := testutil.NewHiveBuilder()

	// Two full chunks plus a partial third.
	want := bytes.Repeat([]byte{0xAB}, format.DBChunkSize)
	want = append(want, bytes.Repeat([]byte{0xCD}, format.DBChunkSize)...)
	want = append(want, []byte{1, 2, 3, 4, 5}...)

	var blocks []uint32
	for i := 0; i < len(want); i += format.DBChunkSize {
		end := i + format.DBChunkSize
		if end > len(want) {
			end = len(want)
		}
		chunk := make([]byte, end-i, end-i+format.DBBlockPadding)
		copy(chunk, want[i:end])
		chunk = append(chunk, make([]byte, format.DBBlockPadding)...) // trailing padding
		blocks = append(blocks, b.AddCell(chunk))
	}
	db := b.AddDB(blocks...)
	vk := b.AddVK(testutil.VKSpec{Name: "big", Type: format.RegBinary,
		DataLen: uint32(len(want)), DataOff: db})

	r, col := newReader(t, b)
	rec, err := r.Value(vk)
	require.NoError(t, err)
	data, err := r.ValueData(rec, vk)
	require.NoError(t, err)
	assert.Equal(t, want, data)
	assert.False(t, col.Report().HasAnyIssues())
}

func TestValueDataTruncatedCell(t *testing.T) {
	b := testutil.NewHiveBuilder()
	dataOff := b.AddCell([]byte{1, 2, 3, 4})
	vk := b.AddVK(testutil.VKSpec{Name: "short", Type: format.RegBinary,
		DataLen: 64, DataOff: dataOff})

	r, col := newReader(t, b)
	rec, err := r.Value(vk)
	require.NoError(t, err)
	data, err := r.ValueData(rec, vk)
	require.NoError(t, err)
	// Short data comes back as far as it goes, with a diagnostic.
	assert.Equal(t, []byte{1, 2, 3, 4}, data[:4])
	assert.True(t, col.Report().Has(types.CodeTruncatedCell))
}

func TestClassName(t *testing.T) {
	b := testutil.NewHiveBuilder()
	cls := b.AddCell([]byte{'C', 0, 'l', 0, 's', 0})
	root := b.AddNK(testutil.NKSpec{Name: "R", ClassName: cls, ClassLen: 6})

	r, _ := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)
	got, err := r.ClassName(nk)
	require.NoError(t, err)
	assert.Equal(t, "Cls", got)
}

func TestClassNameShortCell(t *testing.T) {
	b := testutil.NewHiveBuilder()
	// Cell holds 4 bytes but the key declares 20.
	cls := b.AddCell([]byte{'A', 0, 'B', 0})
	root := b.AddNK(testutil.NKSpec{Name: "R", ClassName: cls, ClassLen: 20})

	r, col := newReader(t, b)
	nk, err := r.KeyNode(root)
	require.NoError(t, err)
	got, err := r.ClassName(nk)
	require.NoError(t, err)
	// Short data comes back as far as it goes, with a diagnostic.
	assert.Equal(t, "AB", got)
	assert.True(t, col.Report().Has(types.CodeTruncatedCell))
}

func TestSecurityArenaAndChain(t *testing.T) {
	b := testutil.NewHiveBuilder()
	// Three-node circular list: sk1 -> sk2 -> sk3 -> sk1.
	sk1 := b.AddSK(0, 0, 5, []byte{1, 0, 0, 0})
	sk2 := b.AddSK(0, sk1, 3, []byte{2, 0, 0, 0})
	sk3 := b.AddSK(sk1, sk2, 1, []byte{3, 0, 0, 0})
	b.PatchU32(sk1, format.SKFlinkOffset, sk2)
	b.PatchU32(sk1, format.SKBlinkOffset, sk3)
	b.PatchU32(sk2, format.SKFlinkOffset, sk3)

	r, col := newReader(t, b)

	sd, err := r.Security(sk2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), sd.ReferenceCount)

	again, err := r.Security(sk2)
	require.NoError(t, err)
	assert.Same(t, sd, again, "repeat lookups must share the arena entry")

	chain := r.SecurityChain(sk1)
	require.Len(t, chain, 3)
	assert.Equal(t, []uint32{sk1, sk2, sk3},
		[]uint32{chain[0].Offset, chain[1].Offset, chain[2].Offset})
	assert.False(t, col.Report().Has(types.CodeCycleDetected))
}

func TestSecurityChainCorruptLink(t *testing.T) {
	b := testutil.NewHiveBuilder()
	sk2 := b.AddSK(0, 0, 1, []byte{2})
	sk1 := b.AddSK(sk2, sk2, 1, []byte{1})
	// sk2 links back to itself instead of closing at sk1.
	b.PatchU32(sk2, format.SKFlinkOffset, sk2)

	r, col := newReader(t, b)
	chain := r.SecurityChain(sk1)
	assert.Len(t, chain, 2)
	assert.True(t, col.Report().Has(types.CodeCycleDetected))
}

func TestDanglingKeyReference(t *testing.T) {
	b := testutil.NewHiveBuilder()
	b.AddNK(testutil.NKSpec{Name: "R"})

	r, col := newReader(t, b)
	_, err := r.KeyNode(0xABC000)
	require.Error(t, err)
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindCorrupt, terr.Kind)
	assert.True(t, col.Report().Has(types.CodeDanglingOffset))
}
