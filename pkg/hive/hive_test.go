package hive

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hivescout/internal/format"
	"github.com/joshuapare/hivescout/internal/testutil"
	"github.com/joshuapare/hivescout/pkg/types"
)

func utf16le(s string) []byte {
	b := make([]byte, 0, len(s)*2)
	for _, r := range s {
		b = append(b, byte(r), byte(r>>8))
	}
	return b
}

// buildTree assembles Root{Software{Version, Vendor}, System} and returns
// the image plus the root and Software offsets.
func buildTree(t *testing.T) (img []byte, rootOff, softwareOff uint32) {
	t.Helper()
	b := testutil.NewHiveBuilder()

	version := b.AddInlineValue("Version", uint32(types.REG_DWORD), []byte{42, 0, 0, 0})
	vendor := b.AddValueWithData("Vendor", uint32(types.REG_SZ), utf16le("Acme\x00"))
	valueList := b.AddValueList(version, vendor)

	softwareOff = b.AddNK(testutil.NKSpec{
		Name: "Software", LastWrite: 133500000000000000,
		ValueN: 2, ValueList: valueList,
	})
	system := b.AddNK(testutil.NKSpec{Name: "System"})
	subkeys := b.AddSubkeyList(format.LFSignature, softwareOff, system)

	rootOff = b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		SubkeyN: 2, SubkeyList: subkeys,
	})
	b.PatchU32(softwareOff, format.NKParentOffset, rootOff)
	b.PatchU32(system, format.NKParentOffset, rootOff)

	return b.BuildImage(rootOff), rootOff, softwareOff
}

func TestParseCleanHive(t *testing.T) {
	img, rootOff, _ := buildTree(t)

	h, err := Parse(img, nil)
	require.NoError(t, err)

	info := h.Info()
	assert.True(t, info.ChecksumValid)
	assert.False(t, info.Dirty)
	assert.Equal(t, rootOff, info.RootCellOffset)
	assert.Equal(t, 0, info.LogsApplied)
	assert.False(t, info.LastWrite.IsZero())

	root, err := h.Root()
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "Root", root.Name())
	assert.Equal(t, "Root", root.Path())

	subkeys, err := root.Subkeys()
	require.NoError(t, err)
	require.Len(t, subkeys, 2)
	assert.Equal(t, "Software", subkeys[0].Name())
	assert.Equal(t, "System", subkeys[1].Name())
	assert.Equal(t, `Root\Software`, subkeys[0].Path())
	assert.False(t, subkeys[0].LastWrite().IsZero())

	assert.False(t, h.Diagnostics().HasAnyIssues())
}

func TestKeyAtCaseInsensitive(t *testing.T) {
	img, _, _ := buildTree(t)
	h, err := Parse(img, nil)
	require.NoError(t, err)

	k, err := h.KeyAt(`SOFTWARE`)
	require.NoError(t, err)
	assert.Equal(t, "Software", k.Name())

	_, err = h.KeyAt(`Software\Missing`)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestValueAccess(t *testing.T) {
	img, _, _ := buildTree(t)
	h, err := Parse(img, nil)
	require.NoError(t, err)

	software, err := h.KeyAt("Software")
	require.NoError(t, err)
	assert.Equal(t, 2, software.ValueCount())

	version, err := software.Value("version")
	require.NoError(t, err)
	assert.Equal(t, types.REG_DWORD, version.Type())
	n, err := version.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)

	vendor, err := software.Value("Vendor")
	require.NoError(t, err)
	s, err := vendor.Text()
	require.NoError(t, err)
	assert.Equal(t, "Acme", s)

	// Typed accessors reject mismatched types.
	_, err = vendor.Uint32()
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
	_, err = version.Text()
	assert.ErrorIs(t, err, types.ErrTypeMismatch)

	_, err = software.Value("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestValueTypes(t *testing.T) {
	b := testutil.NewHiveBuilder()
	multi := b.AddValueWithData("Paths", uint32(types.REG_MULTI_SZ), utf16le("a\x00bb\x00\x00"))
	be := b.AddValueWithData("Counter", uint32(types.REG_DWORD_BE), []byte{0, 0, 1, 2})
	qword := b.AddValueWithData("Big", uint32(types.REG_QWORD),
		[]byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11})
	bin := b.AddValueWithData("Blob", uint32(types.REG_BINARY), []byte{1, 2, 3})
	valueList := b.AddValueList(multi, be, qword, bin)
	root := b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		ValueN: 4, ValueList: valueList,
	})

	h, err := Parse(b.BuildImage(root), nil)
	require.NoError(t, err)
	k, err := h.Root()
	require.NoError(t, err)

	v, err := k.Value("Paths")
	require.NoError(t, err)
	parts, err := v.Texts()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb"}, parts)

	v, err = k.Value("Counter")
	require.NoError(t, err)
	n, err := v.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0102), n)

	v, err = k.Value("Big")
	require.NoError(t, err)
	q, err := v.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), q)

	v, err = k.Value("Blob")
	require.NoError(t, err)
	data, err := v.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, 3, v.Size())
	_, err = v.Texts()
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestWalk(t *testing.T) {
	img, _, _ := buildTree(t)
	h, err := Parse(img, nil)
	require.NoError(t, err)

	var paths []string
	err = h.Walk(func(k *Key) error {
		paths = append(paths, k.Path())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", `Root\Software`, `Root\System`}, paths)

	// SkipSubtree prunes without aborting.
	paths = nil
	err = h.Walk(func(k *Key) error {
		paths = append(paths, k.Name())
		if k.Name() == "Software" {
			return SkipSubtree
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", "Software", "System"}, paths)
}

func TestCorruptSubkeySkipped(t *testing.T) {
	b := testutil.NewHiveBuilder()
	good := b.AddNK(testutil.NKSpec{Name: "Good"})
	// Second entry points past the end of the bin region.
	subkeys := b.AddSubkeyList(format.LFSignature, good, 0x4000)
	root := b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		SubkeyN: 2, SubkeyList: subkeys,
	})
	b.PatchU32(good, format.NKParentOffset, root)

	h, err := Parse(b.BuildImage(root), nil)
	require.NoError(t, err)

	rootKey, err := h.Root()
	require.NoError(t, err)
	children, err := rootKey.Subkeys()
	require.NoError(t, err)
	require.Len(t, children, 1, "good sibling must survive the bad reference")
	assert.Equal(t, "Good", children[0].Name())

	rep := h.Diagnostics()
	assert.True(t, rep.Has(types.CodeDanglingOffset))
	assert.True(t, rep.HasErrors())
}

func TestChecksumMismatchIsAdvisory(t *testing.T) {
	img, _, _ := buildTree(t)
	img[format.REGFTimeStampOffset] ^= 0xFF

	h, err := Parse(img, nil)
	require.NoError(t, err, "checksum mismatch must not abort the parse")
	assert.False(t, h.Info().ChecksumValid)
	assert.True(t, h.Diagnostics().Has(types.CodeChecksumMismatch))

	// The tree stays readable.
	k, err := h.KeyAt("Software")
	require.NoError(t, err)
	assert.Equal(t, "Software", k.Name())
}

func TestDirtyHiveWithoutLogs(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "Root", Flags: format.NKFlagHiveEntry})

	h, err := Parse(b.BuildImageSeq(root, 3, 2), nil)
	require.NoError(t, err)
	assert.True(t, h.Info().Dirty)
	assert.True(t, h.Diagnostics().Has(types.CodeNoLogApplied))
}

func TestSubkeyCycleDetected(t *testing.T) {
	b := testutil.NewHiveBuilder()
	child := b.AddNK(testutil.NKSpec{Name: "Child", SubkeyN: 1, SubkeyList: 0})
	rootList := b.AddSubkeyList(format.LFSignature, child)
	root := b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		SubkeyN: 1, SubkeyList: rootList,
	})
	childList := b.AddSubkeyList(format.LFSignature, root) // points back up
	b.PatchU32(child, format.NKSubkeyListOffset, childList)
	b.PatchU32(child, format.NKParentOffset, root)

	h, err := Parse(b.BuildImage(root), nil)
	require.NoError(t, err)

	rootKey, err := h.Root()
	require.NoError(t, err)
	children, err := rootKey.Subkeys()
	require.NoError(t, err)
	require.Len(t, children, 1)

	grandchildren, err := children[0].Subkeys()
	require.NoError(t, err)
	assert.Empty(t, grandchildren, "the edge closing the cycle must be dropped")
	assert.True(t, h.Diagnostics().Has(types.CodeCycleDetected))
}

func TestDepthLimit(t *testing.T) {
	b := testutil.NewHiveBuilder()
	leaf := b.AddNK(testutil.NKSpec{Name: "Leaf"})
	midList := b.AddSubkeyList(format.LFSignature, leaf)
	mid := b.AddNK(testutil.NKSpec{Name: "Mid", SubkeyN: 1, SubkeyList: midList})
	rootList := b.AddSubkeyList(format.LFSignature, mid)
	root := b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		SubkeyN: 1, SubkeyList: rootList,
	})

	h, err := Parse(b.BuildImage(root), &types.Options{MaxDepth: 1})
	require.NoError(t, err)

	var names []string
	err = h.Walk(func(k *Key) error {
		names = append(names, k.Name())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", "Mid"}, names, "keys past the depth bound are skipped")
	assert.True(t, h.Diagnostics().Has(types.CodeDepthExceeded))
}

func TestSecurityDescriptorsShared(t *testing.T) {
	b := testutil.NewHiveBuilder()
	sk := b.AddSK(0, 0, 2, []byte{1, 0, 4, 0x80})
	b.PatchU32(sk, format.SKFlinkOffset, sk) // single-node circular list
	b.PatchU32(sk, format.SKBlinkOffset, sk)

	child := b.AddNK(testutil.NKSpec{Name: "Child", Security: sk})
	subkeys := b.AddSubkeyList(format.LFSignature, child)
	root := b.AddNK(testutil.NKSpec{
		Name: "Root", Flags: format.NKFlagHiveEntry,
		SubkeyN: 1, SubkeyList: subkeys, Security: sk,
	})
	b.PatchU32(child, format.NKParentOffset, root)

	h, err := Parse(b.BuildImage(root), nil)
	require.NoError(t, err)

	rootKey, err := h.Root()
	require.NoError(t, err)
	children, err := rootKey.Subkeys()
	require.NoError(t, err)
	require.Len(t, children, 1)

	a, err := rootKey.Security()
	require.NoError(t, err)
	bsd, err := children[0].Security()
	require.NoError(t, err)
	assert.Same(t, a, bsd, "keys with the same SK cell share one descriptor")
	assert.Equal(t, uint32(2), a.ReferenceCount)

	chain, err := h.SecurityChain()
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestParseWithLogsRecoversDirtyHive(t *testing.T) {
	stale := testutil.NewHiveBuilder()
	staleRoot := stale.AddNK(testutil.NKSpec{Name: "StaleRoot", Flags: format.NKFlagHiveEntry})

	fresh := testutil.NewHiveBuilder()
	freshRoot := fresh.AddNK(testutil.NKSpec{Name: "FreshRoot", Flags: format.NKFlagHiveEntry})
	require.Equal(t, staleRoot, freshRoot, "both trees place the root at the same cell")

	freshBins := fresh.Bins()
	base := stale.BuildImageSeq(staleRoot, 3, 2)
	logFile := testutil.BuildLog(testutil.BuildLogEntry(2, uint32(len(freshBins)),
		testutil.LogPage{Target: 0, Data: freshBins}))

	h, err := ParseWithLogs(base, logFile, nil, nil)
	require.NoError(t, err)

	info := h.Info()
	assert.Equal(t, 1, info.LogsApplied)
	assert.False(t, info.Dirty, "replay stamps matching sequence numbers")
	assert.True(t, info.ChecksumValid)

	root, err := h.Root()
	require.NoError(t, err)
	assert.Equal(t, "FreshRoot", root.Name())
}

func TestParseWithStaleLogs(t *testing.T) {
	img, _, _ := buildTree(t)
	// Entries older than the base's secondary sequence are skipped.
	logFile := testutil.BuildLog(testutil.BuildLogEntry(0, 0x1000,
		testutil.LogPage{Target: 0, Data: testutil.BinPage(0, 0xCC)}))

	h, err := ParseWithLogs(img, logFile, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Info().LogsApplied)
	assert.True(t, h.Diagnostics().Has(types.CodeNoLogApplied))

	root, err := h.Root()
	require.NoError(t, err)
	assert.Equal(t, "Root", root.Name())
}

func TestOrphanRecovery(t *testing.T) {
	b := testutil.NewHiveBuilder()
	root := b.AddNK(testutil.NKSpec{Name: "Root", Flags: format.NKFlagHiveEntry})
	b.AddFreeCell(testutil.EncodeNK(testutil.NKSpec{
		Name: "Ghost", Parent: root, LastWrite: 133600000000000000,
	}))

	h, err := Parse(b.BuildImage(root), nil)
	require.NoError(t, err)

	orphans := h.Orphans()
	require.Len(t, orphans, 1)
	assert.Equal(t, types.OrphanKey, orphans[0].Kind)
	assert.Equal(t, "Ghost", orphans[0].Name)
	assert.True(t, orphans[0].FromFree)
	assert.Equal(t, root, orphans[0].ParentHint)

	// The scan runs once; repeat calls return the same result.
	again := h.Orphans()
	assert.Len(t, again, 1)

	// The gate disables the scan entirely.
	opts := types.DefaultOptions()
	opts.RecoverDeleted = false
	h2, err := Parse(b.BuildImage(root), &opts)
	require.NoError(t, err)
	assert.Nil(t, h2.Orphans())
}

func TestNotAHive(t *testing.T) {
	_, err := Parse(make([]byte, 8192), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, format.ErrSignatureMismatch)

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindFormat, terr.Kind)
}

func TestRejectsLogAsPrimary(t *testing.T) {
	logFile := testutil.BuildLog()
	padded := make([]byte, format.HeaderSize)
	copy(padded, logFile)
	_, err := Parse(padded, nil)
	require.Error(t, err)

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindFormat, terr.Kind)
	assert.Contains(t, terr.Error(), "not a primary hive")
}

func TestRejectsUnknownFileType(t *testing.T) {
	img, _, _ := buildTree(t)
	binary.LittleEndian.PutUint32(img[format.REGFTypeOffset:], 7)
	binary.LittleEndian.PutUint32(img[format.REGFCheckSumOffset:], format.HeaderChecksum(img))

	_, err := Parse(img, nil)
	require.Error(t, err)

	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindFormat, terr.Kind)
	assert.Contains(t, terr.Error(), "not a primary hive")
}

func TestClose(t *testing.T) {
	img, _, _ := buildTree(t)
	h, err := Parse(img, nil)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "double close is a no-op")

	_, err = h.Root()
	assert.ErrorIs(t, err, types.ErrClosed)
	assert.Nil(t, h.Orphans())
}

func TestOpen(t *testing.T) {
	img, _, _ := buildTree(t)
	path := filepath.Join(t.TempDir(), "NTUSER.DAT")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	h, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	k, err := h.KeyAt(`Software`)
	require.NoError(t, err)
	v, err := k.Value("Vendor")
	require.NoError(t, err)
	s, err := v.Text()
	require.NoError(t, err)
	assert.Equal(t, "Acme", s)
}
