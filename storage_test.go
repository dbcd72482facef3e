package olefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempContainer(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.ole")
}

func TestCreateSingleSmallStream(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)

	stream, err := st.CreateStream("/hello.txt", 11)
	require.NoError(t, err)

	payload := []byte("hello world")
	require.Equal(t, uint32(len(payload)), stream.WriteAt(0, payload))
	require.NoError(t, st.Flush())
	require.NoError(t, st.Close())

	st, err = Open(filename, false)
	require.NoError(t, err)
	defer st.Close()

	require.Equal(t, []string{"hello.txt"}, st.Entries("/"))

	stream, err = st.OpenStream("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint32(11), stream.Size())

	data := make([]byte, 11)
	require.Equal(t, uint32(11), stream.ReadAt(0, data))
	require.Equal(t, payload, data)
}

func TestNestedPathCreation(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.CreateStream("/A/B/C", 5)
	require.NoError(t, err)

	require.True(t, st.Exists("/A"))
	require.True(t, st.IsDirectory("/A"))
	require.True(t, st.IsDirectory("/A/B"))
	require.True(t, st.Exists("/A/B/C"))
	require.False(t, st.IsDirectory("/A/B/C"))

	require.Equal(t, []string{"A"}, st.Entries("/"))
	require.Equal(t, []string{"B"}, st.Entries("/A"))
	require.Equal(t, []string{"C"}, st.Entries("/A/B"))
}

func TestSiblingOrdering(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)

	for _, name := range []string{"aaa", "bb", "c", "dddd"} {
		_, err := st.CreateStream("/"+name, 1)
		require.NoError(t, err)
	}

	// length-major, lexicographic on ties
	require.Equal(t, []string{"c", "bb", "aaa", "dddd"}, st.Entries("/"))

	require.NoError(t, st.Close())

	st, err = OpenValidated(filename, false, ValidationStrict)
	require.NoError(t, err)
	defer st.Close()

	require.Equal(t, []string{"c", "bb", "aaa", "dddd"}, st.Entries("/"))
}

func TestDeleteAndReuse(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}

	stream, err := st.CreateStream("/x", uint32(len(payload)))
	require.NoError(t, err)
	stream.WriteAt(0, payload)
	require.NoError(t, st.Flush())

	xIdx := st.io.dirtree.EntryIndex("/x", false, nil, 0)
	xChain := st.io.sbat.Follow(st.io.dirtree.Entry(xIdx).Start)
	require.NotEmpty(t, xChain)

	require.True(t, st.DeleteByName("/x"))
	require.False(t, st.Exists("/x"))

	stream, err = st.CreateStream("/y", uint32(len(payload)))
	require.NoError(t, err)
	stream.WriteAt(0, payload)

	yIdx := st.io.dirtree.EntryIndex("/y", false, nil, 0)
	yChain := st.io.sbat.Follow(st.io.dirtree.Entry(yIdx).Start)

	// first-fit allocation reuses the freed blocks
	require.Subset(t, xChain, yChain)

	// the deleted slot is reused as well
	require.Equal(t, xIdx, yIdx)
}

func TestDeleteRecursive(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	for _, path := range []string{"/A/B/C", "/A/D", "/A/B/E"} {
		_, err := st.CreateStream(path, 64)
		require.NoError(t, err)
	}
	_, err = st.CreateStream("/keep", 8)
	require.NoError(t, err)

	require.True(t, st.DeleteByName("/A"))

	require.False(t, st.Exists("/A"))
	require.False(t, st.Exists("/A/B/C"))
	require.False(t, st.Exists("/A/D"))
	require.True(t, st.Exists("/keep"))
	require.Equal(t, []string{"keep"}, st.Entries("/"))
}

func TestDeleteMiddleSiblingKeepsOrdering(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	for _, name := range []string{"aaa", "bb", "c", "dddd", "ee"} {
		_, err := st.CreateStream("/"+name, 1)
		require.NoError(t, err)
	}

	require.True(t, st.DeleteByName("/bb"))
	require.Equal(t, []string{"c", "ee", "aaa", "dddd"}, st.Entries("/"))

	require.True(t, st.DeleteByName("/aaa"))
	require.Equal(t, []string{"c", "ee", "dddd"}, st.Entries("/"))

	// the tree stays consistent for lookups after the splices
	require.True(t, st.Exists("/c"))
	require.True(t, st.Exists("/ee"))
	require.True(t, st.Exists("/dddd"))
	require.False(t, st.Exists("/bb"))
}

func TestDeleteRoot(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	require.False(t, st.DeleteByName("/"))
}

func TestCreateDeleteKeepsAllocationBalanced(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.CreateStream("/base", 100)
	require.NoError(t, err)
	require.NoError(t, st.Flush())

	before := st.Stats()

	stream, err := st.CreateStream("/tmp", 3000)
	require.NoError(t, err)
	stream.WriteAt(0, make([]byte, 3000))
	require.True(t, st.DeleteByName("/tmp"))

	after := st.Stats()

	// every small block claimed by the deleted stream is free again
	require.Equal(t, before.SmallBlocks-before.UnusedSmallBlocks,
		after.SmallBlocks-after.UnusedSmallBlocks)
}

func TestDifatOverflow(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)

	payload := make([]byte, 8<<20)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	stream, err := st.CreateStream("/big", uint32(len(payload)))
	require.NoError(t, err)
	require.Equal(t, uint32(len(payload)), stream.WriteAt(0, payload))

	require.Greater(t, st.io.header.NumBat, uint32(NUM_DIFAT_ENTRIES_IN_HEADER))
	require.NotEqual(t, END_OF_CHAIN, st.io.header.MbatStart)
	require.GreaterOrEqual(t, st.io.header.NumMbat, uint32(1))

	bigIdx := st.io.dirtree.EntryIndex("/big", false, nil, 0)
	wantChain := st.io.bbat.Follow(st.io.dirtree.Entry(bigIdx).Start)
	wantMbatData := append([]uint32(nil), st.io.mbatData...)

	require.NoError(t, st.Close())

	st, err = OpenValidated(filename, false, ValidationStrict)
	require.NoError(t, err)
	defer st.Close()

	require.Equal(t, wantMbatData, st.io.mbatData)

	gotIdx := st.io.dirtree.EntryIndex("/big", false, nil, 0)
	gotChain := st.io.bbat.Follow(st.io.dirtree.Entry(gotIdx).Start)
	require.Equal(t, wantChain, gotChain)

	stream, err = st.OpenStream("/big")
	require.NoError(t, err)

	data := make([]byte, len(payload))
	require.Equal(t, uint32(len(payload)), stream.ReadAt(0, data))
	require.Equal(t, payload, data)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.ole"), false)
	require.ErrorIs(t, err, ErrorOpenFailed)

	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 1024), 0644))
	_, err = Open(garbage, false)
	require.ErrorIs(t, err, ErrorNotOLE)

	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, MAGIC_NUMBER, 0644))
	_, err = Open(short, false)
	require.ErrorIs(t, err, ErrorNotOLE)

	// right magic, broken header internals
	bad := filepath.Join(dir, "bad.ole")
	buffer := make([]byte, 1024)
	h := NewHeader()
	h.NumBat = 1
	h.Threshold = 512 // must be 4096
	h.Save(buffer)
	require.NoError(t, os.WriteFile(bad, buffer, 0644))
	_, err = Open(bad, false)
	require.ErrorIs(t, err, ErrorBadOLE)
}

func TestReadOnlyContainer(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	_, err = st.CreateStream("/data", 10)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(filename, false)
	require.NoError(t, err)
	defer st.Close()

	require.False(t, st.IsWriteable())

	// writes are silently ignored
	stream, err := st.OpenStream("/data")
	require.NoError(t, err)
	require.Equal(t, uint32(0), stream.WriteAt(0, []byte("nope")))

	// path creation yields absent, without side effects
	_, err = st.CreateStream("/new", 10)
	require.Error(t, err)
	require.False(t, st.Exists("/new"))

	require.False(t, st.DeleteByName("/data"))
	require.True(t, st.Exists("/data"))
}

func TestStats(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	stats := st.Stats()
	require.Equal(t, uint32(1), stats.Entries) // root only

	stream, err := st.CreateStream("/s", 100)
	require.NoError(t, err)
	stream.WriteAt(0, make([]byte, 100))

	stats = st.Stats()
	require.Equal(t, uint32(2), stats.Entries)
	require.Equal(t, uint32(0), stats.UnusedEntries)
	require.Greater(t, stats.SmallBlocks, stats.UnusedSmallBlocks)
}

func TestFullNames(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	defer st.Close()

	stream, err := st.CreateStream("/A/B/C", 4)
	require.NoError(t, err)
	require.Equal(t, "/A/B/C", stream.FullName())

	infos := st.List("/A")
	require.Len(t, infos, 1)
	require.Equal(t, "/A/B", infos[0].Path)
	require.True(t, infos[0].Dir)
}

func TestRootEntryPersistence(t *testing.T) {
	filename := tempContainer(t)

	st, err := Create(filename)
	require.NoError(t, err)
	stream, err := st.CreateStream("/s", 0)
	require.NoError(t, err)
	stream.WriteAt(0, make([]byte, 200))
	require.NoError(t, st.Close())

	st, err = Open(filename, false)
	require.NoError(t, err)
	defer st.Close()

	root := st.io.dirtree.Entry(ROOT_STREAM_ID)
	require.True(t, root.Valid)
	require.True(t, root.Dir)
	require.Equal(t, ROOT_DIR_NAME, root.Name)

	// persisted start/size carry the small-block pool chain
	require.NotEmpty(t, st.io.sbBlocks)
	require.Equal(t, st.io.sbBlocks[0], root.Start)
	require.Equal(t, uint32(len(st.io.sbBlocks))*st.io.bbat.BlockSize, root.Size)
}
