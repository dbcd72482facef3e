package olefs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDirEntryRoundTrip(t *testing.T) {
	in := DirEntry{
		Valid:        true,
		Name:         "Workbook",
		Dir:          false,
		Size:         1234,
		Start:        42,
		Prev:         7,
		Next:         NO_STREAM,
		Child:        NO_STREAM,
		CLSID:        uuid.MustParse("12345678-9abc-def0-1234-56789abcdef0"),
		StateBits:    3,
		CreationTime: 11,
		ModifiedTime: 22,
	}

	buffer := make([]byte, DIR_ENTRY_LEN)
	writeDirEntry(buffer, &in, ObjStream)

	out := parseDirEntry(buffer)
	require.True(t, out.Valid)
	require.Equal(t, in.Name, out.Name)
	require.False(t, out.Dir)
	require.Equal(t, in.Size, out.Size)
	require.Equal(t, in.Start, out.Start)
	require.Equal(t, in.Prev, out.Prev)
	require.Equal(t, in.Next, out.Next)
	require.Equal(t, in.Child, out.Child)
	require.Equal(t, in.CLSID, out.CLSID)
	require.Equal(t, in.StateBits, out.StateBits)
	require.Equal(t, in.CreationTime, out.CreationTime)
	require.Equal(t, in.ModifiedTime, out.ModifiedTime)
}

func TestDirEntryStorageType(t *testing.T) {
	in := DirEntry{Valid: true, Name: "Pool", Dir: true, Start: NO_STREAM, Prev: NO_STREAM, Next: NO_STREAM, Child: 3}

	buffer := make([]byte, DIR_ENTRY_LEN)
	writeDirEntry(buffer, &in, ObjStorage)

	out := parseDirEntry(buffer)
	require.True(t, out.Valid)
	require.True(t, out.Dir)
	require.Equal(t, uint32(3), out.Child)
}

func TestDirEntryInvalidSlot(t *testing.T) {
	in := DirEntry{Name: "gone"}

	buffer := make([]byte, DIR_ENTRY_LEN)
	writeDirEntry(buffer, &in, ObjUnallocated)

	out := parseDirEntry(buffer)
	require.False(t, out.Valid)
}

func TestDirEntryNameTruncation(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz0123456789" // over 31 chars
	in := DirEntry{Valid: true, Name: long, Prev: NO_STREAM, Next: NO_STREAM, Child: NO_STREAM}

	buffer := make([]byte, DIR_ENTRY_LEN)
	writeDirEntry(buffer, &in, ObjStream)

	out := parseDirEntry(buffer)
	require.Equal(t, long[:MAX_NAME_LEN], out.Name)
}

func TestDirEntryCompare(t *testing.T) {
	a := DirEntry{Name: "bb"}
	b := DirEntry{Name: "aaa"}

	require.Equal(t, OrderLess, a.Compare(&b))
	require.Equal(t, OrderGreater, b.Compare(&a))
	require.Equal(t, OrderEqual, a.Compare(&DirEntry{Name: "bb"}))
}
