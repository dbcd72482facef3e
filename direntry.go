package olefs

import (
	"encoding/binary"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// DirEntry is one 128-byte directory record. Valid is kept in memory only,
// it is persisted as a zero type byte.
type DirEntry struct {
	Valid bool
	Name  string
	Dir   bool
	Size  uint32
	Start uint32
	Prev  uint32
	Next  uint32
	Child uint32

	Color        Color
	CLSID        uuid.UUID
	StateBits    uint32
	CreationTime uint64
	ModifiedTime uint64
}

// Compare orders entries by the sibling-tree comparator: name length
// first, bytewise on ties.
func (e *DirEntry) Compare(other *DirEntry) Ordering {
	return CompareNames(e.Name, other.Name)
}

func (e *DirEntry) CompareName(name string) Ordering {
	return CompareNames(e.Name, name)
}

// parseDirEntry decodes one 128-byte record. Names are stored as UTF-16;
// only the low byte of each code unit is retained, a known simplification
// carried over for compatibility.
func parseDirEntry(buffer []byte) DirEntry {
	nameLen := int(binary.LittleEndian.Uint16(buffer[0x40:]))
	if nameLen > 64 {
		nameLen = 64
	}

	name := make([]byte, 0, MAX_NAME_LEN)
	for j := 0; j < nameLen && buffer[j] != 0; j += 2 {
		name = append(name, buffer[j])
	}

	// first char isn't printable ? remove it...
	if len(name) > 0 && buffer[0] < 32 {
		name = name[1:]
	}

	objType := ObjectFromByte(buffer[0x42])

	e := DirEntry{
		Valid:        objType != ObjUnallocated,
		Name:         string(name),
		Dir:          objType != ObjStream,
		Color:        ColorFromByte(buffer[0x43]),
		Prev:         binary.LittleEndian.Uint32(buffer[0x44:]),
		Next:         binary.LittleEndian.Uint32(buffer[0x48:]),
		Child:        binary.LittleEndian.Uint32(buffer[0x4c:]),
		StateBits:    binary.LittleEndian.Uint32(buffer[0x60:]),
		CreationTime: binary.LittleEndian.Uint64(buffer[0x64:]),
		ModifiedTime: binary.LittleEndian.Uint64(buffer[0x6c:]),
		Start:        binary.LittleEndian.Uint32(buffer[0x74:]),
		Size:         binary.LittleEndian.Uint32(buffer[0x78:]),
	}
	copy(e.CLSID[:], buffer[0x50:0x60])

	if nameLen < 1 {
		e.Valid = false
	}

	return e
}

// writeDirEntry encodes one record into a zeroed 128-byte slot. The caller
// decides the type byte; the color is always written black.
func writeDirEntry(buffer []byte, e *DirEntry, objType ObjectType) {
	for i := 0; i < DIR_ENTRY_LEN; i++ {
		buffer[i] = 0
	}

	name := e.Name
	if len(name) > MAX_NAME_LEN {
		name = name[:MAX_NAME_LEN]
	}

	if encoded, err := utf16Encoder.Bytes([]byte(name)); err == nil {
		copy(buffer[:64], encoded)
	}
	binary.LittleEndian.PutUint16(buffer[0x40:], uint16(len(name)*2+2))

	buffer[0x42] = objType.AsByte()
	buffer[0x43] = Black.AsByte()
	binary.LittleEndian.PutUint32(buffer[0x44:], e.Prev)
	binary.LittleEndian.PutUint32(buffer[0x48:], e.Next)
	binary.LittleEndian.PutUint32(buffer[0x4c:], e.Child)
	copy(buffer[0x50:0x60], e.CLSID[:])
	binary.LittleEndian.PutUint32(buffer[0x60:], e.StateBits)
	binary.LittleEndian.PutUint64(buffer[0x64:], e.CreationTime)
	binary.LittleEndian.PutUint64(buffer[0x6c:], e.ModifiedTime)
	binary.LittleEndian.PutUint32(buffer[0x74:], e.Start)
	binary.LittleEndian.PutUint32(buffer[0x78:], e.Size)
}

// EntryInfo is the public metadata view of a directory entry.
type EntryInfo struct {
	Name  string
	Path  string
	Dir   bool
	Size  uint32
	CLSID uuid.UUID
}
