package olefs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header is the fixed 512-byte file prologue. BbBlocks holds the inline
// part of the DIFAT; FAT sectors beyond the first 109 are indexed through
// the meta-FAT chain starting at MbatStart.
type Header struct {
	Id           [8]byte
	MajorVersion uint16
	BShift       uint16 // bbat block size = 1 << BShift
	SShift       uint16 // sbat block size = 1 << SShift
	NumBat      uint32 // blocks allocated for big bat
	DirentStart uint32 // starting block for directory info
	Threshold   uint32 // switch from small to big file (usually 4K)
	SbatStart   uint32 // starting block index to store small bat
	NumSbat     uint32 // blocks allocated for small bat
	MbatStart   uint32 // starting block to store meta bat
	NumMbat     uint32 // blocks allocated for meta bat
	BbBlocks    [NUM_DIFAT_ENTRIES_IN_HEADER]uint32
	Dirty       bool
}

func NewHeader() *Header {
	h := Header{
		MajorVersion: MAJOR_VERSION,
		BShift:       9,
		SShift:       MINI_SECTOR_SHIFT,
		Threshold:    MINI_STREAM_CUTOFF,
		MbatStart:    END_OF_CHAIN,
		Dirty:        true,
	}

	copy(h.Id[:], MAGIC_NUMBER)
	for i := range h.BbBlocks {
		h.BbBlocks[i] = FREE_SECTOR
	}

	return &h
}

func (h *Header) BigBlockSize() uint32 {
	return 1 << h.BShift
}

func (h *Header) SmallBlockSize() uint32 {
	return 1 << h.SShift
}

func (h *Header) IsOLE() bool {
	return bytes.Equal(h.Id[:], MAGIC_NUMBER)
}

func (h *Header) Valid() bool {
	if h.Threshold != MINI_STREAM_CUTOFF {
		return false
	}
	if h.NumBat == 0 {
		return false
	}
	if h.NumBat < uint32(NUM_DIFAT_ENTRIES_IN_HEADER) && h.NumMbat != 0 {
		return false
	}
	if h.SShift > h.BShift {
		return false
	}
	if h.BShift <= 6 || h.BShift >= 31 {
		return false
	}

	return true
}

func (h *Header) Load(buffer []byte) error {
	if len(buffer) < HEADER_LEN {
		return fmt.Errorf("header is %v bytes, expected %v: %w", len(buffer), HEADER_LEN, ErrorInvalidCFB)
	}

	copy(h.Id[:], buffer[:8])

	h.MajorVersion = binary.LittleEndian.Uint16(buffer[0x1c:])
	h.BShift = binary.LittleEndian.Uint16(buffer[0x1e:])
	h.SShift = binary.LittleEndian.Uint16(buffer[0x20:])
	h.NumBat = binary.LittleEndian.Uint32(buffer[0x2c:])
	h.DirentStart = binary.LittleEndian.Uint32(buffer[0x30:])
	h.Threshold = binary.LittleEndian.Uint32(buffer[0x38:])
	h.SbatStart = binary.LittleEndian.Uint32(buffer[0x3c:])
	h.NumSbat = binary.LittleEndian.Uint32(buffer[0x40:])
	h.MbatStart = binary.LittleEndian.Uint32(buffer[0x44:])
	h.NumMbat = binary.LittleEndian.Uint32(buffer[0x48:])

	for i := range h.BbBlocks {
		h.BbBlocks[i] = binary.LittleEndian.Uint32(buffer[0x4c+i*4:])
	}

	h.Dirty = false
	return nil
}

func (h *Header) Save(buffer []byte) {
	for i := 0; i < 0x4c; i++ {
		buffer[i] = 0
	}

	copy(buffer, MAGIC_NUMBER)
	binary.LittleEndian.PutUint16(buffer[0x18:], BYTE_ORDER_MARK)
	binary.LittleEndian.PutUint16(buffer[0x1a:], MINOR_VERSION)
	binary.LittleEndian.PutUint16(buffer[0x1c:], MAJOR_VERSION)
	binary.LittleEndian.PutUint16(buffer[0x1e:], h.BShift)
	binary.LittleEndian.PutUint16(buffer[0x20:], h.SShift)
	binary.LittleEndian.PutUint32(buffer[0x2c:], h.NumBat)
	binary.LittleEndian.PutUint32(buffer[0x30:], h.DirentStart)
	binary.LittleEndian.PutUint32(buffer[0x38:], h.Threshold)
	binary.LittleEndian.PutUint32(buffer[0x3c:], h.SbatStart)
	binary.LittleEndian.PutUint32(buffer[0x40:], h.NumSbat)
	binary.LittleEndian.PutUint32(buffer[0x44:], h.MbatStart)
	binary.LittleEndian.PutUint32(buffer[0x48:], h.NumMbat)

	for i := range h.BbBlocks {
		binary.LittleEndian.PutUint32(buffer[0x4c+i*4:], h.BbBlocks[i])
	}

	h.Dirty = false
}
