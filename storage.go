package olefs

import (
	"errors"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrorInvalidCFB = errors.New("invalid cfb file")
	ErrorOpenFailed = errors.New("open failed")
	ErrorNotOLE     = errors.New("not an ole file")
	ErrorBadOLE     = errors.New("malformed ole file")
)

// backingFile is the host-file transport: positioned reads and writes
// plus a durability barrier. *os.File satisfies it.
type backingFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Close() error
}

// storageIO owns one container: header, directory tree, both allocation
// tables, the small-pool backing chain and the meta-FAT bookkeeping.
// Exclusively owned by one caller; no internal locking.
type storageIO struct {
	filename   string
	file       backingFile
	opened     bool
	filesize   uint64
	writeable  bool
	validation Validation

	header  *Header
	dirtree *DirTree
	bbat    *AllocTable // allocation table for big blocks
	sbat    *AllocTable // allocation table for small blocks

	sbBlocks   []uint32 // blocks backing the small-block pool
	mbatBlocks []uint32 // blocks holding the doubly indirect FAT index
	mbatData   []uint32 // FAT block indices beyond the header's 109
	mbatDirty  bool

	blockCache *lru.Cache[uint32, []byte]
}

func newStorageIO(filename string, validation Validation) *storageIO {
	header := NewHeader()
	cache, _ := lru.New[uint32, []byte](BLOCK_CACHE_ENTRIES)

	s := storageIO{
		filename:   filename,
		validation: validation,
		header:     header,
		bbat:       NewAllocTable(header.BigBlockSize()),
		sbat:       NewAllocTable(header.SmallBlockSize()),
		blockCache: cache,
	}
	s.dirtree = NewDirTree(s.bbat.BlockSize)

	return &s
}

func (s *storageIO) open(writeAccess, create bool) error {
	if s.opened {
		if err := s.close(); err != nil {
			return err
		}
	}

	if create {
		if err := s.create(); err != nil {
			return err
		}
		s.init()
		s.writeable = true
		return nil
	}

	s.writeable = writeAccess
	if err := s.load(writeAccess); err != nil {
		if s.file != nil {
			s.file.Close()
			s.file = nil
		}
		return err
	}

	return nil
}

func (s *storageIO) load(writeAccess bool) error {
	flags := os.O_RDONLY
	if writeAccess {
		flags = os.O_RDWR
	}

	file, err := os.OpenFile(s.filename, flags, 0)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrorOpenFailed)
	}
	s.file = file

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrorOpenFailed)
	}
	s.filesize = uint64(info.Size())

	buffer := make([]byte, HEADER_LEN)
	if n, _ := file.ReadAt(buffer, 0); n < HEADER_LEN {
		return ErrorNotOLE
	}
	if err := s.header.Load(buffer); err != nil {
		return ErrorNotOLE
	}

	if !s.header.IsOLE() {
		return ErrorNotOLE
	}
	if !s.header.Valid() {
		return ErrorBadOLE
	}

	s.bbat.BlockSize = s.header.BigBlockSize()
	s.sbat.BlockSize = s.header.SmallBlockSize()

	// load big bat through the DIFAT
	blocks := s.getBbatBlocks(true)
	if buflen := uint32(len(blocks)) * s.bbat.BlockSize; buflen > 0 {
		buffer := make([]byte, buflen)
		s.loadBigBlocks(blocks, buffer)
		s.bbat.Load(buffer)
	}

	// load small bat
	sbatBlocks := s.bbat.Follow(s.header.SbatStart)
	if buflen := uint32(len(sbatBlocks)) * s.bbat.BlockSize; buflen > 0 {
		buffer := make([]byte, buflen)
		s.loadBigBlocks(sbatBlocks, buffer)
		s.sbat.Load(buffer)
	}

	// load directory tree
	dirBlocks := s.bbat.Follow(s.header.DirentStart)
	if buflen := uint32(len(dirBlocks)) * s.bbat.BlockSize; buflen > 0 {
		buffer := make([]byte, buflen)
		s.loadBigBlocks(dirBlocks, buffer)
		s.dirtree.Load(buffer)
	}
	if s.dirtree.EntryCount() == 0 {
		return ErrorBadOLE
	}

	// fetch the block chain backing the small-block pool
	s.sbBlocks = s.bbat.Follow(s.dirtree.Entry(ROOT_STREAM_ID).Start)

	if err := s.validateLoaded(blocks, sbatBlocks); err != nil {
		return fmt.Errorf("%v: %w", err, ErrorBadOLE)
	}

	s.opened = true
	return nil
}

// validateLoaded cross-checks the loaded structures. In permissive mode
// inconsistent FAT marks are patched instead of failing the open.
func (s *storageIO) validateLoaded(fatBlocks, sbatBlocks []uint32) error {
	strict := s.validation.IsStrict()

	for _, block := range s.mbatBlocks {
		if block >= s.bbat.Count() {
			continue
		}
		if s.bbat.Get(block) != DIFAT_SECTOR {
			if strict {
				return fmt.Errorf("DIFAT sector %v is not marked as such in the FAT", block)
			}
			s.bbat.Set(block, DIFAT_SECTOR)
		}
	}

	for _, block := range fatBlocks {
		if block >= s.bbat.Count() {
			continue
		}
		if s.bbat.Get(block) != FAT_SECTOR {
			if strict {
				return fmt.Errorf("FAT sector %v is not marked as such in the FAT", block)
			}
			s.bbat.Set(block, FAT_SECTOR)
		}
	}

	if !strict {
		return nil
	}

	version, err := VersionNumber(s.header.MajorVersion)
	if err != nil {
		return err
	}
	if version.SectorLen() != s.header.BigBlockSize() {
		return fmt.Errorf("incorrect sector shift for version %v (expected %v, found %v)",
			version, version.SectorShift(), s.header.BShift)
	}

	if s.header.NumSbat != uint32(len(sbatBlocks)) {
		return fmt.Errorf("incorrect number of MiniFAT sectors (header says %v, FAT says %v)",
			s.header.NumSbat, len(sbatBlocks))
	}
	if s.header.NumMbat != uint32(len(s.mbatBlocks)) {
		return fmt.Errorf("incorrect DIFAT chain length (header says %v, actual is %v)",
			s.header.NumMbat, len(s.mbatBlocks))
	}
	if err := s.dirtree.Validate(); err != nil {
		return err
	}

	return nil
}

func (s *storageIO) create() error {
	file, err := os.OpenFile(s.filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrorOpenFailed)
	}

	s.file = file
	s.filesize = 0
	s.opened = true
	return nil
}

// init lays out a fresh container: FAT at sector 0, directory at 1,
// small FAT at 2 and the small-block pool starting at 3.
func (s *storageIO) init() {
	s.header.BbBlocks[0] = 0
	s.header.DirentStart = 1
	s.header.SbatStart = 2
	s.header.NumBat = 1
	s.header.NumSbat = 1
	s.header.Dirty = true

	for i := uint32(0); i < 4; i++ {
		s.bbat.Set(i, END_OF_CHAIN)
		s.bbat.MarkAsDirty(i, s.bbat.BlockSize)
	}

	// write out the fresh small FAT so a reopen sees free slots, not zeros
	s.sbat.MarkAsDirty(0, s.bbat.BlockSize)

	s.sbBlocks = s.bbat.Follow(3)
	s.mbatDirty = false
}

// flush commits in a fixed order: header, big FAT, small FAT, directory
// (with the root's start/size patched to the small pool), meta FAT, then
// the host-file barrier. On a crash mid-way the container is no worse
// than its pre-flush state.
func (s *storageIO) flush() error {
	if s.header.Dirty {
		buffer := make([]byte, HEADER_LEN)
		s.header.Save(buffer)
		if _, err := s.file.WriteAt(buffer, 0); err != nil {
			return err
		}
		if s.filesize < uint64(HEADER_LEN) {
			s.filesize = uint64(HEADER_LEN)
		}
	}

	if s.bbat.IsDirty() {
		s.flushBbat()
	}
	if s.sbat.IsDirty() {
		s.flushSbat()
	}

	if s.dirtree.IsDirty() {
		blocks := s.bbat.Follow(s.header.DirentStart)
		sbStart := FREE_SECTOR
		if len(s.sbBlocks) > 0 {
			sbStart = s.sbBlocks[0]
		}
		s.dirtree.Flush(blocks, s, s.bbat.BlockSize, sbStart, uint32(len(s.sbBlocks))*s.bbat.BlockSize)
	}

	s.flushMbat()

	return s.file.Sync()
}

func (s *storageIO) flushBbat() {
	blocks := s.getBbatBlocks(false)
	s.bbat.Flush(blocks, s, s.bbat.BlockSize)
}

func (s *storageIO) flushSbat() {
	blocks := s.bbat.Follow(s.header.SbatStart)
	s.sbat.Flush(blocks, s, s.bbat.BlockSize)
}

func (s *storageIO) close() error {
	if !s.opened {
		return nil
	}

	var err error
	if s.writeable {
		err = s.flush()
	}

	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.opened = false
	s.file = nil

	return err
}

func (s *storageIO) streamIO(name string, create bool, streamSize uint32) *Stream {
	if name == "" {
		return nil
	}

	index := s.dirtree.EntryIndex(name, create, s, streamSize)
	if index == NO_STREAM {
		return nil
	}
	if s.dirtree.Entry(index).Dir {
		return nil
	}

	return newStream(s, index, name)
}

func (s *storageIO) deleteByName(fullName string) bool {
	if fullName == "" || !s.writeable {
		return false
	}

	index := s.dirtree.EntryIndex(fullName, false, nil, 0)
	if index == NO_STREAM || index == ROOT_STREAM_ID {
		return false
	}

	var deleted bool
	if s.dirtree.Entry(index).Dir {
		deleted = s.deleteNode(index, fullName)
	} else {
		deleted = s.deleteLeaf(index, fullName)
	}

	if deleted {
		s.flush()
	}
	return deleted
}

// deleteNode removes a storage and everything below it, depth first.
func (s *storageIO) deleteNode(index uint32, fullName string) bool {
	lclName := fullName
	if !strings.HasSuffix(lclName, "/") {
		lclName += "/"
	}

	for {
		child := s.dirtree.Entry(index).Child
		if child == 0 || child >= s.dirtree.EntryCount() {
			break
		}

		childEntry := s.dirtree.Entry(child)
		childFullName := lclName + childEntry.Name

		var ok bool
		if childEntry.Dir {
			ok = s.deleteNode(child, childFullName)
		} else {
			ok = s.deleteLeaf(child, childFullName)
		}
		if !ok {
			return false
		}
	}

	s.dirtree.DeleteEntry(index, fullName, s.bbat.BlockSize)
	return true
}

// deleteLeaf frees a stream's sector chain back to the pool it lives in
// and unhooks the entry.
func (s *storageIO) deleteLeaf(index uint32, fullName string) bool {
	entry := s.dirtree.Entry(index)

	if entry.Size >= s.header.Threshold {
		for _, block := range s.bbat.Follow(entry.Start) {
			s.bbat.Set(block, FREE_SECTOR)
			s.bbat.MarkAsDirty(block, s.bbat.BlockSize)
		}
	} else {
		for _, block := range s.sbat.Follow(entry.Start) {
			s.sbat.Set(block, FREE_SECTOR)
			s.sbat.MarkAsDirty(block, s.bbat.BlockSize)
		}
	}

	s.dirtree.DeleteEntry(index, fullName, s.bbat.BlockSize)
	return true
}
