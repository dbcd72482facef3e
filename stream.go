package olefs

// read cache window, aligned on its own size
const CACHE_BUF_SIZE uint32 = 4096

// Stream is a cursor over one stream entry. It holds the entry index, not
// a pointer: entry allocation may reallocate the directory's entries
// vector. Reads and writes go through the small-block pool while the
// stream is below the threshold and through big blocks above it;
// SetSize migrates the content across when the size crosses over.
type Stream struct {
	io       *storageIO
	entryIdx uint32
	fullName string

	eof  bool
	fail bool

	blocks []uint32
	pos    uint32

	cacheData []byte
	cacheSize uint32
	cachePos  uint32
}

func newStream(io *storageIO, entryIdx uint32, fullName string) *Stream {
	entry := io.dirtree.Entry(entryIdx)

	s := Stream{
		io:        io,
		entryIdx:  entryIdx,
		fullName:  fullName,
		cacheData: make([]byte, CACHE_BUF_SIZE),
	}

	if entry.Size >= io.header.Threshold {
		s.blocks = io.bbat.Follow(entry.Start)
	} else {
		s.blocks = io.sbat.Follow(entry.Start)
	}

	return &s
}

func (s *Stream) FullName() string {
	return s.fullName
}

func (s *Stream) Size() uint32 {
	return s.io.dirtree.Entry(s.entryIdx).Size
}

func (s *Stream) Tell() uint32 {
	return s.pos
}

func (s *Stream) Seek(pos uint32) {
	s.pos = pos
}

func (s *Stream) Eof() bool {
	return s.eof
}

func (s *Stream) Fail() bool {
	return s.fail
}

func (s *Stream) Flush() error {
	return s.io.flush()
}

// SetSize grows or shrinks the stream. Crossing the threshold in either
// direction migrates the surviving bytes into the other pool: the old
// chain is read out, freed, and the data written back so allocation
// happens in the new pool.
func (s *Stream) SetSize(newSize uint32) {
	if !s.io.writeable {
		return
	}

	entry := s.io.dirtree.Entry(s.entryIdx)
	threshold := s.io.header.Threshold

	crossed := false
	over := false
	if newSize >= threshold && entry.Size < threshold {
		crossed, over = true, true
	} else if newSize < threshold && entry.Size >= threshold {
		crossed, over = true, false
	}

	if !crossed {
		if entry.Size != newSize {
			entry.Size = newSize
			s.io.dirtree.MarkAsDirty(s.entryIdx, s.io.bbat.BlockSize)
		}
		return
	}

	// read what is already in the stream, limited by the requested new
	// size; works precisely because the size has not been reset yet
	length := min(newSize, entry.Size)
	savePos := s.Tell()

	var buffer []byte
	if length > 0 {
		buffer = make([]byte, length)
		s.ReadAt(0, buffer)
	}

	// release the old chain
	if over {
		for _, block := range s.blocks {
			s.io.sbat.Set(block, FREE_SECTOR)
			s.io.sbat.MarkAsDirty(block, s.io.bbat.BlockSize)
		}
	} else {
		for _, block := range s.blocks {
			s.io.bbat.Set(block, FREE_SECTOR)
			s.io.bbat.MarkAsDirty(block, s.io.bbat.BlockSize)
		}
	}
	s.blocks = s.blocks[:0]

	entry.Start = NO_STREAM
	entry.Size = newSize
	s.io.dirtree.MarkAsDirty(s.entryIdx, s.io.bbat.BlockSize)

	if length > 0 {
		s.WriteAt(0, buffer)
	}
	s.Seek(min(savePos, newSize))
	s.invalidateCache()
}

// Getch reads one byte through the cache window, -1 past the end.
func (s *Stream) Getch() int {
	entry := s.io.dirtree.Entry(s.entryIdx)
	if s.pos >= entry.Size {
		return -1
	}

	if s.cacheSize == 0 || s.pos < s.cachePos || s.pos >= s.cachePos+s.cacheSize {
		s.updateCache()
	}
	if s.cacheSize == 0 {
		return -1
	}

	data := s.cacheData[s.pos-s.cachePos]
	s.pos++

	return int(data)
}

// ReadAt copies up to len(data) bytes starting at pos, clamped to the
// stream size, without moving the cursor. Returns the bytes read; chains
// truncated by corruption simply yield short reads.
func (s *Stream) ReadAt(pos uint32, data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}

	entry := s.io.dirtree.Entry(s.entryIdx)
	if pos >= entry.Size {
		return 0
	}

	maxlen := uint32(len(data))
	if pos+maxlen > entry.Size {
		maxlen = entry.Size - pos
	}

	var totalBytes uint32
	if entry.Size < s.io.header.Threshold {
		// small file
		blockSize := s.io.sbat.BlockSize
		index := pos / blockSize
		if index >= uint32(len(s.blocks)) {
			return 0
		}

		buf := make([]byte, blockSize)
		offset := pos % blockSize
		for totalBytes < maxlen {
			if index >= uint32(len(s.blocks)) {
				break
			}
			s.io.loadSmallBlock(s.blocks[index], buf)
			count := min(blockSize-offset, maxlen-totalBytes)
			copy(data[totalBytes:], buf[offset:offset+count])
			totalBytes += count
			offset = 0
			index++
		}
	} else {
		// big file
		blockSize := s.io.bbat.BlockSize
		index := pos / blockSize
		if index >= uint32(len(s.blocks)) {
			return 0
		}

		buf := make([]byte, blockSize)
		offset := pos % blockSize
		for totalBytes < maxlen {
			if index >= uint32(len(s.blocks)) {
				break
			}
			s.io.loadBigBlock(s.blocks[index], buf)
			count := min(blockSize-offset, maxlen-totalBytes)
			copy(data[totalBytes:], buf[offset:offset+count])
			totalBytes += count
			offset = 0
			index++
		}
	}

	return totalBytes
}

// Read reads from the cursor and advances it. Sets the eof flag on a
// short read.
func (s *Stream) Read(data []byte) uint32 {
	bytes := s.ReadAt(s.pos, data)
	s.pos += bytes
	if bytes < uint32(len(data)) {
		s.eof = true
	}
	return bytes
}

// WriteAt writes data starting at pos, growing the stream first when the
// write reaches past its end, and extending the sector chain on demand.
// Writes on a read-only container return 0.
func (s *Stream) WriteAt(pos uint32, data []byte) uint32 {
	if len(data) == 0 || !s.io.writeable {
		return 0
	}

	length := uint32(len(data))

	entry := s.io.dirtree.Entry(s.entryIdx)
	if pos+length > entry.Size {
		s.SetSize(pos + length) // possibly migrating between pools
		entry = s.io.dirtree.Entry(s.entryIdx)
	}

	var totalBytes uint32
	if entry.Size < s.io.header.Threshold {
		// small file
		blockSize := s.io.sbat.BlockSize
		index := (pos + length - 1) / blockSize

		for index >= uint32(len(s.blocks)) {
			nblock := s.io.sbat.Unused()
			if len(s.blocks) > 0 {
				last := s.blocks[len(s.blocks)-1]
				s.io.sbat.Set(last, nblock)
				s.io.sbat.MarkAsDirty(last, s.io.bbat.BlockSize)
			}
			s.io.sbat.Set(nblock, END_OF_CHAIN)
			s.io.sbat.MarkAsDirty(nblock, s.io.bbat.BlockSize)
			s.blocks = append(s.blocks, nblock)

			// keep the small FAT's own backing chain long enough
			bbidx := nblock / (s.io.bbat.BlockSize / 4)
			for bbidx >= s.io.header.NumSbat {
				sbatBlocks := s.io.bbat.Follow(s.io.header.SbatStart)
				s.io.extendFile(&sbatBlocks)
				s.io.header.NumSbat++
				s.io.header.Dirty = true
			}

			// and the small-block pool itself
			sidx := nblock * blockSize / s.io.bbat.BlockSize
			for sidx >= uint32(len(s.io.sbBlocks)) {
				s.io.extendFile(&s.io.sbBlocks)
			}
		}

		offset := pos % blockSize
		startAt := pos / blockSize
		totalBytes = s.io.saveSmallBlocks(s.blocks, offset, data, int(startAt))
	} else {
		// big file
		blockSize := s.io.bbat.BlockSize
		index := (pos + length - 1) / blockSize
		for index >= uint32(len(s.blocks)) {
			s.io.extendFile(&s.blocks)
		}

		offset := pos % blockSize
		remainder := length
		index = pos / blockSize
		for remainder > 0 {
			if index >= uint32(len(s.blocks)) {
				break
			}
			count := min(blockSize-offset, remainder)
			s.io.saveBigBlock(s.blocks[index], offset, data[totalBytes:totalBytes+count])
			totalBytes += count
			remainder -= count
			index++
			offset = 0
		}
	}

	if len(s.blocks) > 0 && entry.Start != s.blocks[0] {
		entry.Start = s.blocks[0]
		s.io.dirtree.MarkAsDirty(s.entryIdx, s.io.bbat.BlockSize)
	}

	s.pos += length
	s.invalidateCache()
	return totalBytes
}

// Write writes at the cursor; WriteAt advances it.
func (s *Stream) Write(data []byte) uint32 {
	return s.WriteAt(s.pos, data)
}

func (s *Stream) updateCache() {
	entry := s.io.dirtree.Entry(s.entryIdx)

	s.cachePos = s.pos - (s.pos % CACHE_BUF_SIZE)
	bytes := CACHE_BUF_SIZE
	if s.cachePos+bytes > entry.Size {
		bytes = entry.Size - s.cachePos
	}
	s.cacheSize = s.ReadAt(s.cachePos, s.cacheData[:bytes])
}

func (s *Stream) invalidateCache() {
	s.cacheSize = 0
}
