package olefs

// Positioned block I/O against the host file. Big block index 0 starts
// right after the 512-byte header. Small blocks map into the root
// storage's backing chain (sbBlocks).

// Recently read big blocks are kept in a bounded LRU, invalidated on
// write. Sized to cover a FAT sector burst without holding the working
// set of a large stream.
const BLOCK_CACHE_ENTRIES = 64

func (s *storageIO) bigBlockPos(block uint32) int64 {
	return int64(s.bbat.BlockSize) * int64(block+1)
}

// loadBigBlock reads up to len(buffer) bytes of one big block, clamped to
// the file size. Returns the number of bytes read; short reads are not
// errors.
func (s *storageIO) loadBigBlock(block uint32, buffer []byte) uint32 {
	if len(buffer) == 0 {
		return 0
	}

	want := min(uint32(len(buffer)), s.bbat.BlockSize)

	if cached, ok := s.blockCache.Get(block); ok {
		return uint32(copy(buffer[:want], cached))
	}

	pos := s.bigBlockPos(block)
	p := want
	if uint64(pos)+uint64(p) > s.filesize {
		if uint64(pos) >= s.filesize {
			return 0
		}
		p = uint32(s.filesize - uint64(pos))
	}

	n, _ := s.file.ReadAt(buffer[:p], pos)

	if uint32(n) == s.bbat.BlockSize {
		cached := make([]byte, n)
		copy(cached, buffer[:n])
		s.blockCache.Add(block, cached)
	}

	return uint32(n)
}

func (s *storageIO) loadBigBlocks(blocks []uint32, buffer []byte) uint32 {
	if len(blocks) == 0 || len(buffer) == 0 {
		return 0
	}

	maxlen := uint32(len(buffer))
	var bytes uint32
	for i := 0; i < len(blocks) && bytes < maxlen; i++ {
		end := min(bytes+s.bbat.BlockSize, maxlen)
		bytes += s.loadBigBlock(blocks[i], buffer[bytes:end])
	}

	return bytes
}

// saveBigBlocks writes data across blocks, starting offset bytes into the
// first one. Subsequent blocks are written from offset zero.
func (s *storageIO) saveBigBlocks(blocks []uint32, offset uint32, data []byte) uint32 {
	if len(blocks) == 0 || len(data) == 0 {
		return 0
	}

	length := uint32(len(data))
	var bytes uint32
	for i := 0; i < len(blocks) && bytes < length; i++ {
		block := blocks[i]
		pos := s.bigBlockPos(block) + int64(offset)

		toBeWritten := min(length-bytes, s.bbat.BlockSize-offset)
		if _, err := s.file.WriteAt(data[bytes:bytes+toBeWritten], pos); err != nil {
			return bytes
		}
		s.blockCache.Remove(block)

		bytes += toBeWritten
		offset = 0
		if s.filesize < uint64(pos)+uint64(toBeWritten) {
			s.filesize = uint64(pos) + uint64(toBeWritten)
		}
	}

	return bytes
}

func (s *storageIO) saveBigBlock(block, offset uint32, data []byte) uint32 {
	return s.saveBigBlocks([]uint32{block}, offset, data)
}

func (s *storageIO) loadSmallBlocks(blocks []uint32, buffer []byte) uint32 {
	if len(blocks) == 0 || len(buffer) == 0 {
		return 0
	}

	maxlen := uint32(len(buffer))
	buf := make([]byte, s.bbat.BlockSize)

	var bytes uint32
	for i := 0; i < len(blocks) && bytes < maxlen; i++ {
		// find where the small block exactly is
		pos := blocks[i] * s.sbat.BlockSize
		bbindex := pos / s.bbat.BlockSize
		if bbindex >= uint32(len(s.sbBlocks)) {
			break
		}

		s.loadBigBlock(s.sbBlocks[bbindex], buf)

		offset := pos % s.bbat.BlockSize
		p := min(maxlen-bytes, s.bbat.BlockSize-offset)
		p = min(s.sbat.BlockSize, p)
		copy(buffer[bytes:bytes+p], buf[offset:])
		bytes += p
	}

	return bytes
}

func (s *storageIO) loadSmallBlock(block uint32, buffer []byte) uint32 {
	return s.loadSmallBlocks([]uint32{block}, buffer)
}

// saveSmallBlocks writes data starting offset bytes into blocks[startAt],
// spanning into the following blocks with offset zero.
func (s *storageIO) saveSmallBlocks(blocks []uint32, offset uint32, data []byte, startAt int) uint32 {
	if len(blocks) == 0 || len(data) == 0 {
		return 0
	}

	length := uint32(len(data))
	var bytes uint32
	for i := startAt; i < len(blocks) && bytes < length; i++ {
		pos := blocks[i] * s.sbat.BlockSize
		bbindex := pos / s.bbat.BlockSize
		if bbindex >= uint32(len(s.sbBlocks)) {
			break
		}

		offsetWithinBig := pos % s.bbat.BlockSize
		toBeWritten := min(length-bytes, s.sbat.BlockSize-offset)
		s.saveBigBlock(s.sbBlocks[bbindex], offsetWithinBig+offset, data[bytes:bytes+toBeWritten])

		bytes += toBeWritten
		offset = 0
	}

	return bytes
}
