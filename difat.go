package olefs

import "encoding/binary"

// The big FAT's own backing sectors are indexed doubly-indirectly: the
// first 109 live inline in the header, the rest in a linked list of
// meta-FAT sectors. Each meta-FAT sector holds (blockSize/4 - 1) FAT
// sector pointers followed by one forward link, END_OF_CHAIN in the last.

// getBbatBlocks returns the list of sectors backing the big FAT. When
// loading it also walks the meta-FAT chain and fills mbatBlocks/mbatData;
// when flushing it reuses the in-memory mbatData.
func (s *storageIO) getBbatBlocks(loading bool) []uint32 {
	blocks := make([]uint32, s.header.NumBat)

	for i := 0; i < NUM_DIFAT_ENTRIES_IN_HEADER && uint32(i) < s.header.NumBat; i++ {
		blocks[i] = s.header.BbBlocks[i]
	}

	if loading {
		s.mbatBlocks = s.mbatBlocks[:0]
		s.mbatData = s.mbatData[:0]

		if s.header.NumBat > uint32(NUM_DIFAT_ENTRIES_IN_HEADER) && s.header.NumMbat > 0 {
			blockSize := s.bbat.BlockSize
			entriesPerBlock := blockSize/4 - 1
			buffer := make([]byte, blockSize)

			k := uint32(NUM_DIFAT_ENTRIES_IN_HEADER)
			sector := s.header.MbatStart

			for r := uint32(0); r < s.header.NumMbat; r++ {
				if sector > MAX_REGULAR_SECTOR {
					break
				}

				s.mbatBlocks = append(s.mbatBlocks, sector)
				s.loadBigBlock(sector, buffer)

				for e := uint32(0); e < entriesPerBlock && k < s.header.NumBat; e++ {
					v := binary.LittleEndian.Uint32(buffer[e*4:])
					blocks[k] = v
					s.mbatData = append(s.mbatData, v)
					k++
				}

				sector = binary.LittleEndian.Uint32(buffer[entriesPerBlock*4:])
			}
		}
	} else {
		k := NUM_DIFAT_ENTRIES_IN_HEADER
		for idx := 0; idx < len(s.mbatData) && uint32(k) < s.header.NumBat; idx++ {
			blocks[k] = s.mbatData[idx]
			k++
		}
	}

	return blocks
}

// addBbatBlock claims a sector for a new FAT block and hooks its index
// into the header slots or, past 109, into the meta-FAT chain, growing
// the chain itself when the tail meta sector is full.
func (s *storageIO) addBbatBlock() {
	blockSize := s.bbat.BlockSize

	newBlock := s.bbat.Unused()
	s.bbat.Set(newBlock, FAT_SECTOR)
	s.bbat.MarkAsDirty(newBlock, blockSize)

	if s.header.NumBat < uint32(NUM_DIFAT_ENTRIES_IN_HEADER) {
		s.header.BbBlocks[s.header.NumBat] = newBlock
	} else {
		s.mbatDirty = true
		s.mbatData = append(s.mbatData, newBlock)

		metaIdx := s.header.NumBat - uint32(NUM_DIFAT_ENTRIES_IN_HEADER)
		idxPerBlock := blockSize/4 - 1 // one slot reserved for the forward link
		idxBlock := metaIdx / idxPerBlock
		if idxBlock == uint32(len(s.mbatBlocks)) {
			newMeta := s.bbat.Unused()
			s.bbat.Set(newMeta, DIFAT_SECTOR)
			s.bbat.MarkAsDirty(newMeta, blockSize)
			s.mbatBlocks = append(s.mbatBlocks, newMeta)
			if s.header.NumMbat == 0 {
				s.header.MbatStart = newMeta
			}
			s.header.NumMbat++
		}
	}

	s.header.NumBat++
	s.header.Dirty = true
}

// extendFile claims a free big block, appends it to chain and keeps the
// FAT coverage ahead of the new index.
func (s *storageIO) extendFile(chain *[]uint32) uint32 {
	newBlock := s.bbat.Unused()
	s.bbat.Set(newBlock, END_OF_CHAIN)

	bbidx := newBlock / (s.bbat.BlockSize / 4)
	for bbidx >= s.header.NumBat {
		s.addBbatBlock()
	}
	s.bbat.MarkAsDirty(newBlock, s.bbat.BlockSize)

	if len(*chain) > 0 {
		last := (*chain)[len(*chain)-1]
		s.bbat.Set(last, newBlock)
		s.bbat.MarkAsDirty(last, s.bbat.BlockSize)
	}

	*chain = append(*chain, newBlock)
	return newBlock
}

// flushMbat reserializes the meta-FAT chain: FAT sector pointers padded
// with FREE_SECTOR, forward links interleaved.
func (s *storageIO) flushMbat() {
	if !s.mbatDirty || len(s.mbatBlocks) == 0 {
		return
	}

	blockSize := s.bbat.BlockSize
	entriesPerBlock := blockSize/4 - 1
	buffer := make([]byte, blockSize*uint32(len(s.mbatBlocks)))

	for b := range s.mbatBlocks {
		base := uint32(b) * blockSize

		for slot := uint32(0); slot < entriesPerBlock; slot++ {
			mdIdx := uint32(b)*entriesPerBlock + slot
			v := FREE_SECTOR
			if mdIdx < uint32(len(s.mbatData)) {
				v = s.mbatData[mdIdx]
			}
			binary.LittleEndian.PutUint32(buffer[base+slot*4:], v)
		}

		link := END_OF_CHAIN
		if b+1 < len(s.mbatBlocks) {
			link = s.mbatBlocks[b+1]
		}
		binary.LittleEndian.PutUint32(buffer[base+entriesPerBlock*4:], link)
	}

	s.saveBigBlocks(s.mbatBlocks, 0, buffer)
	s.mbatDirty = false
}
