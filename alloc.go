package olefs

import "encoding/binary"

// AllocTable is the in-memory FAT: a vector of next-block indices with the
// sentinel values FREE_SECTOR, END_OF_CHAIN, FAT_SECTOR and DIFAT_SECTOR.
// The same type backs both the big-block FAT and the small-block FAT, the
// two differ only in BlockSize and where their sectors live.
type AllocTable struct {
	BlockSize uint32

	data            []uint32
	dirtyBlocks     []uint32
	maybeFragmented bool
}

func NewAllocTable(blockSize uint32) *AllocTable {
	t := AllocTable{
		BlockSize: blockSize,
	}
	t.Resize(128)

	return &t
}

func (t *AllocTable) Count() uint32 {
	return uint32(len(t.data))
}

func (t *AllocTable) UnusedCount() uint32 {
	var found uint32
	for _, v := range t.data {
		if v == FREE_SECTOR {
			found++
		}
	}
	return found
}

func (t *AllocTable) Resize(newSize uint32) {
	oldSize := uint32(len(t.data))
	if newSize <= oldSize {
		t.data = t.data[:newSize]
		return
	}

	for i := oldSize; i < newSize; i++ {
		t.data = append(t.data, FREE_SECTOR)
	}
	t.maybeFragmented = true
}

// Preserve claims n free blocks so follow-up allocations cannot collide
// with them.
func (t *AllocTable) Preserve(n uint32) []uint32 {
	pre := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		idx := t.Unused()
		t.Set(idx, END_OF_CHAIN)
		pre = append(pre, idx)
	}
	return pre
}

// Get returns the raw slot value. Callers must have checked the index via
// Follow's bounds handling, out-of-range reads are not defined.
func (t *AllocTable) Get(index uint32) uint32 {
	return t.data[index]
}

func (t *AllocTable) Set(index, value uint32) {
	if index >= t.Count() {
		t.Resize(index + 1)
	}
	t.data[index] = value
	if value == FREE_SECTOR {
		t.maybeFragmented = true
	}
}

func (t *AllocTable) SetChain(chain []uint32) {
	if len(chain) == 0 {
		return
	}

	for i := 0; i < len(chain)-1; i++ {
		t.Set(chain[i], chain[i+1])
	}
	t.Set(chain[len(chain)-1], END_OF_CHAIN)
}

// Follow walks the chain starting at start. The walk stops silently on any
// sentinel or out-of-range value so that mildly damaged tables yield short
// chains instead of failures. Bounded by the table size to survive cycles.
func (t *AllocTable) Follow(start uint32) []uint32 {
	chain := make([]uint32, 0)
	if start >= t.Count() {
		return chain
	}

	p := start
	for steps := t.Count(); p < t.Count() && steps > 0; steps-- {
		if p == END_OF_CHAIN || p == FAT_SECTOR || p == DIFAT_SECTOR {
			break
		}
		chain = append(chain, p)
		if t.data[p] >= t.Count() {
			break
		}
		p = t.data[p]
	}

	return chain
}

// Unused finds the first free block. When the fragmentation hint is clear
// the scan is skipped and the table simply grows by one, the caller claims
// the slot with Set right after. The hint is set by freeing a slot and by
// Resize adding free slots, so a fresh table is scanned.
func (t *AllocTable) Unused() uint32 {
	if t.maybeFragmented {
		for i, v := range t.data {
			if v == FREE_SECTOR {
				return uint32(i)
			}
		}
	}

	block := t.Count()
	t.data = append(t.data, FREE_SECTOR)
	t.maybeFragmented = false
	return block
}

func (t *AllocTable) Load(buffer []byte) {
	t.Resize(uint32(len(buffer) / 4))
	for i := uint32(0); i < t.Count(); i++ {
		t.data[i] = binary.LittleEndian.Uint32(buffer[i*4:])
	}
}

// Size returns the space required to serialize the table.
func (t *AllocTable) Size() uint32 {
	return t.Count() * 4
}

func (t *AllocTable) Save(buffer []byte) {
	n := t.Count()
	if slots := uint32(len(buffer) / 4); n > slots {
		n = slots
	}
	for i := uint32(0); i < n; i++ {
		binary.LittleEndian.PutUint32(buffer[i*4:], t.data[i])
	}
}

func (t *AllocTable) IsDirty() bool {
	return len(t.dirtyBlocks) > 0
}

// MarkAsDirty records that the backing FAT sector holding slot dataIndex
// needs to be rewritten on the next flush.
func (t *AllocTable) MarkAsDirty(dataIndex, bigBlockSize uint32) {
	dbidx := dataIndex / (bigBlockSize / 4)
	for _, d := range t.dirtyBlocks {
		if d == dbidx {
			return
		}
	}
	t.dirtyBlocks = append(t.dirtyBlocks, dbidx)
}

// Flush serializes the whole table and writes back only the backing
// sectors recorded as dirty.
func (t *AllocTable) Flush(blocks []uint32, io *storageIO, bigBlockSize uint32) {
	// pad unassigned slots with FREE_SECTOR so the tail of a partially
	// filled FAT sector reads back as allocatable
	buffer := make([]byte, bigBlockSize*uint32(len(blocks)))
	for i := range buffer {
		buffer[i] = 0xff
	}
	t.Save(buffer)

	for idx, block := range blocks {
		dirty := false
		for _, d := range t.dirtyBlocks {
			if d == uint32(idx) {
				dirty = true
				break
			}
		}
		if dirty {
			pos := bigBlockSize * uint32(idx)
			io.saveBigBlock(block, 0, buffer[pos:pos+bigBlockSize])
		}
	}

	t.dirtyBlocks = t.dirtyBlocks[:0]
}
