package olefs

import (
	"encoding/binary"
	"fmt"
)

// DirTree holds every directory entry of the container. Entries under the
// same parent form a binary search tree through Prev/Next under the
// CompareNames ordering; Child points at the subtree root of a storage.
// Entry 0 is always the root storage.
//
// Helpers working with the tree hold entry indices, never *DirEntry: the
// entries slice reallocates on growth and pointers across an allocation
// are invalid.
type DirTree struct {
	entries     []DirEntry
	dirtyBlocks []uint32
}

func NewDirTree(bigBlockSize uint32) *DirTree {
	t := DirTree{}
	t.Clear(bigBlockSize)
	return &t
}

// Clear drops everything but a fresh root entry.
func (t *DirTree) Clear(bigBlockSize uint32) {
	t.entries = t.entries[:0]
	t.entries = append(t.entries, DirEntry{
		Valid: true,
		Name:  ROOT_DIR_NAME,
		Dir:   true,
		Start: NO_STREAM,
		Prev:  NO_STREAM,
		Next:  NO_STREAM,
		Child: NO_STREAM,
	})
	t.dirtyBlocks = t.dirtyBlocks[:0]
	t.MarkAsDirty(0, bigBlockSize)
}

func (t *DirTree) EntryCount() uint32 {
	return uint32(len(t.entries))
}

func (t *DirTree) UnusedEntryCount() uint32 {
	var found uint32
	for idx := range t.entries {
		if !t.entries[idx].Valid {
			found++
		}
	}
	return found
}

// Entry returns the record at index, nil when out of range. The pointer is
// only good until the next entry allocation.
func (t *DirTree) Entry(index uint32) *DirEntry {
	if index >= t.EntryCount() {
		return nil
	}
	return &t.entries[index]
}

// Unused returns the first invalid slot, appending a fresh one when every
// slot is in use. Deleted entries are reused, never compacted.
func (t *DirTree) Unused() uint32 {
	for idx := uint32(0); idx < t.EntryCount(); idx++ {
		if !t.entries[idx].Valid {
			return idx
		}
	}
	t.entries = append(t.entries, DirEntry{})
	return t.EntryCount() - 1
}

// EntryIndex resolves a full name like "/ObjectPool/_1020961869" to an
// entry index. With create set (and a writeable container) missing path
// components are created on the way: intermediate ones as storages, the
// final one as a stream of streamSize bytes. Returns NO_STREAM when the
// path does not resolve.
func (t *DirTree) EntryIndex(name string, create bool, io *storageIO, streamSize uint32) uint32 {
	if name == "" {
		return NO_STREAM
	}
	if name == "/" {
		return 0
	}

	names := NameChainFromPath(name)
	if len(names) == 0 {
		return 0
	}

	index := uint32(0)

	for level, component := range names {
		child, closest := t.findChild(index, component)
		if child > 0 {
			index = child
			continue
		}

		// not found among children
		if !create || !io.writeable {
			return NO_STREAM
		}
		if ValidateName(component) != nil {
			return NO_STREAM
		}

		bigBlockSize := io.bbat.BlockSize

		parent := index
		index = t.Unused()

		if len(component) > MAX_NAME_LEN {
			component = component[:MAX_NAME_LEN]
		}

		e := t.Entry(index)
		e.Valid = true
		e.Name = component
		e.Dir = level < len(names)-1
		if e.Dir {
			e.Size = 0
		} else {
			e.Size = streamSize
		}
		e.Start = END_OF_CHAIN
		e.Child = NO_STREAM
		e.CLSID = [16]byte{}
		e.StateBits = 0
		e.CreationTime = 0
		e.ModifiedTime = 0

		if closest == NO_STREAM {
			// first child of parent
			e.Prev = NO_STREAM
			e.Next = t.Entry(parent).Child
			t.Entry(parent).Child = index
			t.MarkAsDirty(parent, bigBlockSize)
		} else {
			closeE := t.Entry(closest)
			if closeE.Compare(e) == OrderLess {
				e.Prev = closeE.Next
				e.Next = NO_STREAM
				closeE.Next = index
			} else {
				e.Next = closeE.Prev
				e.Prev = NO_STREAM
				closeE.Prev = index
			}
			t.MarkAsDirty(closest, bigBlockSize)
		}
		t.MarkAsDirty(index, bigBlockSize)

		// make sure the directory chain covers the new slot
		bbidx := index / (bigBlockSize / uint32(DIR_ENTRY_LEN))
		blocks := io.bbat.Follow(io.header.DirentStart)
		for uint32(len(blocks)) <= bbidx {
			nblock := io.bbat.Unused()
			if len(blocks) > 0 {
				io.bbat.Set(blocks[len(blocks)-1], nblock)
				io.bbat.MarkAsDirty(blocks[len(blocks)-1], bigBlockSize)
			}
			io.bbat.Set(nblock, END_OF_CHAIN)
			io.bbat.MarkAsDirty(nblock, bigBlockSize)
			blocks = append(blocks, nblock)

			nbbidx := nblock / (bigBlockSize / 4)
			for nbbidx >= io.header.NumBat {
				io.addBbatBlock()
			}
		}
	}

	return index
}

// findChild searches the sibling tree under index for name. Returns the
// matching entry index (0 when absent) and the node where the descent
// stopped, the attachment point for an insert.
func (t *DirTree) findChild(index uint32, name string) (uint32, uint32) {
	closest := NO_STREAM

	p := t.Entry(index)
	if p != nil && p.Valid && p.Child < t.EntryCount() {
		return t.findSibling(p.Child, name, &closest), closest
	}

	return 0, closest
}

func (t *DirTree) findSibling(index uint32, name string, closest *uint32) uint32 {
	count := t.EntryCount()
	e := t.Entry(index)
	if e == nil || !e.Valid {
		return 0
	}

	switch e.CompareName(name) {
	case OrderEqual:
		return index
	case OrderGreater:
		if e.Prev > 0 && e.Prev < count {
			return t.findSibling(e.Prev, name, closest)
		}
	default:
		if e.Next > 0 && e.Next < count {
			return t.findSibling(e.Next, name, closest)
		}
	}

	*closest = index
	return 0
}

func (t *DirTree) findSiblings(result *[]uint32, index uint32) {
	e := t.Entry(index)
	if e == nil || !e.Valid {
		return
	}
	if e.Prev != NO_STREAM && e.Prev < t.EntryCount() {
		t.findSiblings(result, e.Prev)
	}
	*result = append(*result, index)
	if e.Next != NO_STREAM && e.Next < t.EntryCount() {
		t.findSiblings(result, e.Next)
	}
}

// Children returns the entry indices under index in sibling-tree order.
func (t *DirTree) Children(index uint32) []uint32 {
	result := make([]uint32, 0)

	e := t.Entry(index)
	if e != nil && e.Valid && e.Child < t.EntryCount() {
		t.findSiblings(&result, e.Child)
	}

	return result
}

// Parent finds the storage holding index, -1 when unreachable.
func (t *DirTree) Parent(index uint32) int {
	for j := uint32(0); j < t.EntryCount(); j++ {
		for _, c := range t.Children(j) {
			if c == index {
				return int(j)
			}
		}
	}
	return -1
}

// FullName rebuilds the absolute path of an entry. The root is "/", never
// its stored name.
func (t *DirTree) FullName(index uint32) string {
	if index == 0 {
		return "/"
	}

	names := make([]string, 0, 4)
	for index != 0 {
		e := t.Entry(index)
		if e == nil {
			break
		}
		names = append([]string{e.Name}, names...)

		p := t.Parent(index)
		if p <= 0 {
			break
		}
		index = uint32(p)
	}

	return PathFromNameChain(names)
}

func (t *DirTree) Load(buffer []byte) {
	t.entries = t.entries[:0]

	for p := 0; p+DIR_ENTRY_LEN <= len(buffer); p += DIR_ENTRY_LEN {
		t.entries = append(t.entries, parseDirEntry(buffer[p:p+DIR_ENTRY_LEN]))
	}
}

// Size returns the space required to save this dirtree.
func (t *DirTree) Size() uint32 {
	return t.EntryCount() * uint32(DIR_ENTRY_LEN)
}

func (t *DirTree) Save(buffer []byte) {
	// root is fixed as "Root Entry"; its start/size slots are patched with
	// the small-pool chain at flush time
	root := *t.Entry(0)
	root.Name = ROOT_DIR_NAME
	root.Start = NO_STREAM
	root.Size = 0
	root.Prev = NO_STREAM
	root.Next = NO_STREAM
	writeDirEntry(buffer[:DIR_ENTRY_LEN], &root, ObjRoot)

	for i := uint32(1); i < t.EntryCount(); i++ {
		e := *t.Entry(i)
		if e.Dir {
			e.Start = NO_STREAM
			e.Size = 0
		}

		objType := ObjUnallocated
		if e.Valid {
			if e.Dir {
				objType = ObjStorage
			} else {
				objType = ObjStream
			}
		}

		p := i * uint32(DIR_ENTRY_LEN)
		writeDirEntry(buffer[p:p+uint32(DIR_ENTRY_LEN)], &e, objType)
	}
}

func (t *DirTree) IsDirty() bool {
	return len(t.dirtyBlocks) > 0
}

// MarkAsDirty records the directory sector containing entry dataIndex.
func (t *DirTree) MarkAsDirty(dataIndex, bigBlockSize uint32) {
	dbidx := dataIndex / (bigBlockSize / uint32(DIR_ENTRY_LEN))
	for _, d := range t.dirtyBlocks {
		if d == dbidx {
			return
		}
	}
	t.dirtyBlocks = append(t.dirtyBlocks, dbidx)
}

// Flush writes the dirty directory sectors. sbStart/sbSize are patched
// into the root entry slots on the way out.
func (t *DirTree) Flush(blocks []uint32, io *storageIO, bigBlockSize, sbStart, sbSize uint32) {
	bufLen := t.Size()
	buffer := make([]byte, bufLen)
	t.Save(buffer)
	binary.LittleEndian.PutUint32(buffer[0x74:], sbStart)
	binary.LittleEndian.PutUint32(buffer[0x78:], sbSize)

	for idx, block := range blocks {
		pos := bigBlockSize * uint32(idx)
		if pos >= bufLen {
			break
		}

		dirty := false
		for _, d := range t.dirtyBlocks {
			if d == uint32(idx) {
				dirty = true
				break
			}
		}

		bytesToWrite := bigBlockSize
		if bufLen-pos < bytesToWrite {
			bytesToWrite = bufLen - pos
		}
		if dirty {
			io.saveBigBlock(block, 0, buffer[pos:pos+bytesToWrite])
		}
	}

	t.dirtyBlocks = t.dirtyBlocks[:0]
}

// FindParentAndSib locates the parent of inIdx and, when the entry hangs
// off a sibling rather than the parent's child slot, the sibling pointing
// at it. sibIdx 0 means the parent's child slot points at inIdx directly.
// Failure also returns (0, 0), which is the same result as an entry held
// directly in the root's child slot.
func (t *DirTree) FindParentAndSib(inIdx uint32, fullName string) (parentIdx, sibIdx uint32) {
	if inIdx == 0 || inIdx >= t.EntryCount() || fullName == "/" || fullName == "" {
		return 0, 0
	}

	parentIdx = t.EntryIndex(parentPath(fullName), false, nil, 0)
	if parentIdx == NO_STREAM {
		return 0, 0
	}

	if t.Entry(parentIdx).Child == inIdx {
		return parentIdx, 0
	}

	return parentIdx, t.FindSib(inIdx, t.Entry(parentIdx).Child)
}

// FindSib descends the sibling tree from sibIdx looking for the node whose
// Prev or Next is inIdx. Callers start at the parent's child slot.
func (t *DirTree) FindSib(inIdx, sibIdx uint32) uint32 {
	sib := t.Entry(sibIdx)
	if sib == nil || !sib.Valid {
		return 0
	}
	if sib.Next == inIdx || sib.Prev == inIdx {
		return sibIdx
	}

	if sib.Compare(t.Entry(inIdx)) == OrderGreater {
		return t.FindSib(inIdx, sib.Prev)
	}
	return t.FindSib(inIdx, sib.Next)
}

// DeleteEntry unhooks inIdx from its sibling tree, splicing a replacement
// subtree into its place, and marks the slot invalid for reuse. Stream
// sectors are freed by the caller.
func (t *DirTree) DeleteEntry(inIdx uint32, fullName string, bigBlockSize uint32) {
	nEntries := t.EntryCount()
	parentIdx, sibIdx := t.FindParentAndSib(inIdx, fullName)

	dirToDel := t.Entry(inIdx)
	if dirToDel == nil {
		return
	}

	var replIdx uint32
	if dirToDel.Next == 0 || dirToDel.Next > nEntries {
		replIdx = dirToDel.Prev
	} else {
		sibNext := t.Entry(dirToDel.Next)
		if sibNext.Prev == 0 || sibNext.Prev > nEntries {
			replIdx = dirToDel.Next
			sibNext.Prev = dirToDel.Prev
			t.MarkAsDirty(replIdx, bigBlockSize)
		} else {
			// walk down to the smallest descendant of the next sibling
			smlIdx := dirToDel.Next
			smlSib := t.Entry(smlIdx)
			var smlrIdx uint32
			var smlrSib *DirEntry
			for {
				smlrIdx = smlSib.Prev
				smlrSib = t.Entry(smlrIdx)
				if smlrSib.Prev == 0 || smlrSib.Prev > nEntries {
					break
				}
				smlSib = smlrSib
				smlIdx = smlrIdx
			}
			replIdx = smlSib.Prev
			smlSib.Prev = smlrSib.Next
			smlrSib.Prev = dirToDel.Prev
			smlrSib.Next = dirToDel.Next
			t.MarkAsDirty(smlIdx, bigBlockSize)
			t.MarkAsDirty(smlrIdx, bigBlockSize)
		}
	}

	if sibIdx != 0 {
		sib := t.Entry(sibIdx)
		if sib.Next == inIdx {
			sib.Next = replIdx
		} else {
			sib.Prev = replIdx
		}
		t.MarkAsDirty(sibIdx, bigBlockSize)
	} else {
		t.Entry(parentIdx).Child = replIdx
		t.MarkAsDirty(parentIdx, bigBlockSize)
	}

	dirToDel.Valid = false
	t.MarkAsDirty(inIdx, bigBlockSize)
}

// Validate runs the structural checks applied to untrusted containers in
// strict mode: a proper root, no cycles, bounded links and sibling names
// in order.
func (t *DirTree) Validate() error {
	if t.EntryCount() == 0 {
		return fmt.Errorf("directory has no entries")
	}

	root := t.Entry(ROOT_STREAM_ID)
	if !root.Valid || !root.Dir {
		return fmt.Errorf("directory has no root entry")
	}

	visited := make(map[uint32]bool)
	stack := []uint32{ROOT_STREAM_ID}

	for len(stack) > 0 {
		entryId := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[entryId] {
			return fmt.Errorf("directory has a cycle")
		}
		visited[entryId] = true

		e := t.Entry(entryId)

		if prev := e.Prev; prev != NO_STREAM && prev != 0 {
			if prev >= t.EntryCount() {
				return fmt.Errorf("left sibling index is %v, but directory entry count is %v",
					prev, t.EntryCount())
			}
			if p := t.Entry(prev); p.Valid && p.Compare(e) != OrderLess {
				return fmt.Errorf("name ordering, %v vs %v", p.Name, e.Name)
			}
			stack = append(stack, prev)
		}

		if next := e.Next; next != NO_STREAM && next != 0 {
			if next >= t.EntryCount() {
				return fmt.Errorf("right sibling index is %v, but directory entry count is %v",
					next, t.EntryCount())
			}
			if n := t.Entry(next); n.Valid && e.Compare(n) != OrderLess {
				return fmt.Errorf("name ordering, %v vs %v", e.Name, n.Name)
			}
			stack = append(stack, next)
		}

		if child := e.Child; child != NO_STREAM && child != 0 {
			if child >= t.EntryCount() {
				return fmt.Errorf("child index is %v, but directory entry count is %v",
					child, t.EntryCount())
			}
			stack = append(stack, child)
		}
	}

	return nil
}
