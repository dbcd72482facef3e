// Package olefs reads and writes Compound File Binary (OLE structured
// storage) containers: a sector-based file system inside a single host
// file, with storages and streams addressable by path.
package olefs

import "fmt"

// Storage is the public handle to one container. It is exclusively owned
// by one caller; concurrent use is not supported.
type Storage struct {
	io *storageIO
}

// Open opens an existing container. The returned error is one of
// ErrorOpenFailed, ErrorNotOLE or ErrorBadOLE, possibly wrapped.
func Open(filename string, writable bool) (*Storage, error) {
	return OpenValidated(filename, writable, ValidationPermissive)
}

// OpenValidated opens an existing container with the given validation
// mode. Strict mode fails the open on FAT/DIFAT/directory
// inconsistencies that permissive mode patches or tolerates.
func OpenValidated(filename string, writable bool, validation Validation) (*Storage, error) {
	io := newStorageIO(filename, validation)
	if err := io.open(writable, false); err != nil {
		return nil, err
	}
	return &Storage{io: io}, nil
}

// Create creates (or truncates) a container, open for writing.
func Create(filename string) (*Storage, error) {
	io := newStorageIO(filename, ValidationPermissive)
	if err := io.open(true, true); err != nil {
		return nil, err
	}
	return &Storage{io: io}, nil
}

// Close flushes a writeable container and releases the host file.
func (s *Storage) Close() error {
	return s.io.close()
}

// Flush commits all dirty state to the host file.
func (s *Storage) Flush() error {
	return s.io.flush()
}

func (s *Storage) IsWriteable() bool {
	return s.io.writeable
}

func (s *Storage) Exists(path string) bool {
	return s.io.dirtree.EntryIndex(path, false, nil, 0) != NO_STREAM
}

func (s *Storage) IsDirectory(path string) bool {
	index := s.io.dirtree.EntryIndex(path, false, nil, 0)
	if index == NO_STREAM {
		return false
	}
	return s.io.dirtree.Entry(index).Dir
}

// Entries lists the names under a storage in sibling-tree order.
func (s *Storage) Entries(path string) []string {
	result := make([]string, 0)

	index := s.io.dirtree.EntryIndex(path, false, nil, 0)
	if index == NO_STREAM || !s.io.dirtree.Entry(index).Dir {
		return result
	}

	for _, child := range s.io.dirtree.Children(index) {
		result = append(result, s.io.dirtree.Entry(child).Name)
	}

	return result
}

// List returns the metadata of the entries under a storage.
func (s *Storage) List(path string) []*EntryInfo {
	result := make([]*EntryInfo, 0)

	index := s.io.dirtree.EntryIndex(path, false, nil, 0)
	if index == NO_STREAM || !s.io.dirtree.Entry(index).Dir {
		return result
	}

	for _, child := range s.io.dirtree.Children(index) {
		e := s.io.dirtree.Entry(child)
		result = append(result, &EntryInfo{
			Name:  e.Name,
			Path:  s.io.dirtree.FullName(child),
			Dir:   e.Dir,
			Size:  e.Size,
			CLSID: e.CLSID,
		})
	}

	return result
}

// DeleteByName removes a stream, or a storage with everything below it.
// Returns false on read-only containers and unresolved paths.
func (s *Storage) DeleteByName(path string) bool {
	return s.io.deleteByName(path)
}

// OpenStream opens an existing stream.
func (s *Storage) OpenStream(path string) (*Stream, error) {
	names := NameChainFromPath(path)
	path = PathFromNameChain(names)

	index := s.io.dirtree.EntryIndex(path, false, nil, 0)
	if index == NO_STREAM {
		return nil, fmt.Errorf("stream not found: %s", path)
	}
	if s.io.dirtree.Entry(index).Dir {
		return nil, fmt.Errorf("not a stream: %s", path)
	}

	return newStream(s.io, index, path), nil
}

// CreateStream creates a stream of size bytes at path, building missing
// intermediate storages on the way. The content is unallocated until
// written.
func (s *Storage) CreateStream(path string, size uint32) (*Stream, error) {
	if !s.io.writeable {
		return nil, fmt.Errorf("container is not writeable")
	}

	names := NameChainFromPath(path)
	path = PathFromNameChain(names)

	stream := s.io.streamIO(path, true, size)
	if stream == nil {
		return nil, fmt.Errorf("cannot create stream: %s", path)
	}

	return stream, nil
}

// Stats reports entry and block usage of the container.
type Stats struct {
	Entries           uint32
	UnusedEntries     uint32
	BigBlocks         uint32
	UnusedBigBlocks   uint32
	SmallBlocks       uint32
	UnusedSmallBlocks uint32
}

func (s *Storage) Stats() Stats {
	return Stats{
		Entries:           s.io.dirtree.EntryCount(),
		UnusedEntries:     s.io.dirtree.UnusedEntryCount(),
		BigBlocks:         s.io.bbat.Count(),
		UnusedBigBlocks:   s.io.bbat.UnusedCount(),
		SmallBlocks:       s.io.sbat.Count(),
		UnusedSmallBlocks: s.io.sbat.UnusedCount(),
	}
}
