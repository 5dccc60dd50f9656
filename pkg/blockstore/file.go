package blockstore

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileStore is a Store backed by a single regular file or block device,
// addressed at byte offset lba*blockSize. Adapted from dittofs's
// pkg/store/block filesystem-backed style (open-file-plus-mutex,
// copy-on-read/write to avoid aliasing caller buffers) but operating
// on one fixed-size file rather than dittofs's key-per-block layout,
// since a LUN is one contiguous extent.
type FileStore struct {
	mu        sync.RWMutex
	f         *os.File
	blockSize uint32
	capacity  uint64 // in blocks
	readOnly  bool
	closed    bool
}

// OpenFileStore opens (or creates, if it does not exist) path as a
// FileStore of capacityBlocks blocks of blockSize bytes. If the file is
// shorter than the requested capacity it is extended (sparsely) with
// Truncate; if longer, the extra tail is ignored.
func OpenFileStore(path string, capacityBlocks uint64, blockSize uint32, readOnly bool) (*FileStore, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", path, err)
	}

	size := int64(capacityBlocks) * int64(blockSize)
	if !readOnly {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("blockstore: stat %s: %w", path, err)
		}
		if st.Mode().IsRegular() && st.Size() < size {
			if err := f.Truncate(size); err != nil {
				f.Close()
				return nil, fmt.Errorf("blockstore: truncate %s to %d bytes: %w", path, size, err)
			}
		}
	}

	return &FileStore{f: f, blockSize: blockSize, capacity: capacityBlocks, readOnly: readOnly}, nil
}

func (s *FileStore) Capacity() (uint64, uint32) {
	return s.capacity, s.blockSize
}

func (s *FileStore) ReadAt(ctx context.Context, lba uint64, blockCount uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if CheckBounds(lba, blockCount, s.capacity) != 0 {
		return nil, ErrOutOfRange
	}

	buf := make([]byte, uint64(blockCount)*uint64(s.blockSize))
	off := int64(lba) * int64(s.blockSize)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("blockstore: read at lba %d: %w", lba, err)
	}
	return buf, nil
}

func (s *FileStore) WriteAt(ctx context.Context, lba uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	blockCount := uint32(uint64(len(data)) / uint64(s.blockSize))
	if CheckBounds(lba, blockCount, s.capacity) != 0 {
		return ErrOutOfRange
	}

	off := int64(lba) * int64(s.blockSize)
	if _, err := s.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("blockstore: write at lba %d: %w", lba, err)
	}
	return nil
}

func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return nil
	}
	return s.f.Sync()
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
