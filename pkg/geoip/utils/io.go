package utils

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Buffer is an immutable byte region holding a whole database file.
type Buffer struct {
	data   []byte
	mapped bool
}

// Data returns the file content.
func (b *Buffer) Data() []byte { return b.data }

// Mapped reports whether the content is memory-mapped.
func (b *Buffer) Mapped() bool { return b.mapped }

// Close unmaps mapped content. Heap buffers are left to the GC.
func (b *Buffer) Close() error {
	data := b.data
	b.data = nil
	if b.mapped && len(data) > 0 {
		b.mapped = false
		return unix.Munmap(data)
	}
	return nil
}

// MapFile memory-maps the file at path read-only.
func MapFile(path string) (*Buffer, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	if st.Size <= 0 {
		return &Buffer{data: []byte{}}, nil
	}
	if int64(int(st.Size)) != st.Size {
		return nil, fmt.Errorf("file of %d bytes is too large to map", st.Size)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	// Lookups jump around the tree and the value section.
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	return &Buffer{data: data, mapped: true}, nil
}

// ReadFile loads the file at path into the heap.
func ReadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data}, nil
}

// WrapBytes wraps a caller-owned slice. Close leaves it untouched.
func WrapBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}
