package flat

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/snipvec/snipvec/internal/mmap"
	"github.com/snipvec/snipvec/persistence"
)

// LoadFromFileMmap opens a snapshot without copying vector data onto the
// heap: the vector section aliases the page cache. Intended for read-mostly
// use (verification tooling, serving a frozen corpus); the first mutation
// transparently materializes the vectors in memory.
//
// The returned closer unmaps the file and must be held open for as long as
// the index may still alias it.
func LoadFromFileMmap(filename string) (*Flat, io.Closer, error) {
	m, err := mmap.Open(filename)
	if err != nil {
		return nil, nil, err
	}

	f, err := loadMapped(m.Data)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return f, m, nil
}

func loadMapped(data []byte) (*Flat, error) {
	if len(data) < persistence.HeaderSize {
		return nil, fmt.Errorf("%w: file shorter than header", persistence.ErrInvalidMagic)
	}

	header, err := persistence.NewBinaryReader(bytes.NewReader(data)).ReadHeader()
	if err != nil {
		return nil, err
	}
	if header.IndexType != persistence.IndexTypeFlat {
		return nil, fmt.Errorf("%w: expected flat, got %d", persistence.ErrInvalidIndex, header.IndexType)
	}

	slots := header.VectorCount
	dim := int(header.Dimension)
	padded := slots + (4-(slots%4))%4
	if header.DataOffset != persistence.HeaderSize+padded {
		return nil, fmt.Errorf("%w: data offset %d disagrees with %d slots", persistence.ErrInvalidHeader, header.DataOffset, slots)
	}
	end := header.DataOffset + slots*uint64(dim)*4
	if uint64(len(data)) < end {
		return nil, fmt.Errorf("%w: truncated vector section", persistence.ErrInvalidIndex)
	}

	h := crc32.New(persistence.CRC32Table)
	_, _ = h.Write(data[persistence.HeaderSize:end])
	if h.Sum32() != header.Checksum {
		return nil, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: h.Sum32()}
	}

	markers := data[header.MarkerOffset : header.MarkerOffset+slots]
	tombstones := roaring64.New()
	for id := uint64(0); id < slots; id++ {
		if markers[id] == 0 {
			tombstones.Add(id)
		}
	}

	vectors, err := persistence.BytesToFloat32Slice(data[header.DataOffset:end])
	if err != nil {
		return nil, err
	}

	return &Flat{
		dim:        dim,
		vectors:    vectors,
		tombstones: tombstones,
		mapped:     true,
	}, nil
}
