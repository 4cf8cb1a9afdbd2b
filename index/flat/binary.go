package flat

import (
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/persistence"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// SaveToFile saves the index to a file crash-safely (temp file + rename).
func (f *Flat) SaveToFile(filename string) error {
	return persistence.SaveToFile(filename, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
}

// LoadFromFile loads a flat index from a file.
//
// A missing file is first-run behavior, not an error: if the options carry a
// dimension, an empty index of that dimension is returned. The persisted
// dimension is authoritative; a conflicting option dimension fails with a
// dimension mismatch.
func LoadFromFile(filename string, optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	f := &Flat{tombstones: roaring64.New(), dim: opts.Dimension}
	err := persistence.LoadFromFile(filename, func(r io.Reader) error {
		_, err := f.ReadFrom(r)
		return err
	})
	if err != nil {
		if os.IsNotExist(err) && opts.Dimension > 0 {
			return New(func(o *Options) { *o = opts })
		}
		return nil, err
	}
	return f, nil
}

// WriteTo serializes the index: header, validity markers (one byte per slot,
// padded to 4-byte alignment), then the contiguous vector data with
// tombstoned slots zero-filled so id alignment survives the round trip.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	slots := f.slotsLocked()
	markers := make([]byte, slots)
	for id := uint64(0); id < slots; id++ {
		if !f.tombstones.Contains(id) {
			markers[id] = 1
		}
	}
	padding := make([]byte, (4-(slots%4))%4)

	vecBytes, err := persistence.Float32SliceBytes(f.vectors)
	if err != nil {
		return 0, err
	}

	h := crc32.New(persistence.CRC32Table)
	_, _ = h.Write(markers)
	_, _ = h.Write(padding)
	_, _ = h.Write(vecBytes)

	cw := &countingWriter{w: w}
	writer := persistence.NewBinaryWriter(cw)

	header := &persistence.FileHeader{
		IndexType:    persistence.IndexTypeFlat,
		VectorCount:  slots,
		Dimension:    uint32(f.dim),
		MarkerOffset: persistence.HeaderSize,
		DataOffset:   persistence.HeaderSize + uint64(len(markers)+len(padding)),
		Checksum:     h.Sum32(),
	}
	if err := writer.WriteHeader(header); err != nil {
		return cw.n, err
	}
	if err := writer.WriteBytes(markers); err != nil {
		return cw.n, err
	}
	if err := writer.WriteBytes(padding); err != nil {
		return cw.n, err
	}
	if err := writer.WriteFloat32Slice(f.vectors); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFrom restores an index serialized by WriteTo into this instance. The
// instance must be freshly constructed; a pre-set dimension acts as a
// cross-check against the persisted one.
//
// It matches the io.ReaderFrom interface for toolchain friendliness.
func (f *Flat) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	reader := persistence.NewBinaryReader(cr)

	header, err := reader.ReadHeader()
	if err != nil {
		return cr.n, err
	}
	if header.IndexType != persistence.IndexTypeFlat {
		return cr.n, fmt.Errorf("%w: expected flat, got %d", persistence.ErrInvalidIndex, header.IndexType)
	}
	// The persisted dimension is authoritative.
	if f.dim != 0 && f.dim != int(header.Dimension) {
		return cr.n, &index.ErrDimensionMismatch{Expected: f.dim, Actual: int(header.Dimension)}
	}

	slots := header.VectorCount
	dim := int(header.Dimension)
	padded := slots + (4-(slots%4))%4
	if header.DataOffset != persistence.HeaderSize+padded {
		return cr.n, fmt.Errorf("%w: data offset %d disagrees with %d slots", persistence.ErrInvalidHeader, header.DataOffset, slots)
	}
	if slots*uint64(dim) > math.MaxInt32/4 {
		return cr.n, fmt.Errorf("%w: vector section of %d slots at dimension %d exceeds limit", persistence.ErrInvalidHeader, slots, dim)
	}

	markers, err := reader.ReadBytes(int(padded))
	if err != nil {
		return cr.n, err
	}

	vectors, err := reader.ReadFloat32Slice(int(slots) * dim)
	if err != nil {
		return cr.n, err
	}

	vecBytes, err := persistence.Float32SliceBytes(vectors)
	if err != nil {
		return cr.n, err
	}
	h := crc32.New(persistence.CRC32Table)
	_, _ = h.Write(markers)
	_, _ = h.Write(vecBytes)
	if h.Sum32() != header.Checksum {
		return cr.n, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: h.Sum32()}
	}

	tombstones := roaring64.New()
	for id := uint64(0); id < slots; id++ {
		if markers[id] == 0 {
			tombstones.Add(id)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dim = dim
	f.vectors = vectors
	f.tombstones = tombstones
	f.mapped = false
	return cr.n, nil
}
