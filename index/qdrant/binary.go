package qdrant

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

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

// WriteTo serializes the id ledger: header, then the tombstone bitmap. The
// vectors themselves are Qdrant's to keep.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (q *Index) WriteTo(w io.Writer) (int64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	blob, err := q.tombstones.ToBytes()
	if err != nil {
		return 0, err
	}

	h := crc32.New(persistence.CRC32Table)
	_, _ = h.Write(blob)

	cw := &countingWriter{w: w}
	writer := persistence.NewBinaryWriter(cw)

	header := &persistence.FileHeader{
		IndexType:    persistence.IndexTypeQdrant,
		VectorCount:  q.nextID,
		Dimension:    uint32(q.dim),
		MarkerOffset: persistence.HeaderSize,
		DataOffset:   persistence.HeaderSize + uint64(len(blob)),
		Checksum:     h.Sum32(),
	}
	if err := writer.WriteHeader(header); err != nil {
		return cw.n, err
	}
	if err := writer.WriteBytes(blob); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFrom restores a ledger serialized by WriteTo into this instance. The
// instance must be freshly constructed; its dimension acts as a
// cross-check against the persisted one.
//
// It matches the io.ReaderFrom interface for toolchain friendliness.
func (q *Index) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	reader := persistence.NewBinaryReader(cr)

	header, err := reader.ReadHeader()
	if err != nil {
		return cr.n, err
	}
	if header.IndexType != persistence.IndexTypeQdrant {
		return cr.n, fmt.Errorf("%w: expected qdrant ledger, got %d", persistence.ErrInvalidIndex, header.IndexType)
	}
	if q.dim != 0 && q.dim != int(header.Dimension) {
		return cr.n, &index.ErrDimensionMismatch{Expected: q.dim, Actual: int(header.Dimension)}
	}

	blob, err := reader.ReadBytes(int(header.DataOffset - persistence.HeaderSize))
	if err != nil {
		return cr.n, err
	}

	h := crc32.New(persistence.CRC32Table)
	_, _ = h.Write(blob)
	if h.Sum32() != header.Checksum {
		return cr.n, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: h.Sum32()}
	}

	tombstones := roaring64.New()
	if _, err := tombstones.ReadFrom(bytes.NewReader(blob)); err != nil {
		return cr.n, fmt.Errorf("%w: tombstone set: %v", persistence.ErrInvalidIndex, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID = header.VectorCount
	q.tombstones = tombstones
	return cr.n, nil
}
