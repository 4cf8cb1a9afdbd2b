package pgvector

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

// WriteTo serializes the client-side id ledger. The vectors themselves
// live in the table and are not part of the artifact.
func (p *Index) WriteTo(w io.Writer) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	blob, err := p.tombstones.ToBytes()
	if err != nil {
		return 0, fmt.Errorf("serializing tombstones: %w", err)
	}

	header := &persistence.FileHeader{
		IndexType:    persistence.IndexTypePGVector,
		VectorCount:  p.nextID,
		Dimension:    uint32(p.dim),
		MarkerOffset: persistence.HeaderSize,
		DataOffset:   persistence.HeaderSize + uint64(len(blob)),
		Checksum:     crc32.Checksum(blob, persistence.CRC32Table),
	}

	cw := &countingWriter{w: w}
	bw := persistence.NewBinaryWriter(cw)
	if err := bw.WriteHeader(header); err != nil {
		return cw.n, err
	}
	if err := bw.WriteBytes(blob); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFrom merges a previously written ledger into the index. The table
// remains authoritative: the artifact can only advance the id sequence
// and widen the tombstone set beyond what the table already said.
func (p *Index) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	br := persistence.NewBinaryReader(cr)

	header, err := br.ReadHeader()
	if err != nil {
		return cr.n, err
	}
	if header.IndexType != persistence.IndexTypePGVector {
		return cr.n, fmt.Errorf("%w: type %d", persistence.ErrInvalidIndex, header.IndexType)
	}
	if int(header.Dimension) != p.dim {
		return cr.n, &index.ErrDimensionMismatch{Expected: p.dim, Actual: int(header.Dimension)}
	}

	blob, err := br.ReadBytes(int(header.DataOffset - persistence.HeaderSize))
	if err != nil {
		return cr.n, err
	}
	if sum := crc32.Checksum(blob, persistence.CRC32Table); sum != header.Checksum {
		return cr.n, &persistence.ChecksumMismatchError{Expected: header.Checksum, Actual: sum}
	}

	tombstones := roaring64.New()
	if _, err := tombstones.ReadFrom(bytes.NewReader(blob)); err != nil {
		return cr.n, fmt.Errorf("%w: tombstone bitmap: %v", persistence.ErrInvalidIndex, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if header.VectorCount > p.nextID {
		p.nextID = header.VectorCount
	}
	p.tombstones.Or(tombstones)
	return cr.n, nil
}
