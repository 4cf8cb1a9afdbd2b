package metadata

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/snipvec/snipvec/codec"
	"github.com/snipvec/snipvec/persistence"
)

// Log file layout, little-endian:
//
//	uint32  magic ("SNPM")
//	uint32  format version
//	uint16  codec name length, followed by the name bytes
//	uint16  compression name length, followed by the name bytes
//	uint64  record count
//	uint64  raw payload size (before compression)
//	uint64  stored payload size
//	uint32  CRC32 of the stored payload
//	bytes   payload: the records in ascending ID order, marshaled by the
//	        named codec and compressed by the named compression
//
// The header names codec and compression so a log written under one
// configuration reopens correctly under any other.

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err
}

// EncodeTo writes the full log to w. Records marked deleted are written too;
// they disappear from the persisted form only after Compact.
func (l *Log) EncodeTo(w io.Writer, c codec.Codec, comp persistence.Compression) (int64, error) {
	if c == nil {
		c = codec.Default
	}

	if comp == "" {
		comp = persistence.CompressionNone
	}

	if !comp.Valid() {
		return 0, fmt.Errorf("metadata: unsupported compression %q", comp)
	}

	records := make([]Record, 0, len(l.records))
	l.Range(func(rec Record) bool {
		records = append(records, rec)
		return true
	})

	raw, err := c.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("metadata: marshal records: %w", err)
	}

	stored, err := persistence.Compress(comp, raw)
	if err != nil {
		return 0, fmt.Errorf("metadata: compress payload: %w", err)
	}

	cw := &countingWriter{w: w}

	for _, v := range []uint32{persistence.LogMagicNumber, persistence.LogVersion} {
		if err := binary.Write(cw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}

	if err := writeString(cw, c.Name()); err != nil {
		return cw.n, err
	}

	if err := writeString(cw, string(comp)); err != nil {
		return cw.n, err
	}

	for _, v := range []uint64{uint64(len(records)), uint64(len(raw)), uint64(len(stored))} {
		if err := binary.Write(cw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}

	if err := binary.Write(cw, binary.LittleEndian, persistence.Checksum(stored)); err != nil {
		return cw.n, err
	}

	if _, err := cw.Write(stored); err != nil {
		return cw.n, err
	}

	return cw.n, nil
}

// DecodeFrom replaces the log contents with the records read from r. The
// codec and compression are taken from the file header, not from the caller.
func (l *Log) DecodeFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	var magic, version uint32
	if err := binary.Read(cr, binary.LittleEndian, &magic); err != nil {
		return cr.n, err
	}

	if magic != persistence.LogMagicNumber {
		return cr.n, fmt.Errorf("metadata: %w: got 0x%08X", persistence.ErrInvalidMagic, magic)
	}

	if err := binary.Read(cr, binary.LittleEndian, &version); err != nil {
		return cr.n, err
	}

	if version != persistence.LogVersion {
		return cr.n, fmt.Errorf("metadata: %w: got 0x%08X", persistence.ErrInvalidVersion, version)
	}

	codecName, err := readString(cr)
	if err != nil {
		return cr.n, err
	}

	c, ok := codec.ByName(codecName)
	if !ok {
		return cr.n, fmt.Errorf("metadata: unknown codec %q", codecName)
	}

	compName, err := readString(cr)
	if err != nil {
		return cr.n, err
	}

	comp := persistence.Compression(compName)
	if !comp.Valid() {
		return cr.n, fmt.Errorf("metadata: unsupported compression %q", compName)
	}

	var recordCount, rawSize, payloadSize uint64
	for _, v := range []*uint64{&recordCount, &rawSize, &payloadSize} {
		if err := binary.Read(cr, binary.LittleEndian, v); err != nil {
			return cr.n, err
		}
	}

	var checksum uint32
	if err := binary.Read(cr, binary.LittleEndian, &checksum); err != nil {
		return cr.n, err
	}

	if payloadSize > math.MaxInt32 {
		return cr.n, fmt.Errorf("metadata: implausible payload size %d", payloadSize)
	}

	stored := make([]byte, payloadSize)
	if _, err := io.ReadFull(cr, stored); err != nil {
		return cr.n, fmt.Errorf("metadata: read payload: %w", err)
	}

	if err := persistence.VerifyChecksum(checksum, stored); err != nil {
		return cr.n, err
	}

	raw, err := persistence.Decompress(comp, stored)
	if err != nil {
		return cr.n, fmt.Errorf("metadata: decompress payload: %w", err)
	}

	if uint64(len(raw)) != rawSize {
		return cr.n, fmt.Errorf("metadata: payload size mismatch: header says %d bytes, got %d", rawSize, len(raw))
	}

	var records []Record
	if err := c.Unmarshal(raw, &records); err != nil {
		return cr.n, fmt.Errorf("metadata: unmarshal records: %w", err)
	}

	if uint64(len(records)) != recordCount {
		return cr.n, fmt.Errorf("metadata: record count mismatch: header says %d, got %d", recordCount, len(records))
	}

	fresh := NewLog()
	for _, rec := range records {
		if err := fresh.Append(rec); err != nil {
			return cr.n, err
		}
	}

	*l = *fresh

	return cr.n, nil
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

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("metadata: string too long: %d bytes", len(s))
	}

	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}

	_, err := io.WriteString(w, s)

	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
