// Package persistence provides the binary on-disk format and crash-safe file
// helpers shared by the index snapshot and the metadata log.
package persistence

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MagicNumber identifies snipvec vector blob files (ASCII: "SNP1").
	MagicNumber = 0x534E5031
	// Version is the current vector blob format version (v1.0.0).
	Version = 0x00010000

	// LogMagicNumber identifies snipvec metadata log files (ASCII: "SNPM").
	LogMagicNumber = 0x534E504D
	// LogVersion is the current metadata log format version (v1.0.0).
	LogVersion = 0x00010000

	// Index types. The type byte fixes the layout and, implicitly, the
	// distance metric the stored vectors were indexed under. Remote-backed
	// types persist only a client-side id ledger; the vectors live with
	// the remote service.
	IndexTypeFlat     = 1
	IndexTypeQdrant   = 2
	IndexTypePGVector = 3
)

// HeaderSize is the fixed byte length of FileHeader on disk.
const HeaderSize = 64

const (
	// MaxVectorCount bounds the slot count a reader accepts from a header.
	MaxVectorCount = 100_000_000
	// MaxDimension bounds the vector dimensionality accepted from a header.
	MaxDimension = 1 << 16
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrInvalidIndex   = errors.New("invalid index type")
	ErrInvalidHeader  = errors.New("invalid header field")
)

// FileHeader is the 64-byte header at the start of every vector blob.
// Layout is fixed-size and little-endian for mmap compatibility.
type FileHeader struct {
	Magic        uint32 // 0x534E5031 ("SNP1")
	Version      uint32 // File format version
	IndexType    uint8  // 1=Flat
	Padding1     [3]byte
	VectorCount  uint64 // Total slots, tombstoned ones included
	Dimension    uint32 // Vector dimensionality
	DataOffset   uint64 // Offset of the vector data section
	MarkerOffset uint64 // Offset of the validity marker section
	Checksum     uint32 // CRC32 of markers + vector data
	Padding2     [4]byte
	Reserved     [16]byte // Future use
}

// Validate rejects field values outside the bounds any writer of this
// package produces. Readers size allocations from these fields before the
// checksum is verified, so implausible values must fail here.
func (h *FileHeader) Validate() error {
	if h.VectorCount > MaxVectorCount {
		return fmt.Errorf("%w: vector count %d exceeds limit", ErrInvalidHeader, h.VectorCount)
	}
	if h.Dimension > MaxDimension {
		return fmt.Errorf("%w: dimension %d exceeds limit", ErrInvalidHeader, h.Dimension)
	}
	if h.MarkerOffset != HeaderSize {
		return fmt.Errorf("%w: marker offset %d", ErrInvalidHeader, h.MarkerOffset)
	}
	if h.DataOffset < h.MarkerOffset {
		return fmt.Errorf("%w: data offset %d before marker section", ErrInvalidHeader, h.DataOffset)
	}
	if h.DataOffset-h.MarkerOffset > math.MaxInt32 {
		return fmt.Errorf("%w: marker section of %d bytes exceeds limit", ErrInvalidHeader, h.DataOffset-h.MarkerOffset)
	}
	return nil
}
