package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// BinaryWriter writes blob sections in little-endian binary format.
type BinaryWriter struct {
	w         io.Writer
	byteOrder binary.ByteOrder
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{
		w:         w,
		byteOrder: binary.LittleEndian, // Native on x86/ARM
	}
}

// WriteHeader writes the file header, stamping magic and version.
func (bw *BinaryWriter) WriteHeader(header *FileHeader) error {
	header.Magic = MagicNumber
	header.Version = Version
	return binary.Write(bw.w, bw.byteOrder, header)
}

// WriteBytes writes a raw byte section.
func (bw *BinaryWriter) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := bw.w.Write(data)
	return err
}

// WriteFloat32Slice writes a float32 slice as raw bytes without copying.
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}

	if err := validateFloat32SliceAlignment(vec); err != nil {
		return err
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// BinaryReader reads blob sections written by BinaryWriter.
type BinaryReader struct {
	r         io.Reader
	byteOrder binary.ByteOrder
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{
		r:         r,
		byteOrder: binary.LittleEndian,
	}
}

// ReadHeader reads and validates the file header.
func (br *BinaryReader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, br.byteOrder, &header); err != nil {
		return nil, err
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	return &header, nil
}

// ReadBytes reads exactly count raw bytes.
func (br *BinaryReader) ReadBytes(count int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	data := make([]byte, count)
	if _, err := io.ReadFull(br.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadFloat32Slice reads a float32 slice of count elements.
func (br *BinaryReader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}
	vec := make([]float32, count)
	if err := br.ReadFloat32SliceInto(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// ReadFloat32SliceInto reads a float32 slice into the provided buffer.
func (br *BinaryReader) ReadFloat32SliceInto(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return err
	}
	return nil
}

// Float32SliceBytes exposes the raw little-endian bytes backing vec without
// copying. The returned slice aliases vec and must not outlive it.
func Float32SliceBytes(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if err := validateFloat32SliceAlignment(vec); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4), nil
}

// BytesToFloat32Slice reinterprets raw little-endian bytes as a float32 slice
// without copying. The returned slice aliases data and must not outlive it;
// len(data) must be a multiple of 4 and 4-byte aligned (mmap'd regions are
// page aligned, which satisfies both).
func BytesToFloat32Slice(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 4", len(data))
	}
	ptr := uintptr(unsafe.Pointer(&data[0]))
	if ptr%4 != 0 {
		return nil, ErrUnalignedAccess
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4), nil
}
