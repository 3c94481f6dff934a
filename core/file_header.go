package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// Magic is the 3-byte signature at the start of every file.
const Magic = "EMU"

// FormatVersion is the container version written by this library. It is
// stored as 4 zero-padded ASCII digits directly after the magic.
const FormatVersion = 1

const (
	MagicLen   = len(Magic)
	VersionLen = 4
	// HeaderSize is magic + ASCII version + uint32 flag word.
	HeaderSize = MagicLen + VersionLen + 4
	// TrailerMagic marks the start of the trailer.
	TrailerMagic = "HDR\x00"
	// TrailerPointerSize is the trailing uint64 that locates the trailer.
	TrailerPointerSize = 8
)

// Feature flag bits. All undefined bits are reserved and must be zero.
const (
	// FlagCloudOptimised is set when the body was written overviews-first
	// so a streaming reader can render coarse levels early.
	FlagCloudOptimised uint32 = 1 << 0

	flagsKnown = FlagCloudOptimised
)

// FileHeader is the fixed header at the start of every EMU file.
type FileHeader struct {
	Version uint32
	Flags   uint32
}

// CloudOptimised reports whether the cloud-optimised flag bit is set.
func (h FileHeader) CloudOptimised() bool {
	return h.Flags&FlagCloudOptimised != 0
}

// WriteFileHeader writes the magic, the zero-padded ASCII version and the
// little-endian flag word.
func WriteFileHeader(w io.Writer, flags uint32) error {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, Magic...)
	buf = append(buf, fmt.Sprintf("%0*d", VersionLen, FormatVersion)...)
	buf = binary.LittleEndian.AppendUint32(buf, flags)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write file header: %w", err)
	}
	return nil
}

// ReadFileHeader reads and validates the fixed header. A wrong magic,
// unparseable version or reserved flag bit is reported as ErrCorrupted.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return FileHeader{}, fmt.Errorf("failed to read file header: %w", err)
	}
	if !bytes.Equal(raw[:MagicLen], []byte(Magic)) {
		return FileHeader{}, fmt.Errorf("bad magic %q: %w", raw[:MagicLen], ErrCorrupted)
	}
	version, err := strconv.ParseUint(string(raw[MagicLen:MagicLen+VersionLen]), 10, 32)
	if err != nil {
		return FileHeader{}, fmt.Errorf("bad version %q: %w", raw[MagicLen:MagicLen+VersionLen], ErrCorrupted)
	}
	flags := binary.LittleEndian.Uint32(raw[MagicLen+VersionLen:])
	if flags&^flagsKnown != 0 {
		return FileHeader{}, fmt.Errorf("reserved flag bits set (%#x): %w", flags, ErrCorrupted)
	}
	return FileHeader{Version: uint32(version), Flags: flags}, nil
}
