package persistence

import "errors"

const (
	// MagicNumber identifies semdex snapshot files (ASCII: "SDX1").
	MagicNumber = 0x53445831

	// Version is the current snapshot format version (v1.0.0).
	Version = 0x00010000
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrInvalidCompression = errors.New("invalid compression type")
)

// CompressionType defines the compression algorithm used for the payload.
type CompressionType uint8

const (
	// CompressionNone indicates no compression.
	CompressionNone CompressionType = 0
	// CompressionLZ4 indicates LZ4 compression (fast, moderate ratio).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD indicates ZSTD compression (better ratio).
	CompressionZSTD CompressionType = 2
)

// Valid reports whether c is a known compression type.
func (c CompressionType) Valid() bool {
	switch c {
	case CompressionNone, CompressionLZ4, CompressionZSTD:
		return true
	default:
		return false
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// FileHeader is the fixed-size header at the start of every snapshot file.
// It is followed by a uint64 payload length, the (possibly compressed)
// payload, and a CRC32 trailer computed over the payload bytes.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression CompressionType
	Reserved    [7]byte
}

// Validate checks the header against the current format.
func (h *FileHeader) Validate() error {
	if h.Magic != MagicNumber {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrInvalidVersion
	}
	if !h.Compression.Valid() {
		return ErrInvalidCompression
	}
	return nil
}
