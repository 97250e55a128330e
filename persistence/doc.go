// Package persistence implements the snapshot file format and atomic
// file-replacement helpers.
//
// A snapshot is a fixed header (magic, version, compression type), a
// length-prefixed payload that may be LZ4- or ZSTD-compressed, and a CRC32
// trailer over the stored payload bytes. Files are always written to a temp
// sibling and renamed into place, so a crashed save leaves either the old
// file or the new one, never a torn mix.
package persistence
