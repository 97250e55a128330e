package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteSnapshot frames a payload produced by writeFunc: fixed header,
// payload length, (possibly compressed) payload, CRC32 trailer over the
// payload bytes as stored.
func WriteSnapshot(w io.Writer, compression CompressionType, writeFunc func(io.Writer) error) error {
	header := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: compression,
	}
	if err := header.Validate(); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	var payload bytes.Buffer
	if err := writeFunc(&payload); err != nil {
		return err
	}

	stored, err := compress(payload.Bytes(), compression)
	if err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(stored))); err != nil {
		return fmt.Errorf("write payload length: %w", err)
	}

	cw := NewChecksumWriter(w)
	if _, err := cw.Write(stored); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, cw.Sum()); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}

	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot, verifying the
// header and the CRC32 trailer before handing the payload to readFunc.
func ReadSnapshot(r io.Reader, readFunc func(io.Reader) error) error {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err := header.Validate(); err != nil {
		return err
	}

	var storedLen uint64
	if err := binary.Read(r, binary.LittleEndian, &storedLen); err != nil {
		return fmt.Errorf("read payload length: %w", err)
	}

	cr := NewChecksumReader(io.LimitReader(r, int64(storedLen)))
	stored, err := io.ReadAll(cr)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if uint64(len(stored)) != storedLen {
		return fmt.Errorf("read payload: truncated: want %d bytes, got %d", storedLen, len(stored))
	}

	var expected uint32
	if err := binary.Read(r, binary.LittleEndian, &expected); err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	if err := cr.Verify(expected); err != nil {
		return err
	}

	payload, err := decompress(stored, header.Compression)
	if err != nil {
		return err
	}

	return readFunc(bytes.NewReader(payload))
}

// SaveToFile atomically writes a file: the payload goes to a temp sibling,
// is fsynced, then renamed over the target, and the directory is fsynced so
// the rename survives a crash. A reader never observes a partial file.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Temp file in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// LoadFromFile opens a file and hands a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return readFunc(bufio.NewReaderSize(f, 256*1024))
}
