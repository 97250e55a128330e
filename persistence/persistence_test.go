package persistence

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("semdex snapshot payload "), 1000)

	for _, compression := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(compression.String(), func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteSnapshot(&buf, compression, func(w io.Writer) error {
				_, err := w.Write(payload)
				return err
			})
			require.NoError(t, err)

			var got []byte
			err = ReadSnapshot(bytes.NewReader(buf.Bytes()), func(r io.Reader) error {
				var err error
				got, err = io.ReadAll(r)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestSnapshotCompressionShrinksPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaabbbbbbbb"), 4096)

	var plain, compressed bytes.Buffer
	require.NoError(t, WriteSnapshot(&plain, CompressionNone, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	}))
	require.NoError(t, WriteSnapshot(&compressed, CompressionZSTD, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	}))

	assert.Less(t, compressed.Len(), plain.Len())
}

func TestSnapshotValidation(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteSnapshot(&buf, CompressionNone, func(w io.Writer) error {
			_, err := w.Write([]byte("payload"))
			return err
		}))
		return buf.Bytes()
	}

	t.Run("bad magic", func(t *testing.T) {
		data := valid()
		binary.LittleEndian.PutUint32(data[0:4], 0xDEADBEEF)

		err := ReadSnapshot(bytes.NewReader(data), func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("bad version", func(t *testing.T) {
		data := valid()
		binary.LittleEndian.PutUint32(data[4:8], 0x00990000)

		err := ReadSnapshot(bytes.NewReader(data), func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("bad compression type", func(t *testing.T) {
		data := valid()
		data[8] = 0xFF

		err := ReadSnapshot(bytes.NewReader(data), func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, ErrInvalidCompression)
	})

	t.Run("flipped payload bit", func(t *testing.T) {
		data := valid()
		data[len(data)-6] ^= 0x01 // inside the payload, before the trailer

		err := ReadSnapshot(bytes.NewReader(data), func(io.Reader) error { return nil })
		var mismatch *ChecksumMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		data := valid()
		err := ReadSnapshot(bytes.NewReader(data[:len(data)-8]), func(io.Reader) error { return nil })
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		err := ReadSnapshot(bytes.NewReader(nil), func(io.Reader) error { return nil })
		assert.Error(t, err)
	})
}

func TestSaveToFile(t *testing.T) {
	t.Run("writes atomically", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "index.semdex")

		require.NoError(t, SaveToFile(path, func(w io.Writer) error {
			_, err := w.Write([]byte("first"))
			return err
		}))
		require.NoError(t, SaveToFile(path, func(w io.Writer) error {
			_, err := w.Write([]byte("second"))
			return err
		}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))

		// No temp files may be left behind.
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "index.semdex", entries[0].Name())
	})

	t.Run("failed write leaves old file intact", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "index.semdex")

		require.NoError(t, SaveToFile(path, func(w io.Writer) error {
			_, err := w.Write([]byte("original"))
			return err
		}))

		err := SaveToFile(path, func(w io.Writer) error {
			_, _ = w.Write([]byte("partial"))
			return assert.AnError
		})
		require.Error(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestLoadFromFile(t *testing.T) {
	t.Run("round trip with snapshot framing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.semdex")
		payload := strings.Repeat("vector data ", 100)

		require.NoError(t, SaveToFile(path, func(w io.Writer) error {
			return WriteSnapshot(w, CompressionZSTD, func(pw io.Writer) error {
				_, err := io.WriteString(pw, payload)
				return err
			})
		}))

		var got string
		require.NoError(t, LoadFromFile(path, func(r io.Reader) error {
			return ReadSnapshot(r, func(pr io.Reader) error {
				data, err := io.ReadAll(pr)
				got = string(data)
				return err
			})
		}))
		assert.Equal(t, payload, got)
	})

	t.Run("missing file", func(t *testing.T) {
		err := LoadFromFile(filepath.Join(t.TempDir(), "nope"), func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
