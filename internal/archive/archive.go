// Package archive serializes a staged tree into a zip archive whose bytes are
// fully determined by the tree: entries in traversal order, deflate (method
// 8) payloads, zeroed timestamps and attributes, no extra fields, no Zip64.
package archive

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/staging"
	"github.com/spf13/afero"
)

// Record signatures and fixed sizes.
const (
	localHeaderSignature   = 0x04034b50
	centralHeaderSignature = 0x02014b50
	endRecordSignature     = 0x06054b50

	localHeaderLen   = 30
	centralHeaderLen = 46
	endRecordLen     = 22

	versionMadeBy = 20
	versionNeeded = 20
	methodDeflate = 8

	maxEntries = math.MaxUint16
	maxField   = math.MaxUint32
)

// Entry is one encoded file.
type Entry struct {
	Name             []byte
	CRC32            uint32
	Compressed       []byte
	UncompressedSize uint32
	CompressedSize   uint32
	Offset           uint32
}

// localRecordLen is the length of the local header, name and payload.
func (e *Entry) localRecordLen() int {
	return localHeaderLen + len(e.Name) + len(e.Compressed)
}

// NewEntry compresses content and computes its checksum. Backslashes in name
// become forward slashes; the name bytes are otherwise kept as they are.
func NewEntry(name string, content []byte) (Entry, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if len(name) > math.MaxUint16 {
		return Entry{}, errors.NewArchiveError(errors.CodeArchiveLimit, "entry name too long", nil).WithPath(name)
	}
	if uint64(len(content)) > maxField {
		return Entry{}, errors.NewArchiveError(errors.CodeArchiveLimit, "file larger than 4 GiB", nil).WithPath(name)
	}

	compressed, err := deflate(content)
	if err != nil {
		return Entry{}, errors.NewInternalError(errors.CodeArchiveWrite, "compressing "+name, err)
	}
	if uint64(len(compressed)) > maxField {
		return Entry{}, errors.NewArchiveError(errors.CodeArchiveLimit, "compressed file larger than 4 GiB", nil).WithPath(name)
	}

	return Entry{
		Name:             []byte(name),
		CRC32:            CRC32(content),
		Compressed:       compressed,
		UncompressedSize: uint32(len(content)),
		CompressedSize:   uint32(len(compressed)),
	}, nil
}

// deflate returns the raw DEFLATE stream for content, without zlib or gzip
// framing.
func deflate(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Assemble lays out entries as local records, central directory and end
// record. It assigns each entry's Offset.
func Assemble(entries []Entry) ([]byte, error) {
	if len(entries) > maxEntries {
		return nil, errors.NewArchiveError(errors.CodeArchiveLimit,
			fmt.Sprintf("%d entries exceed the %d entry limit", len(entries), maxEntries), nil)
	}

	var out bytes.Buffer
	var cursor uint64
	for i := range entries {
		if cursor > maxField {
			return nil, errors.NewArchiveError(errors.CodeArchiveLimit, "archive larger than 4 GiB", nil)
		}
		entries[i].Offset = uint32(cursor)
		writeLocalRecord(&out, &entries[i])
		cursor += uint64(entries[i].localRecordLen())
	}

	centralStart := cursor
	var centralSize uint64
	for i := range entries {
		writeCentralHeader(&out, &entries[i])
		centralSize += uint64(centralHeaderLen + len(entries[i].Name))
	}
	if centralStart > maxField || centralSize > maxField {
		return nil, errors.NewArchiveError(errors.CodeArchiveLimit, "archive larger than 4 GiB", nil)
	}

	writeEndRecord(&out, uint16(len(entries)), uint32(centralSize), uint32(centralStart))
	return out.Bytes(), nil
}

func writeLocalRecord(buf *bytes.Buffer, e *Entry) {
	var h [localHeaderLen]byte
	le := binary.LittleEndian
	le.PutUint32(h[0:], localHeaderSignature)
	le.PutUint16(h[4:], versionNeeded)
	le.PutUint16(h[6:], 0) // flags
	le.PutUint16(h[8:], methodDeflate)
	le.PutUint16(h[10:], 0) // mod time
	le.PutUint16(h[12:], 0) // mod date
	le.PutUint32(h[14:], e.CRC32)
	le.PutUint32(h[18:], e.CompressedSize)
	le.PutUint32(h[22:], e.UncompressedSize)
	le.PutUint16(h[26:], uint16(len(e.Name)))
	le.PutUint16(h[28:], 0) // extra length
	buf.Write(h[:])
	buf.Write(e.Name)
	buf.Write(e.Compressed)
}

func writeCentralHeader(buf *bytes.Buffer, e *Entry) {
	var h [centralHeaderLen]byte
	le := binary.LittleEndian
	le.PutUint32(h[0:], centralHeaderSignature)
	le.PutUint16(h[4:], versionMadeBy)
	le.PutUint16(h[6:], versionNeeded)
	le.PutUint16(h[8:], 0) // flags
	le.PutUint16(h[10:], methodDeflate)
	le.PutUint16(h[12:], 0) // mod time
	le.PutUint16(h[14:], 0) // mod date
	le.PutUint32(h[16:], e.CRC32)
	le.PutUint32(h[20:], e.CompressedSize)
	le.PutUint32(h[24:], e.UncompressedSize)
	le.PutUint16(h[28:], uint16(len(e.Name)))
	le.PutUint16(h[30:], 0) // extra length
	le.PutUint16(h[32:], 0) // comment length
	le.PutUint16(h[34:], 0) // disk number start
	le.PutUint16(h[36:], 0) // internal attributes
	le.PutUint32(h[38:], 0) // external attributes
	le.PutUint32(h[42:], e.Offset)
	buf.Write(h[:])
	buf.Write(e.Name)
}

func writeEndRecord(buf *bytes.Buffer, count uint16, centralSize, centralStart uint32) {
	var h [endRecordLen]byte
	le := binary.LittleEndian
	le.PutUint32(h[0:], endRecordSignature)
	le.PutUint16(h[4:], 0) // this disk
	le.PutUint16(h[6:], 0) // central directory disk
	le.PutUint16(h[8:], count)
	le.PutUint16(h[10:], count)
	le.PutUint32(h[12:], centralSize)
	le.PutUint32(h[16:], centralStart)
	le.PutUint16(h[20:], 0) // comment length
	buf.Write(h[:])
}

// Encoder builds archives from trees on a filesystem.
type Encoder struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewEncoder creates an encoder reading and writing through fs.
func NewEncoder(fs afero.Fs, logger logging.Logger) *Encoder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Encoder{fs: fs, logger: logger.WithComponent("archive")}
}

// Encode reads every file under root, one at a time in traversal order, and
// returns the complete archive bytes together with the entries written.
func (e *Encoder) Encode(ctx context.Context, root string) ([]byte, []Entry, error) {
	files, err := staging.Enumerate(e.fs, root)
	if err != nil {
		return nil, nil, errors.NewFileSystemError(errors.CodeArchiveWrite, "listing staged files", err).WithPath(root)
	}
	if len(files) > maxEntries {
		return nil, nil, errors.NewArchiveError(errors.CodeArchiveLimit,
			fmt.Sprintf("%d files exceed the %d entry limit", len(files), maxEntries), nil)
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		content, err := afero.ReadFile(e.fs, filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, nil, errors.NewFileSystemError(errors.CodeArchiveWrite, "reading staged file", err).WithPath(f.Path)
		}
		entry, err := NewEntry(f.Path, content)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}

	data, err := Assemble(entries)
	if err != nil {
		return nil, nil, err
	}
	return data, entries, nil
}

// Create encodes root and writes the archive to dest, replacing it only once
// the new archive is completely on disk. It returns the archive size.
func (e *Encoder) Create(ctx context.Context, root, dest string) (int64, error) {
	data, entries, err := e.Encode(ctx, root)
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(e.fs, dest, data); err != nil {
		return 0, errors.NewFileSystemError(errors.CodeArchiveWrite, "writing archive", err).WithPath(dest)
	}
	e.logger.Info(ctx, "Archive written", "path", dest, "entries", len(entries), "bytes", len(data))
	return int64(len(data)), nil
}

func writeAtomic(fs afero.Fs, dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := fs.Chmod(tmpPath, 0o644); err != nil {
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := fs.Rename(tmpPath, dest); err != nil {
		_ = fs.Remove(tmpPath)
		return err
	}
	return nil
}
