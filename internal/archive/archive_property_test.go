//go:build property

package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"
)

// TestArchiveProperties validates the archive against the standard reader.
func TestArchiveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("CRC matches hash/crc32", prop.ForAll(
		func(data []byte) bool {
			return CRC32(data) == crc32.ChecksumIEEE(data)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("standard reader recovers every file", prop.ForAll(
		func(contents []string) bool {
			fs := afero.NewMemMapFs()
			expected := make(map[string]string, len(contents))
			for i, c := range contents {
				name := fmt.Sprintf("d%d/f%d.txt", i%3, i)
				expected[name] = c
				p := filepath.Join("root", filepath.FromSlash(name))
				if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return false
				}
				if err := afero.WriteFile(fs, p, []byte(c), 0o644); err != nil {
					return false
				}
			}
			if err := fs.MkdirAll("root", 0o755); err != nil {
				return false
			}

			data, _, err := NewEncoder(fs, nil).Encode(context.Background(), "root")
			if err != nil {
				return false
			}
			r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
			if err != nil || len(r.File) != len(expected) {
				return false
			}
			for _, f := range r.File {
				rc, err := f.Open()
				if err != nil {
					return false
				}
				got, err := io.ReadAll(rc)
				rc.Close()
				if err != nil || string(got) != expected[f.Name] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("central directory starts after all local records", prop.ForAll(
		func(contents []string) bool {
			entries := make([]Entry, 0, len(contents))
			sum := 0
			for i, c := range contents {
				e, err := NewEntry(fmt.Sprintf("f%d", i), []byte(c))
				if err != nil {
					return false
				}
				sum += localHeaderLen + len(e.Name) + len(e.Compressed)
				entries = append(entries, e)
			}
			data, err := Assemble(entries)
			if err != nil {
				return false
			}
			end := data[len(data)-endRecordLen:]
			return binary.LittleEndian.Uint32(end[16:]) == uint32(sum)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
