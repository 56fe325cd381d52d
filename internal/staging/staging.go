// Package staging materializes the output tree that mirrors the project
// source tree, both as a full rebuild and as per-path incremental updates.
package staging

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/spf13/afero"
)

// Kind classifies a reconciled path.
type Kind int

const (
	KindChanged Kind = iota
	KindDeleted
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindChanged:
		return "changed"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// File is one regular file found by Enumerate.
type File struct {
	// Path is relative to the enumerated root and uses forward slashes.
	Path string
	Size int64
}

// Tree mirrors Source into Output on fs.
type Tree struct {
	fs     afero.Fs
	source string
	output string
	logger logging.Logger
}

// NewTree creates a staging tree manager.
func NewTree(fs afero.Fs, source, output string, logger logging.Logger) *Tree {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tree{
		fs:     fs,
		source: filepath.Clean(source),
		output: filepath.Clean(output),
		logger: logger.WithComponent("staging"),
	}
}

// Source returns the source root.
func (t *Tree) Source() string { return t.source }

// Output returns the staging root.
func (t *Tree) Output() string { return t.output }

// Rebuild removes the staging root, recreates it and copies the whole source
// tree into it.
func (t *Tree) Rebuild(ctx context.Context) error {
	if err := t.checkRoots(); err != nil {
		return err
	}
	info, err := t.fs.Stat(t.source)
	if err != nil {
		return errors.NewFileSystemError(errors.CodeStageFailed, "reading source root", err).WithPath(t.source)
	}
	if !info.IsDir() {
		return errors.NewFileSystemError(errors.CodeStageFailed, "source root is not a directory", nil).WithPath(t.source)
	}

	if err := t.fs.RemoveAll(t.output); err != nil {
		return errors.NewFileSystemError(errors.CodeStageFailed, "cleaning staging root", err).WithPath(t.output)
	}
	if err := t.fs.MkdirAll(t.output, 0o755); err != nil {
		return errors.NewFileSystemError(errors.CodeStageFailed, "creating staging root", err).WithPath(t.output)
	}
	if err := CopyTree(ctx, t.fs, t.source, t.output); err != nil {
		return errors.NewFileSystemError(errors.CodeStageFailed, "copying source tree", err).WithOp("rebuild")
	}
	t.logger.Debug(ctx, "Staging tree rebuilt", "source", t.source, "output", t.output)
	return nil
}

// Sync reconciles one path, relative to the source root, into the staging
// tree. A path that exists in the source is copied over its staged
// counterpart (a directory is copied recursively); a path that no longer
// exists is removed from the staging tree. Removing something already gone is
// not an error, so Sync may be repeated for the same path.
func (t *Tree) Sync(ctx context.Context, rel string) (Kind, error) {
	clean, err := CleanRelative(rel)
	if err != nil {
		return KindChanged, err
	}
	src := filepath.Join(t.source, filepath.FromSlash(clean))
	dst := filepath.Join(t.output, filepath.FromSlash(clean))

	info, err := t.fs.Stat(src)
	switch {
	case err == nil:
	case isAbsent(err):
		if err := t.fs.RemoveAll(dst); err != nil && !isAbsent(err) {
			return KindDeleted, errors.NewFileSystemError(errors.CodeSyncFailed, "removing staged path", err).WithPath(clean)
		}
		t.logger.Debug(ctx, "Removed staged path", "path", clean)
		return KindDeleted, nil
	default:
		return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "checking source path", err).WithPath(clean)
	}

	// A path that changed between file and directory leaves a staged entry
	// of the wrong type in the way, either at dst or at one of its parents.
	if err := t.clearParents(clean); err != nil {
		return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "replacing staged parent", err).WithPath(clean)
	}
	if err := clearMismatch(t.fs, dst, info.IsDir()); err != nil {
		return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "replacing staged path", err).WithPath(clean)
	}

	if info.IsDir() {
		if err := CopyTree(ctx, t.fs, src, dst); err != nil {
			return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "copying directory", err).WithPath(clean)
		}
		return KindChanged, nil
	}

	if err := t.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "creating parent directories", err).WithPath(clean)
	}
	if err := CopyFile(t.fs, src, dst); err != nil {
		if isAbsent(err) {
			// Removed between the stat and the copy; the notification for
			// the removal will follow.
			return KindDeleted, nil
		}
		return KindChanged, errors.NewFileSystemError(errors.CodeSyncFailed, "copying file", err).WithPath(clean)
	}
	t.logger.Debug(ctx, "Copied source file", "path", clean)
	return KindChanged, nil
}

// Enumerate lists every regular file under root in directory-traversal order
// with entries of each directory sorted by name.
func Enumerate(fsys afero.Fs, root string) ([]File, error) {
	var files []File
	if err := enumerate(fsys, root, "", &files); err != nil {
		return nil, err
	}
	return files, nil
}

func enumerate(fsys afero.Fs, dir, rel string, out *[]File) error {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if err := enumerate(fsys, full, childRel, out); err != nil {
				return err
			}
			continue
		}
		if !entry.Mode().IsRegular() {
			continue
		}
		*out = append(*out, File{Path: childRel, Size: entry.Size()})
	}
	return nil
}

// CopyTree copies src into dst recursively. Directories are recreated and
// every other entry is copied byte for byte. A destination entry whose type
// differs from its source is replaced.
func CopyTree(ctx context.Context, fsys afero.Fs, src, dst string) error {
	if err := clearMismatch(fsys, dst, true); err != nil {
		return err
	}
	if err := fsys.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := afero.ReadDir(fsys, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		isDir := entry.IsDir()
		if entry.Mode()&os.ModeSymlink != 0 {
			target, err := fsys.Stat(from)
			if err != nil {
				continue // dangling link
			}
			isDir = target.IsDir()
		}
		if isDir {
			if err := CopyTree(ctx, fsys, from, to); err != nil {
				return err
			}
			continue
		}
		if err := clearMismatch(fsys, to, false); err != nil {
			return err
		}
		if err := CopyFile(fsys, from, to); err != nil {
			return err
		}
	}
	return nil
}

// clearParents removes staged non-directories sitting where a parent
// directory of clean has to be.
func (t *Tree) clearParents(clean string) error {
	parts := strings.Split(clean, "/")
	dir := t.output
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		if err := clearMismatch(t.fs, dir, true); err != nil {
			return err
		}
	}
	return nil
}

// clearMismatch removes dst when it exists and its directory-ness differs
// from wantDir.
func clearMismatch(fsys afero.Fs, dst string, wantDir bool) error {
	info, err := lstat(fsys, dst)
	if err != nil {
		if isAbsent(err) {
			return nil
		}
		return err
	}
	if info.IsDir() == wantDir {
		return nil
	}
	if err := fsys.RemoveAll(dst); err != nil && !isAbsent(err) {
		return err
	}
	return nil
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

// CopyFile copies the content of src over dst.
func CopyFile(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// CleanRelative normalizes a notification path to a clean forward-slash path
// relative to a root, rejecting absolute paths and parent escapes.
func CleanRelative(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.VolumeName(rel) != "" {
		return "", errors.NewFileSystemError(errors.CodePathOutside, "path must be relative to the source root", nil).WithPath(rel)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.NewFileSystemError(errors.CodePathOutside, "path escapes the source root", nil).WithPath(rel)
	}
	return clean, nil
}

// checkRoots refuses layouts where cleaning the output would destroy source
// files.
func (t *Tree) checkRoots() error {
	if t.output == "." || t.output == "" {
		return errors.NewConfigError(errors.CodeConfigInvalid, "output directory must not be the project root", nil)
	}
	if within(t.source, t.output) || within(t.output, t.source) {
		return errors.NewConfigError(errors.CodeConfigInvalid,
			fmt.Sprintf("output directory %s and source directory %s overlap", t.output, t.source), nil)
	}
	return nil
}

// within reports whether path is base or lies under it.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isAbsent(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) || stderrors.Is(err, syscall.ENOTDIR)
}
