// Package build runs the packaging pipeline: full staging rebuild, manifest
// synthesis and, for production builds, the archive.
package build

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/conneroisu/larrix/internal/archive"
	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/manifest"
	"github.com/conneroisu/larrix/internal/staging"
	"github.com/spf13/afero"
)

// Project is what a build reads and writes.
type Project struct {
	Descriptor *manifest.Descriptor
	Source     string
	Output     string
	// ArchivePath is the archive destination for production builds.
	ArchivePath string
}

// Options control a single build. They are passed to every call rather
// than stored, so one pipeline serves quiet dev builds and loud production
// builds alike.
type Options struct {
	// Archive writes the zip after staging.
	Archive bool
	// Reporter prints console progress; nil or quiet prints nothing.
	Reporter *logging.Reporter
	// Logger receives structured events; nil discards them.
	Logger logging.Logger
}

// Result describes a finished build.
type Result struct {
	Files        []staging.File
	ManifestSize int
	ArchivePath  string
	ArchiveSize  int64
	Duration     time.Duration
}

// Pipeline builds one project on a filesystem.
type Pipeline struct {
	fs      afero.Fs
	project Project
	metrics *Metrics
}

// NewPipeline creates a pipeline for project.
func NewPipeline(fs afero.Fs, project Project) *Pipeline {
	return &Pipeline{fs: fs, project: project, metrics: NewMetrics()}
}

// Project returns the project the pipeline builds.
func (p *Pipeline) Project() Project { return p.project }

// Metrics returns the pipeline's build counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Build stages the source tree, writes the manifest and optionally the
// archive. A missing descriptor fails before anything on disk changes.
func (p *Pipeline) Build(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	result, err := p.build(ctx, opts)
	p.metrics.Record(time.Since(start), err)
	if result != nil {
		result.Duration = time.Since(start)
	}
	return result, err
}

func (p *Pipeline) build(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("build")
	report := opts.Reporter
	if report == nil {
		report = logging.NewReporter(nil, true, false)
	}

	if p.project.Descriptor == nil {
		return nil, errors.NewConfigError(errors.CodeConfigMissing, "no project descriptor", nil)
	}

	out := p.project.Output
	display := filepath.ToSlash(filepath.Base(out))
	tree := staging.NewTree(p.fs, p.project.Source, out, logger)
	synth := manifest.NewSynthesizer(p.fs, logger)

	report.NewLine()
	report.Step("build", "Cleaning "+display+"...")
	report.Step("build", "Copying source files...")
	if err := tree.Rebuild(ctx); err != nil {
		return nil, err
	}

	files, err := staging.Enumerate(p.fs, out)
	if err != nil {
		return nil, errors.NewFileSystemError(errors.CodeStageFailed, "listing staged files", err).WithPath(out)
	}
	report.NewLine()
	for _, f := range files {
		report.File(path.Join(display, f.Path), f.Size)
	}

	report.NewLine()
	report.Step("build", "Generating "+manifest.FileName+"...")
	size, err := synth.Write(ctx, p.project.Descriptor, p.project.Source, out)
	if err != nil {
		return nil, err
	}
	report.NewLine()
	report.File(path.Join(display, manifest.FileName), int64(size))

	result := &Result{Files: files, ManifestSize: size}

	if opts.Archive {
		report.NewLine()
		report.Step("build", "Creating zip...")
		dest := p.project.ArchivePath
		n, err := archive.NewEncoder(p.fs, logger).Create(ctx, out, dest)
		if err != nil {
			return nil, err
		}
		result.ArchivePath = dest
		result.ArchiveSize = n
		report.NewLine()
		report.File(filepath.ToSlash(filepath.Base(dest)), n)
	}

	report.NewLine()
	report.Success("Build completed successfully")
	report.NewLine()

	logger.Info(ctx, "Build completed",
		"files", len(files), "manifest_bytes", size, "archive", result.ArchivePath)
	return result, nil
}
