// Package dev ties the development loop together: each source notification
// is reconciled into the staging tree, the manifest is regenerated, the
// live-reload bootstrap is restored when the background script changed, and
// connected clients are told to reload.
package dev

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/conneroisu/larrix/internal/build"
	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/livereload"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/manifest"
	"github.com/conneroisu/larrix/internal/staging"
	"github.com/conneroisu/larrix/internal/watcher"
	"github.com/spf13/afero"
)

// backgroundDir is the source area whose changes overwrite the injected
// bootstrap.
var backgroundDir = path.Dir(manifest.BackgroundEntry)

// Cycle reports what one reconcile did.
type Cycle struct {
	Path     string
	Kind     staging.Kind
	Injected bool
	Clients  int
}

// Session reconciles changes for one project.
type Session struct {
	pipeline *build.Pipeline
	tree     *staging.Tree
	synth    *manifest.Synthesizer
	injector *livereload.Injector
	hub      *livereload.Hub
	logger   logging.Logger
	metrics  *build.Metrics
}

// NewSession creates a session over the pipeline's project.
func NewSession(fs afero.Fs, pipeline *build.Pipeline, injector *livereload.Injector, hub *livereload.Hub, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("dev")
	project := pipeline.Project()
	return &Session{
		pipeline: pipeline,
		tree:     staging.NewTree(fs, project.Source, project.Output, logger),
		synth:    manifest.NewSynthesizer(fs, logger),
		injector: injector,
		hub:      hub,
		logger:   logger,
		metrics:  build.NewMetrics(),
	}
}

// Metrics returns the reconcile counters.
func (s *Session) Metrics() *build.Metrics { return s.metrics }

// InitialBuild stages the project without an archive and injects the
// bootstrap. Output goes to opts.Reporter, which dev mode keeps quiet.
func (s *Session) InitialBuild(ctx context.Context, opts build.Options) error {
	opts.Archive = false
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	if _, err := s.pipeline.Build(ctx, opts); err != nil {
		return err
	}
	if _, err := s.injector.Inject(ctx, s.tree.Output()); err != nil {
		s.logger.Warn(ctx, err, "Live reload disabled for the background script")
	}
	return nil
}

// Reconcile handles one notification for rel, a path relative to the source
// root. A staging or manifest failure aborts the cycle before any client is
// notified. A failed re-injection is logged and the cycle carries on.
func (s *Session) Reconcile(ctx context.Context, rel string) (Cycle, error) {
	start := time.Now()
	cycle, err := s.reconcile(ctx, rel)
	s.metrics.Record(time.Since(start), err)
	return cycle, err
}

func (s *Session) reconcile(ctx context.Context, rel string) (Cycle, error) {
	cycle := Cycle{Path: rel}

	kind, err := s.tree.Sync(ctx, rel)
	if err != nil {
		return cycle, err
	}
	cycle.Kind = kind
	s.logger.Info(ctx, "File "+kind.String(), "path", rel)

	if _, err := s.synth.Write(ctx, s.pipeline.Project().Descriptor, s.tree.Source(), s.tree.Output()); err != nil {
		return cycle, err
	}

	if UnderBackground(rel) {
		injected, err := s.injector.Inject(ctx, s.tree.Output())
		if err != nil {
			s.logger.Warn(ctx, err, "Live reload disabled for the background script")
		}
		cycle.Injected = injected
	}

	cycle.Clients = s.hub.Broadcast(livereload.ReloadMessage())
	s.logger.Info(ctx, "Reload sent", "path", rel, "clients", cycle.Clients)
	return cycle, nil
}

// Run reconciles notifications in arrival order until events is closed or
// ctx is done. Failed cycles are logged once and the loop keeps going.
func (s *Session) Run(ctx context.Context, events <-chan watcher.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			if _, err := s.Reconcile(ctx, n.Path); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error(ctx, err, "Reconcile failed", "path", n.Path, "kind", errors.TypeOf(err))
			}
		}
	}
}

// UnderBackground reports whether rel is the background area or inside it.
func UnderBackground(rel string) bool {
	return rel == backgroundDir || strings.HasPrefix(rel, backgroundDir+"/")
}
