package dev

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conneroisu/larrix/internal/build"
	"github.com/conneroisu/larrix/internal/livereload"
	"github.com/conneroisu/larrix/internal/manifest"
	"github.com/conneroisu/larrix/internal/staging"
	"github.com/conneroisu/larrix/internal/watcher"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fs       afero.Fs
	session  *Session
	hub      *livereload.Hub
	injector *livereload.Injector
}

func write(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func read(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

func newFixture(t *testing.T, injectorFs func(afero.Fs) afero.Fs) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	write(t, fs, "src/background/index.js", "console.log('v1');\n")
	write(t, fs, "src/popup/index.html", "<p>popup</p>")

	pipeline := build.NewPipeline(fs, build.Project{
		Descriptor: &manifest.Descriptor{Name: "demo", Version: "0.1.0"},
		Source:     "src",
		Output:     "dist",
	})

	target := fs
	if injectorFs != nil {
		target = injectorFs(fs)
	}
	injector, err := livereload.NewInjector(target, livereload.EventsURL("localhost", 3000), nil)
	require.NoError(t, err)

	hub := livereload.NewHub(nil)
	return &fixture{
		fs:       fs,
		session:  NewSession(fs, pipeline, injector, hub, nil),
		hub:      hub,
		injector: injector,
	}
}

func (f *fixture) bootstrapped(content string) string {
	return string(f.injector.Script()) + "\n" + content
}

func pending(c *livereload.Client) int {
	n := 0
	for {
		select {
		case <-c.Messages():
			n++
		default:
			return n
		}
	}
}

func TestInitialBuildInjectsBootstrap(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(context.Background(), build.Options{}))

	assert.Equal(t, f.bootstrapped("console.log('v1');\n"), read(t, f.fs, "dist/background/index.js"))
	assert.Contains(t, read(t, f.fs, "dist/manifest.json"), `"service_worker": "background/index.js"`)

	exists, err := afero.Exists(f.fs, "demo-0.1.0.zip")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcileBackgroundChangeReinjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))

	write(t, f.fs, "src/background/index.js", "console.log('v2');\n")
	cycle, err := f.session.Reconcile(ctx, "background/index.js")
	require.NoError(t, err)

	assert.Equal(t, staging.KindChanged, cycle.Kind)
	assert.True(t, cycle.Injected)
	assert.Equal(t, f.bootstrapped("console.log('v2');\n"), read(t, f.fs, "dist/background/index.js"))

	// A sibling change must not stack a second bootstrap.
	write(t, f.fs, "src/background/util.js", "export {};\n")
	cycle, err = f.session.Reconcile(ctx, "background/util.js")
	require.NoError(t, err)
	assert.False(t, cycle.Injected)
	assert.Equal(t, f.bootstrapped("console.log('v2');\n"), read(t, f.fs, "dist/background/index.js"))
}

func TestReconcileDeleteAndRecreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))

	require.NoError(t, f.fs.Remove("src/popup/index.html"))
	cycle, err := f.session.Reconcile(ctx, "popup/index.html")
	require.NoError(t, err)
	assert.Equal(t, staging.KindDeleted, cycle.Kind)

	exists, err := afero.Exists(f.fs, "dist/popup/index.html")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NotContains(t, read(t, f.fs, "dist/manifest.json"), "default_popup")

	// Duplicate notification for the same deletion.
	_, err = f.session.Reconcile(ctx, "popup/index.html")
	require.NoError(t, err)

	write(t, f.fs, "src/popup/index.html", "<p>back</p>")
	cycle, err = f.session.Reconcile(ctx, "popup/index.html")
	require.NoError(t, err)
	assert.Equal(t, staging.KindChanged, cycle.Kind)
	assert.Equal(t, "<p>back</p>", read(t, f.fs, "dist/popup/index.html"))
	assert.Contains(t, read(t, f.fs, "dist/manifest.json"), `"default_popup": "popup/index.html"`)
}

func TestReconcileNotifiesEveryClientOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))

	clients := make([]*livereload.Client, 4)
	for i := range clients {
		c, err := f.hub.Register(livereload.TransportSSE)
		require.NoError(t, err)
		clients[i] = c
	}
	gone := clients[3]
	f.hub.Unregister(gone)

	write(t, f.fs, "src/popup/index.html", "<p>v2</p>")
	cycle, err := f.session.Reconcile(ctx, "popup/index.html")
	require.NoError(t, err)
	assert.Equal(t, 3, cycle.Clients)

	for _, c := range clients[:3] {
		assert.Equal(t, 1, pending(c))
	}
	assert.Equal(t, 0, pending(gone))
	assert.False(t, f.hub.Has(gone.ID))
}

func TestReconcileInjectionFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(fs afero.Fs) afero.Fs { return afero.NewReadOnlyFs(fs) })
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))

	client, err := f.hub.Register(livereload.TransportSSE)
	require.NoError(t, err)

	write(t, f.fs, "src/background/index.js", "console.log('v3');\n")
	cycle, err := f.session.Reconcile(ctx, "background/index.js")
	require.NoError(t, err)

	assert.False(t, cycle.Injected)
	assert.Equal(t, "console.log('v3');\n", read(t, f.fs, "dist/background/index.js"))
	assert.Equal(t, 1, pending(client))
}

func TestReconcileFailureSkipsBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))

	client, err := f.hub.Register(livereload.TransportSSE)
	require.NoError(t, err)

	_, err = f.session.Reconcile(ctx, "../outside.js")
	require.Error(t, err)
	assert.Equal(t, 0, pending(client))

	snap := f.session.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
}

func TestRunProcessesEventsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.session.InitialBuild(ctx, build.Options{}))
	client, err := f.hub.Register(livereload.TransportWebSocket)
	require.NoError(t, err)

	events := make(chan watcher.Notification, 4)
	write(t, f.fs, "src/content/index.js", "// content")
	events <- watcher.Notification{Path: "content/index.js"}
	events <- watcher.Notification{Path: "../bad"}
	events <- watcher.Notification{Path: "content/index.js"}
	close(events)

	f.session.Run(ctx, events)

	assert.Equal(t, "// content", read(t, f.fs, "dist/content/index.js"))
	assert.True(t, strings.Contains(read(t, f.fs, "dist/manifest.json"), `"<all_urls>"`))
	assert.Equal(t, 2, pending(client))

	snap := f.session.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.session.Run(ctx, make(chan watcher.Notification))
		close(done)
	}()
	<-done
}

func TestUnderBackground(t *testing.T) {
	assert.True(t, UnderBackground("background"))
	assert.True(t, UnderBackground("background/index.js"))
	assert.True(t, UnderBackground("background/lib/a.js"))
	assert.False(t, UnderBackground("backgrounds/index.js"))
	assert.False(t, UnderBackground("popup/background.js"))
}
