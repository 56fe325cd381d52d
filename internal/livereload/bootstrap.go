package livereload

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"text/template"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/manifest"
	"github.com/spf13/afero"
)

// RetryDelay is how long the bootstrap waits before reconnecting.
const RetryDelay = 1000

//go:embed bootstrap.js.tmpl
var bootstrapSource string

var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(bootstrapSource))

// EventsURL is the event stream address the bootstrap connects to.
func EventsURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/events", host, port)
}

// Bootstrap renders the live-reload client for eventsURL.
func Bootstrap(eventsURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := bootstrapTemplate.Execute(&buf, struct {
		EventsURL   string
		Event       string
		RetryMillis int
	}{eventsURL, ReloadEvent, RetryDelay})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Injector prepends the bootstrap to the staged background entry.
type Injector struct {
	fs     afero.Fs
	script []byte
	logger logging.Logger
}

// NewInjector renders the bootstrap for eventsURL.
func NewInjector(fsys afero.Fs, eventsURL string, logger logging.Logger) (*Injector, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	script, err := Bootstrap(eventsURL)
	if err != nil {
		return nil, errors.NewInjectionError("rendering live reload client", err)
	}
	return &Injector{fs: fsys, script: script, logger: logger.WithComponent("inject")}, nil
}

// Script returns the rendered bootstrap.
func (i *Injector) Script() []byte { return i.script }

// Inject writes the bootstrap, a newline and the original content back to
// the background entry under stagingRoot. It reports false without error
// when there is no background entry or it already starts with the
// bootstrap. Failures are injection errors.
func (i *Injector) Inject(ctx context.Context, stagingRoot string) (bool, error) {
	target := filepath.Join(stagingRoot, filepath.FromSlash(manifest.BackgroundEntry))

	content, err := afero.ReadFile(i.fs, target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewInjectionError("reading background entry", err).WithPath(target)
	}

	prefix := append(append([]byte{}, i.script...), '\n')
	if bytes.HasPrefix(content, prefix) {
		return false, nil
	}

	out := make([]byte, 0, len(prefix)+len(content))
	out = append(out, prefix...)
	out = append(out, content...)
	if err := afero.WriteFile(i.fs, target, out, 0o644); err != nil {
		return false, errors.NewInjectionError("writing background entry", err).WithPath(target)
	}

	i.logger.Debug(ctx, "Injected live reload client", "path", target)
	return true, nil
}
