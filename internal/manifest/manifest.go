// Package manifest synthesizes the extension manifest.json from the project
// descriptor and the sentinel entry points present in the source tree.
//
// The manifest is recomputed from scratch on every call; nothing is patched.
// Key order is fixed: manifest_version, name, version, the override keys in
// their configured order, then background, content_scripts and action when
// their sentinel files exist.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"reflect"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/spf13/afero"
)

// FileName is the manifest file written at the top of the staging tree.
const FileName = "manifest.json"

// ManifestVersion is the only manifest format produced.
const ManifestVersion = 3

// Sentinel entry points, relative to the source root.
const (
	BackgroundEntry = "background/index.js"
	ContentEntry    = "content/index.js"
	PopupPage       = "popup/index.html"
)

// Keys set from the descriptor itself.
var baseKeys = []string{"manifest_version", "name", "version"}

// Descriptor is the typed project description supplied by configuration.
type Descriptor struct {
	Name      string
	Version   string
	Overrides *Object
}

// Sentinels records which optional entry points exist in the source tree.
type Sentinels struct {
	Background bool
	Content    bool
	Popup      bool
}

// Conflict describes an override key that was dropped because the
// synthesizer owns it.
type Conflict struct {
	Key      string
	Override interface{}
	Reason   string
}

// Build assembles a manifest from d and s. It is pure: the same inputs
// always give an equal Object. Override keys that collide with base or
// sentinel-derived keys are dropped and returned as conflicts.
func Build(d *Descriptor, s Sentinels) (*Object, []Conflict) {
	m := NewObject()
	m.Set("manifest_version", ManifestVersion)
	m.Set("name", d.Name)
	m.Set("version", d.Version)

	var conflicts []Conflict
	owned := map[string]bool{
		"background":      s.Background,
		"content_scripts": s.Content,
		"action":          s.Popup,
	}

	for _, key := range d.Overrides.Keys() {
		value, _ := d.Overrides.Get(key)
		if isBaseKey(key) {
			current, _ := m.Get(key)
			if !sameValue(current, value) {
				conflicts = append(conflicts, Conflict{Key: key, Override: value, Reason: "set from the project descriptor"})
			}
			continue
		}
		if owned[key] {
			conflicts = append(conflicts, Conflict{Key: key, Override: value, Reason: "derived from a sentinel file"})
			continue
		}
		m.Set(key, value)
	}

	if s.Background {
		bg := NewObject()
		bg.Set("service_worker", BackgroundEntry)
		m.Set("background", bg)
	}

	if s.Content {
		script := NewObject()
		script.Set("matches", []interface{}{"<all_urls>"})
		script.Set("js", []interface{}{ContentEntry})
		m.Set("content_scripts", []interface{}{script})
	}

	if s.Popup {
		action := NewObject()
		action.Set("default_popup", PopupPage)
		m.Set("action", action)
	}

	return m, conflicts
}

// Marshal serializes a manifest as UTF-8 JSON with four-space indentation.
func Marshal(m *Object) ([]byte, error) {
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Synthesizer reads sentinel presence from a filesystem and writes the
// manifest into a staging tree.
type Synthesizer struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewSynthesizer creates a synthesizer backed by fs.
func NewSynthesizer(fs afero.Fs, logger logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Synthesizer{fs: fs, logger: logger.WithComponent("manifest")}
}

// DetectSentinels checks which sentinel files exist under sourceRoot. A path
// that cannot be stat'ed counts as absent.
func (s *Synthesizer) DetectSentinels(sourceRoot string) Sentinels {
	var out Sentinels
	checks := []struct {
		rel  string
		flag *bool
	}{
		{BackgroundEntry, &out.Background},
		{ContentEntry, &out.Content},
		{PopupPage, &out.Popup},
	}
	for _, c := range checks {
		*c.flag = s.isFile(filepath.Join(sourceRoot, filepath.FromSlash(c.rel)))
	}
	return out
}

// Synthesize computes the manifest for d against the current state of
// sourceRoot.
func (s *Synthesizer) Synthesize(ctx context.Context, d *Descriptor, sourceRoot string) (*Object, error) {
	if d == nil {
		return nil, errors.NewConfigError(errors.CodeConfigMissing, "project descriptor is missing", nil)
	}
	m, conflicts := Build(d, s.DetectSentinels(sourceRoot))
	for _, c := range conflicts {
		s.logger.Warn(ctx, nil, "Ignoring manifest override", "key", c.Key, "reason", c.Reason)
	}
	return m, nil
}

// Write synthesizes the manifest and overwrites stagingRoot/manifest.json.
// It returns the number of bytes written.
func (s *Synthesizer) Write(ctx context.Context, d *Descriptor, sourceRoot, stagingRoot string) (int, error) {
	m, err := s.Synthesize(ctx, d, sourceRoot)
	if err != nil {
		return 0, err
	}
	data, err := Marshal(m)
	if err != nil {
		return 0, errors.NewInternalError(errors.CodeManifestWrite, "encoding manifest", err)
	}
	target := filepath.Join(stagingRoot, FileName)
	if err := afero.WriteFile(s.fs, target, data, 0o644); err != nil {
		return 0, errors.NewFileSystemError(errors.CodeManifestWrite, "writing manifest", err).WithPath(path.Join(filepath.ToSlash(stagingRoot), FileName))
	}
	s.logger.Debug(ctx, "Manifest written", "path", target, "bytes", len(data))
	return len(data), nil
}

func (s *Synthesizer) isFile(p string) bool {
	info, err := s.fs.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func isBaseKey(key string) bool {
	for _, k := range baseKeys {
		if k == key {
			return true
		}
	}
	return false
}

// sameValue compares an override against a base value. Numbers compare by
// value whatever their Go type, so `manifest_version: 3` from YAML (int) or
// JSON (json.Number) matches; a string "3" does not.
func sameValue(a, b interface{}) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func number(v interface{}) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
