// Package scaffold creates the directory layout and starter files of a new
// extension project.
package scaffold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"path/filepath"
	"strings"

	"github.com/conneroisu/larrix/internal/config"
	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/spf13/afero"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultVersion is the version a new project starts at.
const DefaultVersion = "1.0.0"

var directories = []string{
	"src/background",
	"src/content",
	"src/popup",
	"src/icons",
}

// File is one generated file, relative to the project root.
type File struct {
	Path    string
	Content []byte
}

// Options describe the project to create.
type Options struct {
	Name string
	// Dir is the parent directory; the project is created in Dir/Name.
	Dir string
	// Force overwrites files that already exist.
	Force    bool
	Reporter *logging.Reporter
}

// Generator writes projects to a filesystem.
type Generator struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewGenerator creates a generator writing to fs.
func NewGenerator(fs afero.Fs, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Generator{fs: fs, logger: logger.WithComponent("scaffold")}
}

// ValidateName rejects names that cannot be a directory under Dir.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("project name is required")
	case name == "." || name == "..":
		return fmt.Errorf("invalid project name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("project name %q must not contain path separators", name)
	}
	return nil
}

// DisplayName turns a project name such as "my-ext" into "My Ext".
func DisplayName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	if len(words) == 0 {
		return name
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func popupPage(name string) []byte {
	title := html.EscapeString(DisplayName(name))
	return []byte(fmt.Sprintf(popupHTML, title, title))
}

// Files returns the starter files for a project called name.
func Files(name string) ([]File, error) {
	cfg, err := configFile(name)
	if err != nil {
		return nil, err
	}
	pkg, err := packageJSON(name)
	if err != nil {
		return nil, err
	}
	return []File{
		{Path: ".gitignore", Content: []byte(gitignore)},
		{Path: "package.json", Content: pkg},
		{Path: config.DefaultFile, Content: cfg},
		{Path: "src/background/index.js", Content: []byte(backgroundIndex)},
		{Path: "src/content/index.js", Content: []byte(contentIndex)},
		{Path: "src/popup/index.html", Content: popupPage(name)},
		{Path: "src/popup/style.css", Content: []byte(popupCSS)},
		{Path: "src/popup/main.js", Content: []byte(popupMain)},
	}, nil
}

// Init creates the project and returns its root. Without Force it refuses
// to start if any generated file already exists, so nothing is half
// written.
func (g *Generator) Init(ctx context.Context, opts Options) (string, error) {
	if err := ValidateName(opts.Name); err != nil {
		return "", errors.NewConfigError(errors.CodeConfigInvalid, err.Error(), nil)
	}
	report := opts.Reporter
	if report == nil {
		report = logging.NewReporter(nil, true, false)
	}
	root := filepath.Join(opts.Dir, opts.Name)

	files, err := Files(opts.Name)
	if err != nil {
		return "", errors.NewInternalError(errors.CodeConfigInvalid, "rendering project files", err)
	}

	if !opts.Force {
		for _, f := range files {
			target := filepath.Join(root, filepath.FromSlash(f.Path))
			exists, err := afero.Exists(g.fs, target)
			if err != nil {
				return "", errors.NewFileSystemError(errors.CodeStageFailed, "checking existing files", err).WithPath(target)
			}
			if exists {
				return "", errors.NewFileSystemError(errors.CodeStageFailed,
					"file already exists (use --force to overwrite)", nil).WithPath(target)
			}
		}
	}

	report.NewLine()
	report.Step("init", "Initializing Larrix framework")
	report.Step("init", "Creating project "+opts.Name)
	report.NewLine()

	for _, dir := range directories {
		if err := g.fs.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
			return "", errors.NewFileSystemError(errors.CodeStageFailed, "creating directory", err).WithPath(dir)
		}
	}
	for _, f := range files {
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := afero.WriteFile(g.fs, target, f.Content, 0o644); err != nil {
			return "", errors.NewFileSystemError(errors.CodeStageFailed, "writing file", err).WithPath(target)
		}
		report.File(f.Path, int64(len(f.Content)))
	}

	report.NewLine()
	report.Success("Project " + opts.Name + " created successfully")
	report.NewLine()

	g.logger.Info(ctx, "Project created", "name", opts.Name, "root", root, "files", len(files))
	return root, nil
}

func configFile(name string) ([]byte, error) {
	cfg := config.Config{
		Project: config.ProjectConfig{
			Name:    name,
			Version: DefaultVersion,
			Manifest: map[string]interface{}{
				"permissions": []string{},
			},
		},
		Paths:   config.PathsConfig{Source: "src", Output: "dist", ArchiveDir: "."},
		Server:  config.ServerConfig{Host: "localhost", Port: 3000},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type packageManifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Private     bool              `json:"private"`
	Scripts     map[string]string `json:"scripts"`
}

func packageJSON(name string) ([]byte, error) {
	data, err := json.MarshalIndent(packageManifest{
		Name:        name,
		Version:     DefaultVersion,
		Description: DisplayName(name) + ", a browser extension built with Larrix",
		Private:     true,
		Scripts: map[string]string{
			"build": "larrix build",
			"dev":   "larrix dev",
		},
	}, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
