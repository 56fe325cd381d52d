// Package config loads the project configuration through Viper: the project
// descriptor (name, version, manifest overrides) together with the paths,
// dev server and logging settings used by the commands.
//
// The configuration file is larrix.yml in the working directory unless
// --config or LARRIX_CONFIG_FILE names another one. Every value can be
// overridden with a LARRIX_<SECTION>_<OPTION> environment variable.
package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/manifest"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration file name, without extension.
const (
	DefaultName = "larrix"
	DefaultFile = DefaultName + ".yml"
	EnvPrefix   = "LARRIX"
	EnvFile     = EnvPrefix + "_CONFIG_FILE"
)

type Config struct {
	Project ProjectConfig `mapstructure:"project" yaml:"project"`
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// File is the configuration file the values were read from.
	File string `mapstructure:"-" yaml:"-"`

	descriptor *manifest.Descriptor
}

type ProjectConfig struct {
	Name     string      `mapstructure:"name" yaml:"name"`
	Version  string      `mapstructure:"version" yaml:"version"`
	Manifest interface{} `mapstructure:"manifest" yaml:"manifest,omitempty"`
}

type PathsConfig struct {
	Source     string `mapstructure:"source" yaml:"source"`
	Output     string `mapstructure:"output" yaml:"output"`
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Setup points v at the configuration file and enables environment
// overrides. An explicit file wins over LARRIX_CONFIG_FILE, which wins over
// larrix.yml in the current directory.
func Setup(v *viper.Viper, file string) {
	switch {
	case file != "":
		v.SetConfigFile(file)
	case os.Getenv(EnvFile) != "":
		v.SetConfigFile(os.Getenv(EnvFile))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)
}

// SetDefaults registers the default value of every option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.source", "src")
	v.SetDefault("paths.output", "dist")
	v.SetDefault("paths.archive_dir", ".")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	// AutomaticEnv only answers for keys viper already knows about.
	v.SetDefault("project.name", "")
	v.SetDefault("project.version", "")
}

// Load reads the configuration file through v and returns the validated
// configuration. It fails with a config error when no file is found or the
// project section is invalid; nothing on disk is touched.
func Load(fsys afero.Fs, v *viper.Viper) (*Config, error) {
	v.SetFs(fsys)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewConfigError(errors.CodeConfigMissing,
				"no "+DefaultFile+" found; run `larrix init` to create a project", err)
		}
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "reading configuration", err).
			WithPath(v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "decoding configuration", err).
			WithPath(v.ConfigFileUsed())
	}
	cfg.File = v.ConfigFileUsed()

	if err := ValidateProject(cfg.Project); err != nil {
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "invalid project descriptor", err).
			WithPath(cfg.File)
	}
	if err := validate(&cfg); err != nil {
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "invalid configuration", err).
			WithPath(cfg.File)
	}

	overrides, err := loadOverrides(fsys, &cfg)
	if err != nil {
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "reading manifest overrides", err).
			WithPath(cfg.File)
	}
	cfg.descriptor = &manifest.Descriptor{
		Name:      cfg.Project.Name,
		Version:   cfg.Project.Version,
		Overrides: overrides,
	}

	return &cfg, nil
}

// Descriptor returns the project descriptor handed to the manifest
// synthesizer.
func (c *Config) Descriptor() *manifest.Descriptor {
	if c.descriptor == nil {
		var overrides *manifest.Object
		if m, ok := c.Project.Manifest.(map[string]interface{}); ok {
			overrides = manifest.FromMap(m)
		}
		c.descriptor = &manifest.Descriptor{
			Name:      c.Project.Name,
			Version:   c.Project.Version,
			Overrides: overrides,
		}
	}
	return c.descriptor
}

// ArchiveName is the file name of the production archive.
func (c *Config) ArchiveName() string {
	return fmt.Sprintf("%s-%s.zip", c.Project.Name, c.Project.Version)
}

// ArchivePath is where the production archive is written.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Paths.ArchiveDir, c.ArchiveName())
}

// Address is the dev server listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// loadOverrides returns the manifest overrides in the order they appear in a
// YAML configuration file. Other formats lose key order in viper, so their
// keys are sorted instead.
func loadOverrides(fsys afero.Fs, cfg *Config) (*manifest.Object, error) {
	if cfg.Project.Manifest == nil {
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(cfg.File))
	if ext != ".yml" && ext != ".yaml" {
		m, _ := cfg.Project.Manifest.(map[string]interface{})
		return manifest.FromMap(m), nil
	}

	data, err := afero.ReadFile(fsys, cfg.File)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, err
	}

	node := lookup(&doc, "project", "manifest")
	if node == nil {
		// Set through the environment rather than the file.
		m, _ := cfg.Project.Manifest.(map[string]interface{})
		return manifest.FromMap(m), nil
	}
	value, err := manifest.FromYAML(node)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(*manifest.Object)
	if !ok {
		return nil, fmt.Errorf("project.manifest must be a mapping")
	}
	return obj, nil
}

// lookup walks a chain of mapping keys from the document root.
func lookup(node *yaml.Node, keys ...string) *yaml.Node {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	for _, key := range keys {
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}
