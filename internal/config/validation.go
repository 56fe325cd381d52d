package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/larrix/internal/logging"
)

// validate checks the non-project sections for correctness.
func validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validatePaths(&cfg.Paths); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	// 0 lets the system pick a port.
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", s.Port)
	}
	if s.Host == "" {
		return fmt.Errorf("host is empty")
	}
	for _, char := range []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/", " "} {
		if strings.Contains(s.Host, char) {
			return fmt.Errorf("host contains invalid character: %q", char)
		}
	}
	return nil
}

func validatePaths(p *PathsConfig) error {
	fields := []struct{ name, value string }{
		{"source", p.Source},
		{"output", p.Output},
		{"archive_dir", p.ArchiveDir},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s is empty", f.name)
		}
	}

	if filepath.Clean(p.Output) == "." {
		return fmt.Errorf("output cannot be the project root")
	}
	if filepath.Clean(p.Source) == filepath.Clean(p.Output) {
		return fmt.Errorf("source and output are the same directory: %s", p.Source)
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	if _, err := logging.ParseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", l.Format)
	}
}
