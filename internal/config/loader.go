package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "WAVEKEEPER_"

	// ProjectDirEnv names the project root set by the assistant runtime.
	ProjectDirEnv = "CLAUDE_PROJECT_DIR"

	// DefaultConfigFile is looked up in the project directory when no
	// explicit path is given.
	DefaultConfigFile = ".claude/wavekeeper.yaml"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"taskgraph.exempt_agents": true,
	"hooks.validated_tools":   true,
}

// Options control Load.
type Options struct {
	// ProjectDir overrides CLAUDE_PROJECT_DIR and the working directory.
	ProjectDir string
	// File is an explicit config path. It must exist.
	File string
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (WAVEKEEPER_RETRY_MAX_ATTEMPTS, WAVEKEEPER_EXECLOG_DIR, ...)
//  2. Config file (--config, or <project>/.claude/wavekeeper.yaml when present)
//  3. Built-in defaults
//
// Files ending in .toml are parsed as TOML, everything else as YAML. Files
// larger than 1MB are rejected.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	WAVEKEEPER_RETRY_MAX_ATTEMPTS -> retry.max_attempts
//	WAVEKEEPER_HOOKS_VALIDATED_TOOLS=Task,Agent -> hooks.validated_tools
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	projectDir, err := resolveProjectDir(opts.ProjectDir)
	if err != nil {
		return nil, err
	}

	path, required := opts.File, true
	if path == "" {
		path, required = filepath.Join(projectDir, DefaultConfigFile), false
	}
	if err := loadFile(k, path, required); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ProjectDir = projectDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolveProjectDir picks the explicit dir, then CLAUDE_PROJECT_DIR, then
// the working directory.
func resolveProjectDir(dir string) (string, error) {
	if dir == "" {
		dir = os.Getenv(ProjectDirEnv)
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project dir: %w", err)
	}
	return abs, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the already-opened descriptor.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var parser koanf.Parser = yaml.Parser()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parser = TOMLParser()
	}
	if err := k.Load(rawbytes.Provider(content), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// transformEnv maps WAVEKEEPER_SECTION_FIELD_NAME to section.field_name.
// Keys without a field part are ignored.
func transformEnv(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil
	}

	path := parts[0] + "." + parts[1]
	if listKeys[path] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return path, items
	}
	return path, value
}
