// Package config loads the realm-rpc configuration file.
//
// The file is line oriented: each line is `option value`, `#` starts a
// comment and `[name]` opens a section. Options outside any section are
// global. Unknown options and values of the wrong type are reported as
// warnings, never as errors.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// Config holds the raw option values read from a config file.
type Config struct {
	// Global options, from lines before the first section header.
	Global map[string]string
	// Sections holds the options of each [section], keyed by section name.
	Sections map[string]map[string]string
	// Warnings lists the problems found while loading, in file order of
	// discovery.
	Warnings []string
}

// NewConfig returns a Config with no options.
func NewConfig() *Config {
	return &Config{
		Global:   map[string]string{},
		Sections: map[string]map[string]string{},
	}
}

// Load reads the config file at GetConfigPath and returns it with the path
// it was read from.
func Load() (*Config, string, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, "", fmt.Errorf("locate config: %w", err)
	}
	c, err := LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// LoadFromPath reads the config file at path. A missing file is not an
// error and yields an empty Config.
//
// The final path component must not be a symlink.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewConfig(), nil
	case err != nil:
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	case fi.Mode()&fs.ModeSymlink != 0:
		return nil, fmt.Errorf("config %s is a symlink", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses a config file from r and validates it against
// DefaultSchema.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := NewConfig()
	opts := c.Global
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "", line[0] == '#':
			continue
		case line[0] == '[' && line[len(line)-1] == ']':
			opts = c.section(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		opts[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	for _, issue := range ValidateConfig(c, DefaultSchema()) {
		c.warn(issue)
	}
	return c, nil
}

// section returns the option map of name, creating it. The empty name is
// the global section.
func (c *Config) section(name string) map[string]string {
	if name == "" {
		return c.Global
	}
	m, ok := c.Sections[name]
	if !ok {
		m = map[string]string{}
		c.Sections[name] = m
	}
	return m
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

// parseBool accepts true/false, 1/0, yes/no and on/off, ignoring case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// GetGlobalOption returns a global option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	return c.GetSectionOption("", name)
}

// GetSectionOption returns an option from the named section; "" names the
// global options.
func (c *Config) GetSectionOption(section, name string) (string, bool) {
	opts := c.Global
	if section != "" {
		opts = c.Sections[section]
	}
	v, ok := opts[name]
	return v, ok
}

// SetGlobalOption sets a global option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// SetSectionOption sets an option in the named section.
func (c *Config) SetSectionOption(section, name, value string) {
	c.section(section)[name] = value
}

// HasWarnings reports whether loading produced any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}
