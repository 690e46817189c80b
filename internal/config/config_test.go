package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
listen 0.0.0.0:9000
mode poll

[app]
# comment inside a section
base-url http://localhost:9090`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if value, ok := config.GetGlobalOption("listen"); !ok || value != "0.0.0.0:9000" {
		t.Errorf("Expected listen=0.0.0.0:9000, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetGlobalOption("mode"); !ok || value != "poll" {
		t.Errorf("Expected mode=poll, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("app", "base-url"); !ok || value != "http://localhost:9090" {
		t.Errorf("Expected app.base-url=http://localhost:9090, got %s (exists: %v)", value, ok)
	}
	if _, ok := config.GetSectionOption("app", "listen"); ok {
		t.Error("Expected section lookups not to fall back to global options")
	}
	if config.HasWarnings() {
		t.Errorf("Expected no warnings, got %v", config.Warnings)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if len(config.Global) != 0 || len(config.Sections) != 0 {
		t.Errorf("Expected empty config, got %+v", config)
	}
}

func TestOptionWithoutValue(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("health\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	value, ok := config.GetGlobalOption("health")
	if !ok || value != "" {
		t.Errorf("Expected health to be present and empty, got %q (exists: %v)", value, ok)
	}
	// "" is not a bool
	if !config.HasWarnings() {
		t.Error("Expected a type warning for an empty bool")
	}
}

func TestValueKeepsInnerSpaces(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("listen   a b c  \n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if value, _ := config.GetGlobalOption("listen"); value != "a b c" {
		t.Errorf("Expected %q, got %q", "a b c", value)
	}
}

func TestConfigWarnings(t *testing.T) {
	configContent := `bogus 1
mode fast
http-timeout soon

[app]
base-url http://x
colour red

[nope]
a b`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	want := []string{
		`global option "http-timeout": expected duration, got "soon"`,
		`global option "mode": expected one of loop, poll, got "fast"`,
		`unknown global option: "bogus" (value: "1")`,
		`unknown option in [app]: "colour" (value: "red")`,
		`unknown section: [nope]`,
	}
	if len(config.Warnings) != len(want) {
		t.Fatalf("Expected %d warnings, got %d: %v", len(want), len(config.Warnings), config.Warnings)
	}
	for i := range want {
		if config.Warnings[i] != want[i] {
			t.Errorf("warning %d: expected %q, got %q", i, want[i], config.Warnings[i])
		}
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		config, err := LoadFromPath(filepath.Join(dir, "missing"))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(config.Global) != 0 {
			t.Errorf("Expected empty config, got %v", config.Global)
		}
	})

	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte("mode poll\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("regular file", func(t *testing.T) {
		config, err := LoadFromPath(path)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if v, _ := config.GetGlobalOption("mode"); v != "poll" {
			t.Errorf("Expected mode=poll, got %q", v)
		}
	})

	t.Run("symlink rejected", func(t *testing.T) {
		link := filepath.Join(dir, "link")
		if err := os.Symlink(path, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		_, err := LoadFromPath(link)
		if err == nil || !strings.Contains(err.Error(), "is a symlink") {
			t.Errorf("Expected symlink error, got %v", err)
		}
	})
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("transport stdio\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(PathEnvVar, path)

	got, err := GetConfigPath()
	if err != nil || got != path {
		t.Fatalf("Expected %s, got %s (err %v)", path, got, err)
	}
	config, loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != path {
		t.Errorf("Expected Load to read %s, got %s", path, loaded)
	}
	if v, _ := config.GetGlobalOption("transport"); v != "stdio" {
		t.Errorf("Expected transport=stdio, got %q", v)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv(PathEnvVar, "")
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Skip("home directory comes from USERPROFILE")
	}

	got, err := GetConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".realm-rpc", "config"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if got != DefaultPath(home) {
		t.Errorf("Expected DefaultPath to agree, got %s", DefaultPath(home))
	}
	// Writing a key creates the directory.
	if err := SetKeyInFile(got, "", "mode", "poll"); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(home, ".realm-rpc")); err != nil || !fi.IsDir() {
		t.Errorf("Expected config directory to exist (err %v)", err)
	}
}
