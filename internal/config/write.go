package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SetKeyInFile sets key to value in the given section ("" for global) of
// the config file at path, creating the file if needed. Comments, ordering
// and other lines are preserved. A missing key is added at the end of its
// section; a missing section is appended to the file.
func SetKeyInFile(path, section, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}

	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}
	entry := key
	if value != "" {
		entry = key + " " + value
	}

	current := ""
	sectionSeen := section == ""
	// insertAt is the index after the last line belonging to section.
	insertAt := -1
	if section == "" {
		insertAt = 0
	}
	found := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			current = strings.TrimSpace(strings.Trim(trimmed, "[]"))
			if current == section {
				sectionSeen = true
				insertAt = i + 1
			}
			continue
		}
		if current != section {
			continue
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			insertAt = i + 1
		}
		if name, _, _ := strings.Cut(trimmed, " "); name == key {
			lines[i] = entry
			found = true
			break
		}
	}

	switch {
	case found:
	case !sectionSeen:
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "["+section+"]", entry)
	default:
		lines = append(lines[:insertAt], append([]string{entry}, lines[insertAt:]...)...)
	}

	return writeFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// writeFileAtomic writes data to a temporary file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	done = true
	return nil
}
