package servicelist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnavailable marks a service list file that is missing or unreadable.
var ErrUnavailable = errors.New("service list unavailable")

// Load reads the desired display names from path: one per line, surrounding
// whitespace trimmed, blank lines ignored. File order is kept and duplicates are not removed.
func Load(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	return parse(b), nil
}

func parse(b []byte) []string {
	names := make([]string, 0)
	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names
}

// Ensure creates an empty list file (and its directory) when it does not exist.
func Ensure(path string) error {
	clean := filepath.Clean(path)
	if _, err := os.Stat(clean); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if dir := filepath.Dir(clean); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(clean, nil, 0o600)
}

// Add appends the names that are not already listed. It returns the names actually added.
func Add(path string, names ...string) ([]string, error) {
	if err := Ensure(path); err != nil {
		return nil, err
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(lines))
	for _, l := range lines {
		present[strings.TrimSpace(l)] = true
	}
	added := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || present[n] {
			continue
		}
		present[n] = true
		lines = append(lines, n)
		added = append(added, n)
	}
	if len(added) == 0 {
		return added, nil
	}
	return added, writeLines(path, lines)
}

// Remove deletes every line matching one of names. It returns how many lines were removed.
func Remove(path string, names ...string) (int, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[strings.TrimSpace(n)] = true
	}
	kept := lines[:0]
	removed := 0
	for _, l := range lines {
		if drop[strings.TrimSpace(l)] {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, writeLines(path, kept)
}

// readLines returns raw lines (blank lines included) so edits keep the user's layout.
func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}, nil
	}
	return strings.Split(s, "\n"), nil
}

func writeLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	clean := filepath.Clean(path)
	tmp := clean + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, clean)
}
