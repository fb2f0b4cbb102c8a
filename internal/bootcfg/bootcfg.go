package bootcfg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker tokens for the sections managed in the boot configuration. A marked
// section starts at its token line and runs to the next blank line (or EOF).
const (
	OverclockMarker = "# OVERKILL PI 5 CONFIGURATION"
	ArmbianMarker   = "# OVERKILL ARMBIAN CONFIGURATION"
)

// Default boot configuration locations. Pi OS Bookworm moved config.txt under
// /boot/firmware; older images keep it at /boot.
var DefaultPaths = []string{
	"/boot/firmware/config.txt",
	"/boot/config.txt",
}

// File is a line-oriented key=value boot configuration store. It resolves the
// writable config location once, backs up before every mutation and writes
// atomically so a crash mid-write never leaves a corrupt file.
type File struct {
	// Candidates are tried in order; the first existing path wins. If none
	// exists the first candidate is created.
	Candidates []string

	resolved string
}

// New creates a store over the given candidate paths. With no arguments the
// standard Pi locations are used.
func New(candidates ...string) *File {
	if len(candidates) == 0 {
		candidates = DefaultPaths
	}
	return &File{Candidates: candidates}
}

// Resolve returns the path of the config file, falling back through the
// candidate list and creating a fresh file when nothing exists.
func (f *File) Resolve() (string, error) {
	if f.resolved != "" {
		return f.resolved, nil
	}

	for _, p := range f.Candidates {
		if _, err := os.Stat(p); err == nil {
			f.resolved = p
			return p, nil
		}
	}

	// Nothing exists; create a fresh config at the primary location
	p := f.Candidates[0]
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(p, []byte("# Raspberry Pi configuration\n"), 0644); err != nil {
		return "", fmt.Errorf("create config file: %w", err)
	}
	f.resolved = p
	return p, nil
}

// Read returns the full content of the config file.
func (f *File) Read() (string, error) {
	p, err := f.Resolve()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

// Backup copies the config file aside with a timestamped suffix and returns
// the backup path.
func (f *File) Backup() (string, error) {
	p, err := f.Resolve()
	if err != nil {
		return "", err
	}

	src, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s for backup: %w", p, err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.overkill-%s.bak", p, time.Now().Format("20060102-150405"))
	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create backup %s: %w", backupPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy to backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

// WriteAtomic replaces the config content via write-to-temp-then-rename.
func (f *File) WriteAtomic(content string) error {
	p, err := f.Resolve()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// IntValues extracts integer key=value settings from content. Only lines
// starting exactly with "key=" count; comments and whitespace-prefixed lines
// are ignored.
func IntValues(content string, keys ...string) map[string]int {
	values := make(map[string]int)
	for _, line := range strings.Split(content, "\n") {
		for _, key := range keys {
			rest, ok := strings.CutPrefix(line, key+"=")
			if !ok {
				continue
			}
			if v, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				values[key] = v
			}
		}
	}
	return values
}

// HasSection reports whether content contains the given marker section.
func HasSection(content, marker string) bool {
	return strings.Contains(content, marker)
}

// RemoveSection deletes the span from the marker line to the next blank line
// boundary (or end of file). Content without the marker is returned unchanged.
func RemoveSection(content, marker string) string {
	start := strings.Index(content, marker)
	if start < 0 {
		return content
	}

	end := strings.Index(content[start:], "\n\n")
	if end < 0 {
		// Section runs to end of file
		return strings.TrimRight(content[:start], "\n") + "\n"
	}
	return content[:start] + content[start+end+2:]
}

// ReplaceLinePrefix rewrites every line beginning with prefix to replacement.
// It returns the updated content and whether any line matched.
func ReplaceLinePrefix(content, prefix, replacement string) (string, bool) {
	lines := strings.Split(content, "\n")
	matched := false
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			lines[i] = replacement
			matched = true
		}
	}
	return strings.Join(lines, "\n"), matched
}
