package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Note is a markdown file in the vault.
type Note struct {
	Path     string    `json:"path"`
	Content  string    `json:"content,omitempty"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ValidateNotePath checks that path is a relative markdown path that stays
// inside the vault.
func ValidateNotePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative, got absolute path: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path cannot reference parent directories: %s", path)
	}
	if !isMarkdown(clean) {
		return fmt.Errorf("path must end with .md: %s", path)
	}
	return nil
}

func (v *Vault) notePath(path string) (string, error) {
	if err := ValidateNotePath(path); err != nil {
		return "", err
	}

	absRoot, err := filepath.Abs(v.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve vault root: %w", err)
	}
	full := filepath.Join(absRoot, filepath.Clean(path))
	if full != absRoot && !strings.HasPrefix(full, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes vault: %s", path)
	}
	return full, nil
}

// ReadNote returns the note at path.
func (v *Vault) ReadNote(path string) (*Note, error) {
	full, err := v.notePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("note not found: %s", path)
		}
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return &Note{Path: filepath.ToSlash(filepath.Clean(path)), Content: string(data), Size: info.Size(), Modified: info.ModTime()}, nil
}

// WriteNote creates or replaces a note, or appends to it. It reports whether
// the note was created.
func (v *Vault) WriteNote(path, content string, appendMode bool) (bool, error) {
	full, err := v.notePath(path)
	if err != nil {
		return false, err
	}

	_, statErr := os.Stat(full)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(full, flags, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open note: %w", err)
	}
	if appendMode && !created && !strings.HasPrefix(content, "\n") {
		content = "\n" + content
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write note: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	// The watcher would catch this too, but a search right after a write must see it.
	v.MarkDirty()
	return created, nil
}

// ListNotes lists notes whose relative path matches the glob pattern. An empty
// pattern lists everything.
func (v *Vault) ListNotes(pattern string) ([]Note, error) {
	var notes []Note
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdown(d.Name()) {
			return nil
		}
		rel, _ := filepath.Rel(v.root, path)
		rel = filepath.ToSlash(rel)
		if pattern != "" {
			matched, err := filepath.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			if !matched {
				if base, _ := filepath.Match(pattern, d.Name()); !base {
					return nil
				}
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		notes = append(notes, Note{Path: rel, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	return notes, nil
}
