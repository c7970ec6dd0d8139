package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no workflow matches a name.
var ErrNotFound = errors.New("workflow not found")

// ReadFile reads a workflow file and returns its content as JSON together
// with the detected format.
func ReadFile(path string) ([]byte, Format, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("reading file %s: %w", path, ErrNotFound)
		}
		return nil, "", fmt.Errorf("reading file %s: %w", path, err)
	}

	format, err := DetectFormat(data, path)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, "", err
	}
	return jsonData, format, nil
}

// Entry is one discoverable workflow file.
type Entry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Rel      string `json:"rel"`
	Category string `json:"category"`
}

// List walks dirs for workflow files (.json, .yaml, .yml), skipping hidden
// files and directories. Entries are sorted by category, then name. A
// directory that does not exist is skipped.
func List(dirs []string) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]bool)

	for _, dir := range dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if path != dir && strings.HasPrefix(name, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !isWorkflowFile(name) {
				return nil
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			if seen[abs] {
				return nil
			}
			seen[abs] = true

			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			category := filepath.Dir(rel)
			if category == "." {
				category = "Uncategorized"
			}
			entries = append(entries, Entry{
				Name:     name,
				Path:     path,
				Rel:      filepath.ToSlash(rel),
				Category: filepath.ToSlash(category),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Category != entries[j].Category {
			return entries[i].Category < entries[j].Category
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func isWorkflowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// AmbiguousError is returned by Find when a partial name matches several
// workflows.
type AmbiguousError struct {
	Name    string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("workflow name %q is ambiguous: %s", e.Name, strings.Join(e.Matches, ", "))
}

// Find resolves name to a workflow path. It tries, in order: an existing
// file path, a 1-based index into List(dirs), an exact file name or
// relative path (with or without extension), then a unique
// case-insensitive substring match.
func Find(name string, dirs []string) (string, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return name, nil
	}

	entries, err := List(dirs)
	if err != nil {
		return "", err
	}

	if idx, err := strconv.Atoi(name); err == nil {
		if idx >= 1 && idx <= len(entries) {
			return entries[idx-1].Path, nil
		}
	}

	for _, e := range entries {
		if e.Name == name || e.Rel == name || trimExt(e.Name) == name || trimExt(e.Rel) == name {
			return e.Path, nil
		}
	}

	lower := strings.ToLower(name)
	var matches []Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Rel), lower) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	case 1:
		return matches[0].Path, nil
	default:
		rels := make([]string, len(matches))
		for i, m := range matches {
			rels[i] = m.Rel
		}
		return "", &AmbiguousError{Name: name, Matches: rels}
	}
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
