// Package dict looks words up in local glossary dictionaries and renders the
// results as HTML.
package dict

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ext is the file extension of glossary dictionaries.
const Ext = ".gloss"

// Entry is one dictionary's answer for a word.
type Entry struct {
	Dictionary string
	HTML       string
	Resources  map[string][]byte
}

// Dictionary looks up a single key.
type Dictionary interface {
	Lookup(key string) (Entry, bool, error)
}

// Glossary is a dictionary backed by one glossary file. Resource files are
// read from the directory holding the glossary.
type Glossary struct {
	Name    string
	Path    string
	records []Record
	index   map[string]int
}

// Open parses the glossary at path. The dictionary is named after the file.
func Open(path string) (*Glossary, error) {
	records, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dictionary %s: %w", path, err)
	}
	g := &Glossary{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:    path,
		records: records,
		index:   make(map[string]int),
	}
	for i, rec := range records {
		for _, w := range rec.Headwords {
			k := strings.ToLower(w)
			if _, dup := g.index[k]; !dup {
				g.index[k] = i
			}
		}
	}
	return g, nil
}

// Len returns the number of headwords in the glossary.
func (g *Glossary) Len() int {
	return len(g.index)
}

// Lookup finds key case-insensitively.
func (g *Glossary) Lookup(key string) (Entry, bool, error) {
	i, ok := g.index[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Entry{}, false, nil
	}
	rec := g.records[i]

	resources := make(map[string][]byte, len(rec.Resources))
	dir := filepath.Dir(g.Path)
	for _, name := range rec.Resources {
		if !filepath.IsLocal(name) {
			return Entry{}, false, fmt.Errorf("resource %q of %s escapes the dictionary directory", name, g.Name)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Entry{}, false, fmt.Errorf("failed to read resource %s for %s: %w", name, key, err)
		}
		resources[filepath.ToSlash(name)] = data
	}

	return Entry{
		Dictionary: g.Name,
		HTML:       definitionHTML(rec),
		Resources:  resources,
	}, true, nil
}

// Load opens every glossary below dir. Files that fail to parse are logged and
// skipped so one broken dictionary does not hide the others.
func Load(dir string, log *slog.Logger) ([]*Glossary, error) {
	var glossaries []*Glossary

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), Ext) {
			return nil
		}
		g, openErr := Open(path)
		if openErr != nil {
			log.Warn("skipping dictionary", "path", path, "error", openErr)
			return nil
		}
		log.Debug("loaded dictionary", "name", g.Name, "headwords", g.Len())
		glossaries = append(glossaries, g)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to walk dictionary dir %s: %w", dir, walkErr)
	}

	sort.Slice(glossaries, func(i, j int) bool { return glossaries[i].Path < glossaries[j].Path })
	return glossaries, nil
}

// Multi queries several dictionaries.
type Multi []Dictionary

// NewMulti wraps loaded glossaries.
func NewMulti(glossaries []*Glossary) Multi {
	m := make(Multi, 0, len(glossaries))
	for _, g := range glossaries {
		m = append(m, g)
	}
	return m
}

// LookupAll returns the entries of every dictionary that knows key, in
// dictionary order. Failing dictionaries do not prevent the others from
// answering; their errors are joined into the returned error.
func (m Multi) LookupAll(key string) ([]Entry, error) {
	var (
		entries []Entry
		errs    []error
	)
	for _, d := range m {
		e, ok, err := d.Lookup(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, errors.Join(errs...)
}
