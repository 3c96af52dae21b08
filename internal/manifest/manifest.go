// Package manifest keeps the flat index of dump archives that were fully split.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Manifest is an append-only set of archive names backed by a text file with
// one name per line. It is safe for concurrent use.
type Manifest struct {
	path string

	mu    sync.Mutex
	names map[string]struct{}
}

// Open loads the manifest at path. A missing file is an empty manifest.
func Open(path string) (*Manifest, error) {
	m := &Manifest{path: path, names: make(map[string]struct{})}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		m.names[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	return m, nil
}

// Path returns the backing file path.
func (m *Manifest) Path() string {
	return m.path
}

// Contains reports whether name was recorded.
func (m *Manifest) Contains(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.names[name]
	return ok
}

// Add records name and syncs it to disk. Adding a recorded name is a no-op.
func (m *Manifest) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("invalid archive name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.names[name]; ok {
		return nil
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening manifest for append: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(name + "\n"); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing manifest: %w", err)
	}

	m.names[name] = struct{}{}
	return nil
}

// Names returns the recorded names, sorted.
func (m *Manifest) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.names))
	for name := range m.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded names.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}
