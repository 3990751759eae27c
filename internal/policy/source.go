package policy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"capway/pkg/logger"

	"gopkg.in/yaml.v3"
)

// Table is the versioned policy mapping loaded from external storage.
type Table struct {
	// Identities maps a verified caller identity to the set of
	// "verb:capability" strings it may invoke.
	Identities map[string]IdentityPolicy `yaml:"identities"`
	// Exceptions are time-bounded allow-all overrides, used for migration
	// grace periods.
	Exceptions []Exception `yaml:"exceptions"`
}

// IdentityPolicy is one identity's declared capability set.
type IdentityPolicy struct {
	Capabilities []string `yaml:"capabilities"`
}

// Exception temporarily overrides a deny for one identity.
type Exception struct {
	Identity          string    `yaml:"identity"`
	TemporaryAllowAll bool      `yaml:"temporary_allow_all"`
	ExpiresAt         time.Time `yaml:"expires_at"`
}

// Allows reports whether identity may invoke the given capability key.
func (t *Table) Allows(identity, capabilityKey string) bool {
	entry, ok := t.Identities[identity]
	if !ok {
		return false
	}
	for _, c := range entry.Capabilities {
		if c == capabilityKey {
			return true
		}
	}
	return false
}

// Exception returns the non-expired allow-all exception for identity, if any.
func (t *Table) Exception(identity string, now time.Time) *Exception {
	for i := range t.Exceptions {
		e := &t.Exceptions[i]
		if e.Identity == identity && e.TemporaryAllowAll && now.Before(e.ExpiresAt) {
			return e
		}
	}
	return nil
}

// Source supplies the current policy table. Implementations may hit disk or
// the network; the evaluator bounds every call with a timeout and treats any
// failure as a deny.
type Source interface {
	Snapshot(ctx context.Context) (*Table, error)
}

// FileSource loads the policy table from a YAML file and caches it. Reload
// swaps the cached table in place; a failed reload keeps serving the last
// good table.
type FileSource struct {
	path string

	mu    sync.RWMutex
	table *Table
}

// NewFileSource creates a file-backed source and performs the initial load.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the cached table.
func (s *FileSource) Snapshot(ctx context.Context) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return nil, fmt.Errorf("policy table not loaded")
	}
	return s.table, nil
}

// Reload re-reads the policy file.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", s.path, err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", s.path, err)
	}
	if table.Identities == nil {
		table.Identities = make(map[string]IdentityPolicy)
	}

	s.mu.Lock()
	s.table = &table
	s.mu.Unlock()

	logger.Infof("loaded policy table: %d identities, %d exceptions", len(table.Identities), len(table.Exceptions))
	return nil
}

// StaticSource serves a fixed table, for tests and embedded setups.
type StaticSource struct {
	Table *Table
}

func (s *StaticSource) Snapshot(ctx context.Context) (*Table, error) {
	if s.Table == nil {
		return nil, fmt.Errorf("no policy table configured")
	}
	return s.Table, nil
}
