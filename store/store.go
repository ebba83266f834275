// Package store persists session records as one JSON collection on disk.
// The whole collection is rewritten atomically on every mutation; a missing
// or corrupt file reads as empty rather than failing, so a damaged store
// never blocks the command layer from starting fresh.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stint-dev/stint-core/logger"
	"github.com/stint-dev/stint-core/taskid"
)

// RemoteAuth carries optional metadata for authenticating against the
// session's remote. Tokens themselves stay in the environment.
type RemoteAuth struct {
	Host     string `json:"host,omitempty"`
	User     string `json:"user,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
}

// SessionRecord is one registered session. Name is the primary key.
type SessionRecord struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Repo          string      `json:"repo"`
	RepoURL       string      `json:"repo_url"`
	CreatedAt     time.Time   `json:"created_at"`
	TaskID        string      `json:"task_id,omitempty"` // Qualified form, e.g. "md#42"
	WorkspacePath string      `json:"workspace_path,omitempty"`
	Branch        string      `json:"branch"`
	Backend       string      `json:"backend,omitempty"` // Task backend tag, e.g. "md"
	RemoteAuth    *RemoteAuth `json:"remote_auth,omitempty"`
}

// RecordUpdate names the fields Update may merge into a record. Nil fields
// are left untouched. Name is present only so rename attempts can be
// detected and rejected.
type RecordUpdate struct {
	Name          *string
	RepoURL       *string
	TaskID        *string
	WorkspacePath *string
	Branch        *string
	Backend       *string
	RemoteAuth    *RemoteAuth
}

// Store is the durable registry of session records.
type Store struct {
	mu             sync.RWMutex
	records        []SessionRecord
	filePath       string
	workspaceRoot  string
	defaultBackend string
}

// Open loads the store from path. workspaceRoot is the directory the single
// workspace-path convention resolves into; defaultBackend qualifies bare
// task ids during lookup.
func Open(path, workspaceRoot, defaultBackend string) *Store {
	s := &Store{
		filePath:       path,
		workspaceRoot:  workspaceRoot,
		defaultBackend: defaultBackend,
	}
	s.load()
	return s
}

// load reads the collection. Missing or corrupt files read as empty.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithComponent("store").Warn("failed to read session store, starting empty",
				"path", s.filePath, "error", err)
		}
		s.records = nil
		return
	}

	var records []SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logger.WithComponent("store").Warn("session store is corrupt, starting empty",
			"path", s.filePath, "error", err)
		s.records = nil
		return
	}
	s.records = records
}

// save atomically rewrites the whole collection. Caller must hold mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close session store: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session store: %w", err)
	}
	return nil
}

// normalizeTaskID renders a stored or queried task id canonical. Returns ""
// for unset or unparseable ids so damaged records never break lookups.
func (s *Store) normalizeTaskID(raw string) string {
	if raw == "" {
		return ""
	}
	canonical, err := taskid.Normalize(raw, s.defaultBackend)
	if err != nil {
		return ""
	}
	return canonical
}

// Add registers a new record. It fails when the name is taken or when the
// record's task already has a session.
func (s *Store) Add(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Name == "" {
		return fmt.Errorf("session record has no name")
	}

	for _, existing := range s.records {
		if existing.Name == rec.Name {
			return fmt.Errorf("session %q already exists", rec.Name)
		}
	}

	if taskKey := s.normalizeTaskID(rec.TaskID); taskKey != "" {
		for _, existing := range s.records {
			if s.normalizeTaskID(existing.TaskID) == taskKey {
				return fmt.Errorf("task %s already has session %q", taskKey, existing.Name)
			}
		}
	}

	s.records = append(s.records, rec)
	return s.save()
}

// Get returns the record with the given name, or nil.
func (s *Store) Get(name string) *SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.records {
		if s.records[i].Name == name {
			rec := s.records[i]
			return &rec
		}
	}
	return nil
}

// GetByTaskID returns the record linked to the given task id, or nil.
// Both the query and every stored id are normalized before comparison.
func (s *Store) GetByTaskID(raw string) *SessionRecord {
	key := s.normalizeTaskID(raw)
	if key == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.records {
		if s.normalizeTaskID(s.records[i].TaskID) == key {
			rec := s.records[i]
			return &rec
		}
	}
	return nil
}

// Update merges the given fields into the named record. Renaming the key is
// rejected.
func (s *Store) Update(name string, upd RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd.Name != nil && *upd.Name != name {
		return fmt.Errorf("session records cannot be renamed (%q -> %q)", name, *upd.Name)
	}

	if upd.TaskID != nil {
		if taskKey := s.normalizeTaskID(*upd.TaskID); taskKey != "" {
			for _, existing := range s.records {
				if existing.Name != name && s.normalizeTaskID(existing.TaskID) == taskKey {
					return fmt.Errorf("task %s already has session %q", taskKey, existing.Name)
				}
			}
		}
	}

	for i := range s.records {
		if s.records[i].Name != name {
			continue
		}
		rec := &s.records[i]
		if upd.RepoURL != nil {
			rec.RepoURL = *upd.RepoURL
		}
		if upd.TaskID != nil {
			rec.TaskID = *upd.TaskID
		}
		if upd.WorkspacePath != nil {
			rec.WorkspacePath = *upd.WorkspacePath
		}
		if upd.Branch != nil {
			rec.Branch = *upd.Branch
		}
		if upd.Backend != nil {
			rec.Backend = *upd.Backend
		}
		if upd.RemoteAuth != nil {
			rec.RemoteAuth = upd.RemoteAuth
		}
		return s.save()
	}

	return fmt.Errorf("session %q not found", name)
}

// Delete removes the named record, reporting whether it existed.
func (s *Store) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].Name == name {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, s.save()
		}
	}
	return false, nil
}

// List returns a copy of all records.
func (s *Store) List() []SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// WorkspaceRoot returns the directory the workspace-path convention resolves
// into.
func (s *Store) WorkspaceRoot() string {
	return s.workspaceRoot
}

// ResolveWorkspacePath returns the record's workspace directory: the explicit
// field when set, otherwise the single fixed convention
// <workspaceRoot>/<name>.
func (s *Store) ResolveWorkspacePath(rec *SessionRecord) string {
	if rec.WorkspacePath != "" {
		return rec.WorkspacePath
	}
	return filepath.Join(s.workspaceRoot, rec.Name)
}

// legacyWorkspaceDir is the pre-1.0 sibling-directory convention. Migrate
// rewrites records still carrying it; nothing else in the library knows it
// exists.
const legacyWorkspaceDir = ".stint-workspaces"

// Migrate rewrites records using the legacy sibling-directory workspace
// convention to the central convention, moving the directory when it still
// exists. This runs once per record; migrated records never match again.
func (s *Store) Migrate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("store")
	migrated := 0

	for i := range s.records {
		rec := &s.records[i]
		if rec.WorkspacePath == "" ||
			filepath.Base(filepath.Dir(rec.WorkspacePath)) != legacyWorkspaceDir {
			continue
		}

		newPath := filepath.Join(s.workspaceRoot, rec.Name)
		if _, err := os.Stat(rec.WorkspacePath); err == nil {
			if err := os.MkdirAll(s.workspaceRoot, 0755); err != nil {
				return migrated, fmt.Errorf("failed to create workspace root: %w", err)
			}
			if err := os.Rename(rec.WorkspacePath, newPath); err != nil {
				log.Warn("could not move legacy workspace, keeping old path",
					"session", rec.Name, "from", rec.WorkspacePath, "error", err)
				continue
			}
		}

		log.Info("migrated workspace path", "session", rec.Name,
			"from", rec.WorkspacePath, "to", newPath)
		rec.WorkspacePath = newPath
		migrated++
	}

	if migrated > 0 {
		if err := s.save(); err != nil {
			return migrated, err
		}
	}
	return migrated, nil
}
