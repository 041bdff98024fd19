package commitsearch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sha1n/relic-commits/internal/domain"
	"github.com/sha1n/relic-commits/internal/store"
)

// EmptyRevision is the revision recorded for repositories observed without
// commits. It can never collide with a git object name.
const EmptyRevision = "__empty__"

// IndexStatus is the persisted synchronization state of one repository.
type IndexStatus struct {
	Version   int
	Revision  string
	IndexedAt time.Time
}

// IsEmpty reports whether the repository was observed without commits.
func (s IndexStatus) IsEmpty() bool {
	return s.Revision == EmptyRevision
}

// IsCurrent reports whether the status was written by the current document schema.
func (s IndexStatus) IsCurrent() bool {
	return s.Version == domain.SchemaVersion
}

// statusRecord is the serialized form of IndexStatus.
type statusRecord struct {
	SchemaVersion int    `json:"schema_version"`
	Revision      string `json:"revision"`
	Empty         bool   `json:"empty"`
	IndexedAt     int64  `json:"indexed_at"`
}

// StatusStore persists IndexStatus records keyed by repository ID.
// It performs no locking of its own beyond what the KV provides.
type StatusStore struct {
	kv  store.KV
	now func() time.Time
}

// NewStatusStore creates a status store on top of a KV.
func NewStatusStore(kv store.KV) *StatusStore {
	return &StatusStore{kv: kv, now: time.Now}
}

// Get returns the status of repo. The boolean is false if none was ever written.
func (s *StatusStore) Get(repo Repository) (IndexStatus, bool, error) {
	data, ok, err := s.kv.Read(repo.ID)
	if err != nil {
		return IndexStatus{}, false, fmt.Errorf("failed to read index status: %w", err)
	}
	if !ok {
		return IndexStatus{}, false, nil
	}

	var rec statusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return IndexStatus{}, false, fmt.Errorf("failed to parse index status of %s: %w", repo.ID, err)
	}

	status := IndexStatus{
		Version:   rec.SchemaVersion,
		Revision:  rec.Revision,
		IndexedAt: time.UnixMilli(rec.IndexedAt),
	}
	if rec.Empty {
		status.Revision = EmptyRevision
	}
	return status, true, nil
}

// Update records revision as indexed with the current schema version.
func (s *StatusStore) Update(repo Repository, revision string) error {
	return s.UpdateVersion(repo, revision, domain.SchemaVersion)
}

// UpdateVersion records revision as indexed with the given schema version.
func (s *StatusStore) UpdateVersion(repo Repository, revision string, version int) error {
	return s.write(repo, statusRecord{
		SchemaVersion: version,
		Revision:      revision,
	})
}

// MarkEmpty records that repo has no commits.
func (s *StatusStore) MarkEmpty(repo Repository) error {
	return s.write(repo, statusRecord{
		SchemaVersion: domain.SchemaVersion,
		Revision:      EmptyRevision,
		Empty:         true,
	})
}

// RepositoryIDs returns the IDs of all repositories with a stored status.
func (s *StatusStore) RepositoryIDs() ([]string, error) {
	return s.kv.Keys()
}

func (s *StatusStore) write(repo Repository, rec statusRecord) error {
	rec.IndexedAt = s.now().UnixMilli()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal index status: %w", err)
	}
	if err := s.kv.Write(repo.ID, data); err != nil {
		return fmt.Errorf("failed to write index status: %w", err)
	}
	return nil
}
