package commitsearch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sha1n/relic-commits/internal/domain"
	"github.com/sha1n/relic-commits/internal/store"
)

var errBoom = errors.New("boom")

// callLog records index and status writes in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeIndex is a SearchIndex that records calls and keeps documents in memory.
type fakeIndex struct {
	log  *callLog
	docs map[string]domain.IndexedCommit

	putErr    error
	deleteErr error
}

func newFakeIndex(log *callLog) *fakeIndex {
	return &fakeIndex{log: log, docs: make(map[string]domain.IndexedCommit)}
}

func (f *fakeIndex) Put(_ context.Context, id, permission string, doc domain.IndexedCommit) error {
	f.log.add("put " + id)
	if f.putErr != nil {
		return f.putErr
	}
	doc.Permission = permission
	f.docs[id] = doc
	return nil
}

func (f *fakeIndex) DeleteByID(_ context.Context, id string) error {
	f.log.add("delete " + id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeIndex) DeleteByRepository(_ context.Context, repositoryID string) error {
	f.log.add("deleteAll " + repositoryID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, doc := range f.docs {
		if doc.Repository == repositoryID {
			delete(f.docs, id)
		}
	}
	return nil
}

// recordingKV is a MemoryKV that logs writes and can be made to fail.
type recordingKV struct {
	*store.MemoryKV
	log      *callLog
	reads    int
	readErr  error
	writeErr error
}

func newRecordingKV(log *callLog) *recordingKV {
	return &recordingKV{MemoryKV: store.NewMemoryKV(), log: log}
}

func (r *recordingKV) Read(key string) ([]byte, bool, error) {
	r.reads++
	if r.readErr != nil {
		return nil, false, r.readErr
	}
	return r.MemoryKV.Read(key)
}

func (r *recordingKV) Write(key string, value []byte) error {
	r.log.add("status " + key)
	if r.writeErr != nil {
		return r.writeErr
	}
	return r.MemoryKV.Write(key, value)
}

// fakeHistory is an in-memory History with a movable tip.
type fakeHistory struct {
	supported bool
	commits   []domain.Commit // newest first
	delta     *domain.CommitDelta

	latestErr  error
	commitsErr error
	deltaErr   error
	closeErr   error
	closed     int
}

func newFakeHistory(commits ...domain.Commit) *fakeHistory {
	return &fakeHistory{supported: true, commits: commits}
}

func (h *fakeHistory) SupportsHistory() bool { return h.supported }

func (h *fakeHistory) LatestCommit(context.Context) (domain.Commit, bool, error) {
	if h.latestErr != nil {
		return domain.Commit{}, false, h.latestErr
	}
	if len(h.commits) == 0 {
		return domain.Commit{}, false, nil
	}
	return h.commits[0], true, nil
}

func (h *fakeHistory) Commits(context.Context) ([]domain.Commit, error) {
	if h.commitsErr != nil {
		return nil, h.commitsErr
	}
	return h.commits, nil
}

func (h *fakeHistory) Close() error {
	h.closed++
	return h.closeErr
}

// resolvingHistory adds DeltaResolver to fakeHistory.
type resolvingHistory struct {
	*fakeHistory
}

func (h resolvingHistory) Delta(context.Context, string, string) (domain.CommitDelta, error) {
	if h.deltaErr != nil {
		return domain.CommitDelta{}, h.deltaErr
	}
	if h.delta == nil {
		return domain.CommitDelta{}, nil
	}
	return *h.delta, nil
}

// fakeOpener hands out the same history for every repository.
type fakeOpener struct {
	history History
	err     error
	opened  int
}

func (o *fakeOpener) Open(context.Context, Repository) (History, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.history, nil
}

// commit builds a commit whose parent is the given id, if any.
func commit(id string, parents ...string) domain.Commit {
	return domain.Commit{
		ID:          id,
		Author:      "Arthur Dent <arthur@hitchhiker.com>",
		Timestamp:   1700000000,
		Description: "commit " + id,
		Parents:     parents,
	}
}

var testRepo = Repository{ID: "hog", Name: "heart-of-gold", Path: "/repos/hog"}

// fixture wires a worker against fakes that share one call log.
type fixture struct {
	log     *callLog
	index   *fakeIndex
	kv      *recordingKV
	status  *StatusStore
	history *fakeHistory
}

func newFixture(t *testing.T, commits ...domain.Commit) *fixture {
	t.Helper()
	log := &callLog{}
	kv := newRecordingKV(log)
	return &fixture{
		log:     log,
		index:   newFakeIndex(log),
		kv:      kv,
		status:  NewStatusStore(kv),
		history: newFakeHistory(commits...),
	}
}

func (f *fixture) worker() *SyncWorker {
	return NewSyncWorker(IndexingContext{
		Repository: testRepo,
		History:    f.history,
		Writer:     NewIndexWriter(f.index, testRepo, nil),
		Status:     f.status,
	})
}

// seed stores a status without recording it in the call log.
func (f *fixture) seed(t *testing.T, revision string, version int) {
	t.Helper()
	var err error
	if revision == EmptyRevision {
		err = NewStatusStore(f.kv.MemoryKV).MarkEmpty(testRepo)
	} else {
		err = NewStatusStore(f.kv.MemoryKV).UpdateVersion(testRepo, revision, version)
	}
	if err != nil {
		t.Fatalf("Failed to seed status: %v", err)
	}
}

func (f *fixture) mustStatus(t *testing.T) IndexStatus {
	t.Helper()
	status, ok, err := f.status.Get(testRepo)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a status to be stored")
	}
	return status
}
