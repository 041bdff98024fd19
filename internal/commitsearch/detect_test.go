package commitsearch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/sha1n/relic-commits/internal/domain"
	"github.com/sha1n/relic-commits/internal/store"
	"github.com/sha1n/relic-commits/internal/testkit"
)

// taskRecorder is a Submitter that keeps every task.
type taskRecorder struct {
	mu    sync.Mutex
	tasks []Task
	err   error
	ch    chan Task
}

func newTaskRecorder() *taskRecorder {
	return &taskRecorder{ch: make(chan Task, 16)}
}

func (r *taskRecorder) Submit(_ context.Context, task Task) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	select {
	case r.ch <- task:
	default:
	}
	return nil
}

func (r *taskRecorder) get() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}

func TestChangeDetector_Detect(t *testing.T) {
	tests := []struct {
		name    string
		status  string // "" for none
		version int
		commits []domain.Commit
		want    []Task
	}{
		{
			name:    "no status",
			commits: []domain.Commit{commit("1")},
			want:    []Task{{Repository: testRepo}},
		},
		{
			name:    "schema drift",
			status:  "1",
			version: domain.SchemaVersion - 1,
			commits: []domain.Commit{commit("1")},
			want:    []Task{{Repository: testRepo}},
		},
		{
			name:    "up to date",
			status:  "42",
			commits: []domain.Commit{commit("42", "41")},
		},
		{
			name:   "still empty",
			status: EmptyRevision,
		},
		{
			name:    "first commit after empty",
			status:  EmptyRevision,
			commits: []domain.Commit{commit("1")},
			want:    []Task{{Repository: testRepo}},
		},
		{
			name:   "history emptied",
			status: "42",
			want:   []Task{{Repository: testRepo}},
		},
		{
			name:    "new commits",
			status:  "41",
			commits: []domain.Commit{commit("42", "41"), commit("41")},
			want:    []Task{{Repository: testRepo, CatchUp: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.commits...)
			if tt.status != "" {
				version := tt.version
				if version == 0 {
					version = domain.SchemaVersion
				}
				f.seed(t, tt.status, version)
			}

			rec := newTaskRecorder()
			d := NewChangeDetector(&fakeOpener{history: resolvingHistory{f.history}}, f.status, rec, nil)
			if err := d.Detect(context.Background(), testRepo); err != nil {
				t.Fatalf("Detect failed: %v", err)
			}

			if diff := cmp.Diff(tt.want, rec.get(), cmp.AllowUnexported(Task{})); diff != "" {
				t.Errorf("Tasks mismatch (-want +got):\n%s", diff)
			}
			if f.history.closed != 1 {
				t.Errorf("History closed %d times, want 1", f.history.closed)
			}
			if calls := f.log.get(); len(calls) != 0 {
				t.Errorf("Detect must not write, got %v", calls)
			}
		})
	}
}

func TestChangeDetector_Detect_Unsupported(t *testing.T) {
	f := newFixture(t, commit("1"))
	f.history.supported = false
	rec := newTaskRecorder()

	if err := NewChangeDetector(&fakeOpener{history: f.history}, f.status, rec, nil).Detect(context.Background(), testRepo); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if tasks := rec.get(); len(tasks) != 0 {
		t.Errorf("Expected no tasks, got %v", tasks)
	}
}

func TestChangeDetector_Detect_SubmitError(t *testing.T) {
	f := newFixture(t, commit("1"))
	rec := newTaskRecorder()
	rec.err = ErrSchedulerStopped

	err := NewChangeDetector(&fakeOpener{history: f.history}, f.status, rec, nil).Detect(context.Background(), testRepo)
	if !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Expected ErrSchedulerStopped, got: %v", err)
	}
}

func TestChangeDetector_Poll(t *testing.T) {
	f := newFixture(t, commit("1"))
	rec := newTaskRecorder()
	d := NewChangeDetector(&fakeOpener{history: f.history}, f.status, rec, nil)

	var prepared sync.Map
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Poll(ctx, 5*time.Millisecond, []Repository{testRepo}, func(_ context.Context, r Repository) error {
			prepared.Store(r.ID, true)
			return nil
		})
	}()

	select {
	case task := <-rec.ch:
		if task.Repository.ID != testRepo.ID {
			t.Errorf("Unexpected task for %q", task.Repository.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for poll")
	}
	cancel()
	<-done

	if _, ok := prepared.Load(testRepo.ID); !ok {
		t.Error("Expected prepare to run before detection")
	}
}

func TestIsRefChange(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"head written", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Write}, true},
		{"packed refs", fsnotify.Event{Name: "/r/.git/packed-refs", Op: fsnotify.Create}, true},
		{"branch renamed", fsnotify.Event{Name: "/r/.git/refs/heads/main", Op: fsnotify.Rename}, true},
		{"branch lock", fsnotify.Event{Name: "/r/.git/refs/heads/main.lock", Op: fsnotify.Create}, false},
		{"index", fsnotify.Event{Name: "/r/.git/index", Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Chmod}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRefChange(tt.ev); got != tt.want {
				t.Errorf("isRefChange(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}

func TestChangeDetector_Watch(t *testing.T) {
	gitDir := filepath.Join(t.TempDir(), ".git")
	if err := os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0755); err != nil {
		t.Fatalf("Failed to create git dir: %v", err)
	}

	f := newFixture(t, commit("1"))
	rec := newTaskRecorder()
	d := NewChangeDetector(&fakeOpener{history: f.history}, f.status, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, []WatchTarget{{Repository: testRepo, GitDir: gitDir}}, 10*time.Millisecond)
	}()

	// Give the watcher time to register before touching refs.
	time.Sleep(50 * time.Millisecond)
	for range 3 {
		if err := os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte("1\n"), 0644); err != nil {
			t.Fatalf("Failed to write ref: %v", err)
		}
	}

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for watch event")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}

func TestChangeDetector_CommitsLandingBeforeTaskRuns(t *testing.T) {
	repo := testkit.NewGitRepo(t)
	r := Repository{ID: "hog", Name: "hog", Path: repo.Dir}
	repo.Commit("initial towel")

	index := newTestBleveIndex(t)
	status := NewStatusStore(store.NewMemoryKV())
	opener := NewGitHistoryOpener(NewGitClient())
	syncer := NewSyncer(opener, index, status, nil)
	ctx := context.Background()

	if err := syncer.Synchronize(ctx, r, nil); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}

	repo.Commit("second babel fish")
	rec := newTaskRecorder()
	d := NewChangeDetector(opener, status, rec, nil)
	if err := d.Detect(ctx, r); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	tasks := rec.get()
	if len(tasks) != 1 || !tasks[0].CatchUp {
		t.Fatalf("Expected one catch-up task, got %+v", tasks)
	}

	third := repo.Commit("third vogon poetry")
	if err := syncer.CatchUp(ctx, tasks[0].Repository); err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}

	st, ok, err := status.Get(r)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if st.Revision != third {
		t.Errorf("Revision = %q, want %q", st.Revision, third)
	}
	count, err := index.CountRepository(ctx, r.ID)
	if err != nil {
		t.Fatalf("CountRepository failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Indexed %d commits, want 3", count)
	}
	res, err := index.Search(ctx, SearchRequest{Query: "vogon"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].CommitID != third {
		t.Errorf("Expected the third commit to be searchable, got %+v", res.Hits)
	}

	if err := d.Detect(ctx, r); err != nil {
		t.Fatalf("Follow-up Detect failed: %v", err)
	}
	if n := len(rec.get()); n != 1 {
		t.Errorf("Expected no further tasks once current, got %d", n-1)
	}
}
