package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"hearth/internal/domain"
	"hearth/internal/repository"
)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

var base = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

func TestRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LastRun(ctx)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("LastRun on empty db = %v, want ErrNotFound", err)
	}

	first := &domain.ReplicationRun{
		ID:         "run-1",
		Source:     "3rdgen:/srv/media/",
		Command:    []string{"rsync", "-aH", "--delete", "3rdgen:/srv/media/", "/srv/media/"},
		Status:     domain.RunSuccess,
		Stats:      domain.TransferStats{Files: 1200, FilesTransferred: 3, TransferredSize: 4 << 30},
		StartedAt:  base,
		FinishedAt: ptr(base.Add(12 * time.Minute)),
	}
	second := &domain.ReplicationRun{
		ID:        "run-2",
		Source:    "3rdgen:/srv/media/",
		Command:   []string{"rsync"},
		DryRun:    true,
		Status:    domain.RunRunning,
		StartedAt: base.Add(24 * time.Hour),
	}
	assertNoError(t, repo.SaveRun(ctx, first))
	assertNoError(t, repo.SaveRun(ctx, second))

	last, err := repo.LastRun(ctx)
	assertNoError(t, err)
	if last.ID != "run-2" || last.FinishedAt != nil || !last.DryRun {
		t.Errorf("LastRun = %+v", last)
	}

	// Finishing the run updates the same row.
	second.Status = domain.RunFailed
	second.ExitCode = 23
	second.Error = "partial transfer due to error"
	second.FinishedAt = ptr(base.Add(24*time.Hour + time.Minute))
	assertNoError(t, repo.SaveRun(ctx, second))

	runs, err := repo.ListRuns(ctx, 0)
	assertNoError(t, err)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if !reflect.DeepEqual(runs[0], *second) {
		t.Errorf("runs[0] = %+v\nwant %+v", runs[0], *second)
	}
	if !reflect.DeepEqual(runs[1], *first) {
		t.Errorf("runs[1] = %+v\nwant %+v", runs[1], *first)
	}

	limited, err := repo.ListRuns(ctx, 1)
	assertNoError(t, err)
	if len(limited) != 1 || limited[0].ID != "run-2" {
		t.Errorf("ListRuns(1) = %+v", limited)
	}
}

func TestTranscodeJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jobs := []domain.TranscodeJob{
		{ID: "a", BatchID: "b1", Source: "/in/a.avi", Destination: "4thgen:/srv/media/movies/a.mkv",
			Encoder: "libx264", Status: domain.JobSuccess, StartedAt: base, FinishedAt: ptr(base.Add(time.Minute))},
		{ID: "b", BatchID: "b1", Source: "/in/b.mkv", Destination: "4thgen:/srv/media/movies/b.mkv",
			Encoder: "h264_nvenc", Subtitles: true, Status: domain.JobFailed, Error: "ffmpeg exited 1",
			StartedAt: base.Add(2 * time.Minute), FinishedAt: ptr(base.Add(3 * time.Minute))},
	}
	for i := range jobs {
		assertNoError(t, repo.SaveTranscodeJob(ctx, &jobs[i]))
	}

	got, err := repo.ListTranscodeJobs(ctx, 10)
	assertNoError(t, err)
	want := []domain.TranscodeJob{jobs[1], jobs[0]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	wan := &domain.Alert{
		Key:     domain.AlertKey(domain.KindWAN, "uplink"),
		Kind:    domain.KindWAN,
		Subject: "uplink",
		Message: "all targets unreachable",
		FiredAt: base,
		Count:   1,
	}
	smart := &domain.Alert{
		Key:        domain.AlertKey(domain.KindSMART, "3rdgen:/dev/sda"),
		Kind:       domain.KindSMART,
		Subject:    "3rdgen:/dev/sda",
		Message:    "FAILED",
		FiredAt:    base.Add(time.Hour),
		NotifiedAt: ptr(base.Add(time.Hour)),
		Count:      1,
	}
	assertNoError(t, repo.UpsertAlert(ctx, wan))
	assertNoError(t, repo.UpsertAlert(ctx, smart))

	wan.Count = 4
	wan.NotifiedAt = ptr(base.Add(time.Minute))
	wan.ResolvedAt = ptr(base.Add(2 * time.Hour))
	assertNoError(t, repo.UpsertAlert(ctx, wan))

	// The same key firing again is a new alert.
	again := *wan
	again.FiredAt = base.Add(3 * time.Hour)
	again.NotifiedAt, again.ResolvedAt, again.Count = nil, nil, 1
	assertNoError(t, repo.UpsertAlert(ctx, &again))

	all, err := repo.ListAlerts(ctx, false)
	assertNoError(t, err)
	if len(all) != 3 {
		t.Fatalf("got %d alerts, want 3: %+v", len(all), all)
	}
	if !reflect.DeepEqual(all[0], *wan) {
		t.Errorf("all[0] = %+v\nwant %+v", all[0], *wan)
	}

	active, err := repo.ListAlerts(ctx, true)
	assertNoError(t, err)
	if len(active) != 2 || active[0].Key != smart.Key || active[1].FiredAt != again.FiredAt {
		t.Errorf("active = %+v", active)
	}
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "hearth.db")
	repo, err := New(path)
	assertNoError(t, err)
	assertNoError(t, repo.SaveRun(context.Background(), &domain.ReplicationRun{
		ID: "r", Source: "s", Status: domain.RunSuccess, StartedAt: base,
	}))
	assertNoError(t, repo.Close())

	repo, err = New(path)
	assertNoError(t, err)
	defer repo.Close()
	run, err := repo.LastRun(context.Background())
	assertNoError(t, err)
	if run.ID != "r" || run.Command != nil {
		t.Errorf("reopened run = %+v", run)
	}
}
