package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kimhsiao/shule/backend/internal/db"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/uuid"
)

func newTestQueue(t *testing.T) (*Queue, *db.Repository) {
	t.Helper()
	conn, err := db.Open(t.TempDir(), "queue.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := db.NewRepository(conn)
	return New(repo, DefaultConfig(), nil), repo
}

// TestBackoff tests exponential backoff with a cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},
		{10, time.Hour},
		{64, time.Hour},
		{-1, time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.retries, time.Minute, time.Hour); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

// TestEnqueue tests that items are persisted with ids in creation order.
func TestEnqueue(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.OpCreate, models.CollectionLearners, "L123", json.RawMessage(`{"id":"L123"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := q.Enqueue(ctx, models.OpDelete, models.CollectionLearners, "L9", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct ids, got %q and %q", first.ID, second.ID)
	}

	stored, err := repo.GetQueueItem(ctx, first.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetQueueItem: %v, %v", stored, err)
	}
	if stored.Synced {
		t.Error("new item must be unsynced")
	}

	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %+v", pending)
	}
}

// TestEnqueueRejectsInvalid tests input validation.
func TestEnqueueRejectsInvalid(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	cases := []*models.SyncQueueItem{
		nil,
		{Operation: "upsert", Collection: "learners", RecordKey: "a", Payload: json.RawMessage(`{}`)},
		{Operation: models.OpCreate, Collection: "classes", RecordKey: "a", Payload: json.RawMessage(`{}`)},
		{Operation: models.OpCreate, Collection: "learners", Payload: json.RawMessage(`{}`)},
		{Operation: models.OpUpdate, Collection: "learners", RecordKey: "a", Payload: json.RawMessage(`{`)},
		{ID: "item-1", Operation: models.OpDelete, Collection: "learners", RecordKey: "a"},
	}
	for i, item := range cases {
		if err := q.Add(ctx, item); !apperrors.Is(err, apperrors.ErrInvalid) {
			t.Errorf("case %d: expected INVALID_INPUT, got %v", i, err)
		}
	}

	preset := &models.SyncQueueItem{ID: uuid.New(), Operation: models.OpDelete, Collection: "learners", RecordKey: "a"}
	if err := q.Add(ctx, preset); err != nil {
		t.Errorf("Add with preset uuid failed: %v", err)
	}
}

// TestMarkFailedSchedulesRetry tests retry bookkeeping.
func TestMarkFailedSchedulesRetry(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	item, err := q.Enqueue(ctx, models.OpUpdate, models.CollectionGrades, "G1", json.RawMessage(`{"id":"G1"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.MarkFailed(ctx, item, errors.New("503 from remote")); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if item.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", item.RetryCount)
	}
	if want := now.Add(2 * time.Minute).UnixMilli(); item.NextRetryAt != want {
		t.Errorf("expected next retry %d, got %d", want, item.NextRetryAt)
	}
	if item.Due(now) {
		t.Error("item should wait out its backoff")
	}

	stored, _ := repo.GetQueueItem(ctx, item.ID)
	if stored.LastError != "503 from remote" || stored.Synced {
		t.Errorf("unexpected stored item: %+v", stored)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Failing != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	n, err := q.ResetRetries(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRetries = %d, %v", n, err)
	}
	stored, _ = repo.GetQueueItem(ctx, item.ID)
	if !stored.Due(now) {
		t.Error("reset item should be due")
	}
}

// TestMarkSyncedAndPurge tests completion and retention.
func TestMarkSyncedAndPurge(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	start := time.Now().Add(-48 * time.Hour)
	q.now = func() time.Time { return start }

	item, err := q.Enqueue(ctx, models.OpCreate, models.CollectionStreams, "S1", json.RawMessage(`{"id":"S1"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkSynced(ctx, item); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	if !item.Synced || item.SyncedAt == nil {
		t.Error("item should be flagged synced")
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending items, got %d", len(pending))
	}

	q.now = time.Now
	n, err := q.PurgeSynced(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("PurgeSynced = %d, %v", n, err)
	}
	stats, _ := q.Stats(ctx)
	if stats.Total != 0 {
		t.Errorf("expected empty queue, got %+v", stats)
	}
}

// TestPendingKeys tests per-collection pending lookup.
func TestPendingKeys(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, models.OpUpdate, models.CollectionLearners, "L1", json.RawMessage(`{"id":"L1"}`))
	q.Enqueue(ctx, models.OpUpdate, models.CollectionLearners, "L1", json.RawMessage(`{"id":"L1"}`))
	q.Enqueue(ctx, models.OpUpdate, models.CollectionGrades, "G1", json.RawMessage(`{"id":"G1"}`))

	keys, err := q.PendingKeys(ctx, models.CollectionLearners)
	if err != nil {
		t.Fatalf("PendingKeys failed: %v", err)
	}
	if len(keys) != 1 || keys["L1"].ID != a.ID {
		t.Errorf("expected oldest L1 item, got %+v", keys)
	}

	has, err := q.HasPending(ctx, models.CollectionGrades, "G1")
	if err != nil || !has {
		t.Errorf("HasPending(G1) = %v, %v", has, err)
	}
	has, _ = q.HasPending(ctx, models.CollectionGrades, "G2")
	if has {
		t.Error("HasPending(G2) should be false")
	}
}
