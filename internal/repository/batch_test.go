package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/disparos/internal/models"
)

func TestBatchCreateAndGet(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 3)
	if err := repo.CreateAll(ctx, batches); err != nil {
		t.Fatalf("CreateAll failed: %v", err)
	}

	importID := batches[0].ImportID
	for _, b := range batches {
		if b.ID == "" {
			t.Error("expected ID to be assigned")
		}
		if b.ImportID != importID {
			t.Errorf("batches of one import must share ImportID, got %s and %s", b.ImportID, importID)
		}
		if b.Status != models.BatchStatusReady {
			t.Errorf("expected status ready, got %s", b.Status)
		}
	}

	got, err := repo.GetByID(ctx, batches[1].ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.BlockNumber != 2 {
		t.Errorf("BlockNumber = %d, want 2", got.BlockNumber)
	}
	if got.Range != (models.Range{Start: 3, End: 4}) {
		t.Errorf("Range = %+v", got.Range)
	}
	if len(got.Contacts) != 2 || got.Contacts[0].Email != "ana@example.com" {
		t.Errorf("contacts not round-tripped: %+v", got.Contacts)
	}
	if got.Contacts[1].Extras["Cidade"] != "SP" {
		t.Errorf("extras not round-tripped: %+v", got.Contacts[1].Extras)
	}
	if got.SheetMeta.FilenameOrURL != "leads.csv" {
		t.Errorf("sheet meta not round-tripped: %+v", got.SheetMeta)
	}
	if got.ColumnMapping.Phone != "Telefone" {
		t.Errorf("column mapping not round-tripped: %+v", got.ColumnMapping)
	}
	if got.ScheduledAt != nil {
		t.Error("expected no scheduled time")
	}
}

func TestBatchGetOwned(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 1)
	if err := repo.CreateAll(ctx, batches); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.GetOwned(ctx, "u1", batches[0].ID); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	if _, err := repo.GetOwned(ctx, "u2", batches[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchList(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.CreateAll(ctx, testBatches("u1", "c1", 3)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateAll(ctx, testBatches("u1", "c2", 2)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateAll(ctx, testBatches("u2", "c3", 4)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter models.BatchListFilter
		total  int
		page   int
	}{
		{"all of user", models.BatchListFilter{UserID: "u1"}, 5, 5},
		{"by campaign", models.BatchListFilter{UserID: "u1", CampaignID: "c2"}, 2, 2},
		{"paged", models.BatchListFilter{UserID: "u2", Limit: 3}, 4, 3},
		{"by status", models.BatchListFilter{UserID: "u1", Status: models.BatchStatusSent}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, total, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
			if len(batches) != tt.page {
				t.Errorf("len = %d, want %d", len(batches), tt.page)
			}
		})
	}
}

func TestBatchLifecycle(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 1)
	if err := repo.CreateAll(ctx, batches); err != nil {
		t.Fatal(err)
	}
	id := batches[0].ID
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	// Only the owner can schedule
	if ok, _ := repo.Schedule(ctx, "u2", id, at); ok {
		t.Error("foreign user must not schedule")
	}
	if ok, err := repo.Schedule(ctx, "u1", id, at); err != nil || !ok {
		t.Fatalf("Schedule = %v, %v", ok, err)
	}

	b, _ := repo.GetByID(ctx, id)
	if b.Status != models.BatchStatusScheduled {
		t.Errorf("status = %s, want scheduled", b.Status)
	}
	if b.ScheduledAt == nil || !b.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt = %v, want %v", b.ScheduledAt, at)
	}

	// Scheduling twice fails, the batch is no longer ready
	if ok, _ := repo.Schedule(ctx, "u1", id, at); ok {
		t.Error("expected second Schedule to be refused")
	}

	if ok, err := repo.Unschedule(ctx, "u1", id); err != nil || !ok {
		t.Fatalf("Unschedule = %v, %v", ok, err)
	}
	b, _ = repo.GetByID(ctx, id)
	if b.Status != models.BatchStatusReady || b.ScheduledAt != nil {
		t.Errorf("after Unschedule: status %s, scheduled %v", b.Status, b.ScheduledAt)
	}

	if ok, err := repo.ClaimReady(ctx, "u1", id); err != nil || !ok {
		t.Fatalf("ClaimReady = %v, %v", ok, err)
	}

	// A batch being sent cannot be deleted
	if ok, _ := repo.Delete(ctx, "u1", id); ok {
		t.Error("expected Delete of sending batch to be refused")
	}

	if err := repo.UpdateStatus(ctx, id, models.BatchStatusError); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if ok, err := repo.Reset(ctx, "u1", id); err != nil || !ok {
		t.Fatalf("Reset = %v, %v", ok, err)
	}
	b, _ = repo.GetByID(ctx, id)
	if b.Status != models.BatchStatusReady {
		t.Errorf("after Reset: status %s", b.Status)
	}

	if ok, err := repo.Delete(ctx, "u1", id); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, err := repo.GetByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := repo.UpdateStatus(ctx, id, models.BatchStatusSent); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDueScheduled(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 3)
	if err := repo.CreateAll(ctx, batches); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	repo.Schedule(ctx, "u1", batches[0].ID, now.Add(-time.Minute))
	repo.Schedule(ctx, "u1", batches[1].ID, now.Add(time.Hour))

	due, err := repo.ListDueScheduled(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDueScheduled failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != batches[0].ID {
		t.Fatalf("expected only the past batch, got %d", len(due))
	}

	due, _ = repo.ListDueScheduled(ctx, now.Add(2*time.Hour), 0)
	if len(due) != 2 {
		t.Errorf("expected 2 due batches later on, got %d", len(due))
	}
}

func TestClaimOnlyOnce(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 1)
	if err := repo.CreateAll(ctx, batches); err != nil {
		t.Fatal(err)
	}
	id := batches[0].ID
	repo.Schedule(ctx, "u1", id, time.Now().UTC().Add(-time.Second))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, id)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins)
	}

	b, _ := repo.GetByID(ctx, id)
	if b.Status != models.BatchStatusSending {
		t.Errorf("status = %s, want sending", b.Status)
	}
}

func TestCountByCampaign(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	repo.CreateAll(ctx, testBatches("u1", "c1", 3))

	n, err := repo.CountByCampaign(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountByCampaign = %d, want 3", n)
	}
}

func TestCountByStatus(t *testing.T) {
	repo := NewBatchRepository(setupTestDB(t))
	ctx := context.Background()

	batches := testBatches("u1", "c1", 3)
	repo.CreateAll(ctx, batches)
	repo.Schedule(ctx, "u1", batches[0].ID, time.Now().Add(time.Hour))

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["ready"] != 2 || counts["scheduled"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
