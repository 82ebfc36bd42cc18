package dispatch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/foxzi/disparos/internal/contacts"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/repository"
)

func TestImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)

	data := contacts.GenerateExamples(7)
	data.Rows = append(data.Rows,
		map[string]string{"Nome": "Sem contato"},
		data.Rows[0],
	)

	result, err := h.dispatcher.Import(ctx, "u1", ImportRequest{
		CampaignID: c.ID,
		Data:       data,
		Mapping:    contacts.ExampleMapping,
		BatchSize:  3,
		Origin:     models.SheetOriginURL,
		Source:     "https://docs.google.com/spreadsheets/d/abc",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := contacts.Stats{Total: 9, Valid: 7, Invalid: 1, Duplicates: 1}
	if result.Stats != want {
		t.Errorf("stats = %+v, want %+v", result.Stats, want)
	}
	if len(result.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(result.Batches))
	}

	stored, total, err := h.batches.List(ctx, models.BatchListFilter{UserID: "u1", CampaignID: c.ID})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("stored = %d", total)
	}
	for _, b := range stored {
		if b.Status != models.BatchStatusReady {
			t.Errorf("batch %d status = %s", b.BlockNumber, b.Status)
		}
		if b.ImportID != stored[0].ImportID {
			t.Error("batches of one import must share the import ID")
		}
		if b.SheetMeta.TotalRows != 9 || b.SheetMeta.Origin != models.SheetOriginURL {
			t.Errorf("sheet meta = %+v", b.SheetMeta)
		}
	}
}

func TestImportErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)

	_, err := h.dispatcher.Import(ctx, "u2", ImportRequest{
		CampaignID: c.ID,
		Data:       contacts.GenerateExamples(3),
		Mapping:    contacts.ExampleMapping,
		BatchSize:  10,
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("foreign campaign: err = %v", err)
	}

	_, err = h.dispatcher.Import(ctx, "u1", ImportRequest{
		CampaignID: c.ID,
		Data:       contacts.GenerateExamples(3),
		Mapping:    contacts.ExampleMapping,
		BatchSize:  51,
	})
	if !errors.Is(err, contacts.ErrInvalidBatchSize) {
		t.Errorf("batch size 51: err = %v", err)
	}

	_, err = h.dispatcher.Import(ctx, "u1", ImportRequest{CampaignID: c.ID, BatchSize: 10})
	if err == nil {
		t.Error("expected error without data")
	}
}

func TestSendNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)
	b := h.importBatches("u1", c.ID, 10, 50)[0]

	out, err := h.dispatcher.SendNow(ctx, "u1", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.BatchStatusSent || out.ResponseStatus != http.StatusOK {
		t.Errorf("outcome = %+v", out)
	}
	if s := h.status(b.ID); s != models.BatchStatusSent {
		t.Errorf("status = %s", s)
	}

	// Sent is terminal
	_, err = h.dispatcher.SendNow(ctx, "u1", b.ID)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("resend: err = %v", err)
	}

	_, err = h.dispatcher.SendNow(ctx, "u2", b.ID)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("foreign batch: err = %v", err)
	}
}

func TestSendNowFailureThenReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)
	b := h.importBatches("u1", c.ID, 10, 50)[0]

	h.hookStatus.Store(http.StatusBadGateway)
	out, err := h.dispatcher.SendNow(ctx, "u1", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.BatchStatusError || out.ResponseStatus != http.StatusBadGateway {
		t.Errorf("outcome = %+v", out)
	}

	// Error batches go back to ready, never straight to sending
	if _, err := h.dispatcher.SendNow(ctx, "u1", b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("send from error: err = %v", err)
	}

	reset, err := h.dispatcher.Reset(ctx, "u1", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reset.Status != models.BatchStatusReady {
		t.Errorf("status after reset = %s", reset.Status)
	}

	h.hookStatus.Store(http.StatusOK)
	out, err = h.dispatcher.SendNow(ctx, "u1", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.BatchStatusSent {
		t.Errorf("retry outcome = %+v", out)
	}
	if entries := h.historyOf("u1"); len(entries) != 2 {
		t.Errorf("history entries = %d, want 2", len(entries))
	}
}

func TestScheduleAndUnschedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)
	b := h.importBatches("u1", c.ID, 10, 50)[0]

	if _, err := h.dispatcher.Schedule(ctx, "u1", b.ID, time.Now().Add(-time.Second)); !errors.Is(err, ErrScheduleInPast) {
		t.Errorf("past schedule: err = %v", err)
	}

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	scheduled, err := h.dispatcher.Schedule(ctx, "u1", b.ID, at)
	if err != nil {
		t.Fatal(err)
	}
	if scheduled.Status != models.BatchStatusScheduled || scheduled.ScheduledAt == nil || !scheduled.ScheduledAt.Equal(at) {
		t.Errorf("scheduled batch = %+v", scheduled)
	}

	// Already scheduled
	if _, err := h.dispatcher.Schedule(ctx, "u1", b.ID, at); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("double schedule: err = %v", err)
	}
	if _, err := h.dispatcher.Reset(ctx, "u1", b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("reset scheduled: err = %v", err)
	}

	ready, err := h.dispatcher.Unschedule(ctx, "u1", b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ready.Status != models.BatchStatusReady || ready.ScheduledAt != nil {
		t.Errorf("unscheduled batch = %+v", ready)
	}

	if _, err := h.dispatcher.Unschedule(ctx, "u1", b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("unschedule ready: err = %v", err)
	}
}

func TestUnscheduleAfterClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)
	b := h.importBatches("u1", c.ID, 10, 50)[0]
	h.scheduleDue(b)

	ok, err := h.batches.Claim(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}

	if _, err := h.dispatcher.Unschedule(ctx, "u1", b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("unschedule sending: err = %v", err)
	}
	if err := h.dispatcher.Delete(ctx, "u1", b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("delete sending: err = %v", err)
	}
	if s := h.status(b.ID); s != models.BatchStatusSending {
		t.Errorf("status = %s", s)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.setupUser("u1", 500)
	b := h.importBatches("u1", c.ID, 10, 50)[0]

	if err := h.dispatcher.Delete(ctx, "u2", b.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("foreign delete: err = %v", err)
	}
	if err := h.dispatcher.Delete(ctx, "u1", b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.dispatcher.GetBatch(ctx, "u1", b.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetBatch after delete: err = %v", err)
	}
}
