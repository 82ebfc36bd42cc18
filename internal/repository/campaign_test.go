package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/foxzi/disparos/internal/models"
)

func TestCampaignCRUD(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)
	ctx := context.Background()

	c := &models.Campaign{UserID: "u1", Name: "Black Friday", Objective: "vendas", Description: "ofertas de novembro"}
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Status != models.CampaignStatusActive {
		t.Errorf("default status = %s", c.Status)
	}

	got, err := repo.GetOwned(ctx, "u1", c.ID)
	if err != nil {
		t.Fatalf("GetOwned failed: %v", err)
	}
	if got.Name != "Black Friday" || got.Stats != "{}" {
		t.Errorf("unexpected campaign %+v", got)
	}
	if _, err := repo.GetOwned(ctx, "u2", c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}

	c.Status = models.CampaignStatusPaused
	c.Name = "Black Friday 2026"
	if err := repo.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	list, total, err := repo.List(ctx, models.CampaignListFilter{UserID: "u1", Search: "2026"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || list[0].Status != models.CampaignStatusPaused {
		t.Errorf("List = %+v (%d)", list, total)
	}

	list, _, _ = repo.List(ctx, models.CampaignListFilter{UserID: "u1", Status: models.CampaignStatusActive})
	if len(list) != 0 {
		t.Errorf("status filter returned %d", len(list))
	}

	if err := repo.Delete(ctx, "u1", c.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "u1", c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCampaignDeleteInUse(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database)
	batches := NewBatchRepository(database)
	ctx := context.Background()

	c := &models.Campaign{UserID: "u1", Name: "Leads"}
	campaigns.Create(ctx, c)
	if err := batches.CreateAll(ctx, testBatches("u1", c.ID, 1)); err != nil {
		t.Fatal(err)
	}

	if err := campaigns.Delete(ctx, "u1", c.ID); !errors.Is(err, ErrCampaignInUse) {
		t.Errorf("expected ErrCampaignInUse, got %v", err)
	}
}
