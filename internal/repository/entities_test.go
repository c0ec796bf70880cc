package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEntityStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	budgets := []*domain.Budget{
		{ID: "B1", Name: "Trade 2026", Status: "active", Owner: "u1", TotalAmount: 100000, SpentAmount: 120000, StartDate: start, EndDate: end},
		{ID: "B2", Code: "BUD-2", Status: "approved", TotalAmount: 1000, SpentAmount: 100},
		{ID: "B3", Status: "closed", TotalAmount: 1000, SpentAmount: 1000},
	}
	for _, b := range budgets {
		if err := repo.SaveBudget(ctx, b); err != nil {
			t.Fatalf("SaveBudget failed: %v", err)
		}
	}

	t.Run("FindLiveEntities", func(t *testing.T) {
		live, err := repo.FindLiveEntities(ctx, domain.ModuleBudget, 10)
		if err != nil {
			t.Fatalf("FindLiveEntities failed: %v", err)
		}
		if len(live) != 2 {
			t.Fatalf("expected 2 live budgets, got %d", len(live))
		}
		b, ok := live[0].(*domain.Budget)
		if !ok || b.ID != "B1" {
			t.Fatalf("expected *Budget B1, got %T", live[0])
		}
		if !b.StartDate.Equal(start) || !b.EndDate.Equal(end) {
			t.Errorf("dates did not round-trip: %v %v", b.StartDate, b.EndDate)
		}
		if live[1].DisplayName() != "BUD-2" {
			t.Errorf("expected code fallback, got %s", live[1].DisplayName())
		}
		if !live[1].(*domain.Budget).StartDate.IsZero() {
			t.Error("NULL dates must scan as zero time")
		}

		limited, _ := repo.FindLiveEntities(ctx, domain.ModuleBudget, 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("FindEntityByID", func(t *testing.T) {
		e, err := repo.FindEntityByID(ctx, domain.ModuleBudget, "B3")
		if err != nil {
			t.Fatalf("FindEntityByID failed: %v", err)
		}
		if e.EntityID() != "B3" {
			t.Errorf("expected B3, got %s", e.EntityID())
		}

		if _, err := repo.FindEntityByID(ctx, domain.ModuleBudget, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.FindEntityByID(ctx, "invoices", "B1"); !errors.Is(err, domain.ErrUnknownModule) {
			t.Errorf("expected ErrUnknownModule, got %v", err)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		b := *budgets[1]
		b.SpentAmount = 900
		if err := repo.SaveBudget(ctx, &b); err != nil {
			t.Fatalf("SaveBudget failed: %v", err)
		}
		e, _ := repo.FindEntityByID(ctx, domain.ModuleBudget, "B2")
		if e.(*domain.Budget).SpentAmount != 900 {
			t.Errorf("expected updated spend, got %.2f", e.(*domain.Budget).SpentAmount)
		}
	})

	t.Run("AllModules", func(t *testing.T) {
		must := func(err error) {
			t.Helper()
			if err != nil {
				t.Fatal(err)
			}
		}
		must(repo.SavePromotion(ctx, &domain.Promotion{ID: "P1", Status: "active", CustomerID: "CU1", ProductID: "SKU1", StartDate: start, EndDate: end}))
		must(repo.SaveClaim(ctx, &domain.Claim{ID: "C1", Number: "CLM-1", Status: "pending", CustomerID: "CU1", Amount: 10, DocumentCount: 2, SubmittedAt: start}))
		must(repo.SaveDeduction(ctx, &domain.Deduction{ID: "D1", Number: "DED-1", Status: "open", CustomerID: "CU1", Amount: 10, DeductionDate: start}))
		must(repo.SaveTradeSpend(ctx, &domain.TradeSpend{ID: "T1", Code: "TS-1", Status: "active", CustomerID: "CU1", Amount: 10, PeriodStart: start, PeriodEnd: end}))
		must(repo.SaveKAMWallet(ctx, &domain.KAMWallet{ID: "W1", Name: "North", Status: "active", AllocatedAmount: 10, ExpiryDate: end}))

		for _, m := range domain.Modules {
			live, err := repo.FindLiveEntities(ctx, m, 10)
			if err != nil {
				t.Fatalf("%s: %v", m, err)
			}
			if len(live) == 0 {
				t.Errorf("%s: expected live entities", m)
			}
		}

		e, _ := repo.FindEntityByID(ctx, domain.ModuleClaim, "C1")
		if c := e.(*domain.Claim); c.DocumentCount != 2 || c.DisplayName() != "CLM-1" {
			t.Errorf("claim did not round-trip: %+v", c)
		}
	})
}

func TestStatsSource(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("AverageBudgetUtilization", func(t *testing.T) {
		avg, n, err := repo.AverageBudgetUtilization(ctx)
		if err != nil || n != 0 || avg != 0 {
			t.Fatalf("expected empty average, got %v %d %v", avg, n, err)
		}

		_ = repo.SaveBudget(ctx, &domain.Budget{ID: "B1", Status: "active", TotalAmount: 100, SpentAmount: 20})
		_ = repo.SaveBudget(ctx, &domain.Budget{ID: "B2", Status: "approved", TotalAmount: 100, SpentAmount: 60})
		_ = repo.SaveBudget(ctx, &domain.Budget{ID: "B3", Status: "closed", TotalAmount: 100, SpentAmount: 100})
		_ = repo.SaveBudget(ctx, &domain.Budget{ID: "B4", Status: "active", TotalAmount: 0, SpentAmount: 50})

		avg, n, err = repo.AverageBudgetUtilization(ctx)
		if err != nil {
			t.Fatalf("AverageBudgetUtilization failed: %v", err)
		}
		if n != 2 || domain.Round2(avg) != 0.4 {
			t.Errorf("expected 0.4 over 2 budgets, got %v over %d", avg, n)
		}
	})

	t.Run("CountOverlappingPromotions", func(t *testing.T) {
		p := &domain.Promotion{ID: "P1", Status: "active", CustomerID: "CU1", ProductID: "SKU1",
			StartDate: jan, EndDate: jan.AddDate(0, 1, 0)}
		others := []*domain.Promotion{
			{ID: "P2", Status: "approved", CustomerID: "CU1", ProductID: "SKU1", StartDate: jan.AddDate(0, 0, 15), EndDate: jan.AddDate(0, 2, 0)},
			{ID: "P3", Status: "active", CustomerID: "CU1", ProductID: "SKU1", StartDate: jan.AddDate(0, 3, 0), EndDate: jan.AddDate(0, 4, 0)},
			{ID: "P4", Status: "cancelled", CustomerID: "CU1", ProductID: "SKU1", StartDate: jan, EndDate: jan.AddDate(0, 1, 0)},
			{ID: "P5", Status: "active", CustomerID: "CU2", ProductID: "SKU1", StartDate: jan, EndDate: jan.AddDate(0, 1, 0)},
		}
		for _, o := range append(others, p) {
			if err := repo.SavePromotion(ctx, o); err != nil {
				t.Fatalf("SavePromotion failed: %v", err)
			}
		}

		n, err := repo.CountOverlappingPromotions(ctx, p)
		if err != nil {
			t.Fatalf("CountOverlappingPromotions failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected only P2 to overlap, got %d", n)
		}

		undated := &domain.Promotion{ID: "P9", CustomerID: "CU1", ProductID: "SKU1"}
		if n, _ := repo.CountOverlappingPromotions(ctx, undated); n != 0 {
			t.Errorf("undated promotion cannot overlap, got %d", n)
		}
	})

	t.Run("CustomerClaimStats", func(t *testing.T) {
		statuses := []string{"approved", "rejected", "pending", "invalid"}
		for i, st := range statuses {
			c := &domain.Claim{ID: "C" + st, Status: st, CustomerID: "CU1", Amount: float64((i + 1) * 100)}
			if err := repo.SaveClaim(ctx, c); err != nil {
				t.Fatalf("SaveClaim failed: %v", err)
			}
		}

		s, err := repo.CustomerClaimStats(ctx, "CU1")
		if err != nil {
			t.Fatalf("CustomerClaimStats failed: %v", err)
		}
		if s.Count != 4 || s.AverageAmount != 250 || s.InvalidRate != 0.5 {
			t.Errorf("unexpected stats %+v", s)
		}

		empty, _ := repo.CustomerClaimStats(ctx, "nobody")
		if empty.Count != 0 || empty.InvalidRate != 0 {
			t.Errorf("expected empty stats, got %+v", empty)
		}
	})

	t.Run("CustomerDeductionStats", func(t *testing.T) {
		_ = repo.SaveDeduction(ctx, &domain.Deduction{ID: "D1", Status: "open", CustomerID: "CU1", Amount: 100})
		_ = repo.SaveDeduction(ctx, &domain.Deduction{ID: "D2", Status: "closed", CustomerID: "CU1", Amount: 300})

		s, err := repo.CustomerDeductionStats(ctx, "CU1")
		if err != nil {
			t.Fatalf("CustomerDeductionStats failed: %v", err)
		}
		if s.Count != 2 || s.AverageAmount != 200 {
			t.Errorf("unexpected stats %+v", s)
		}
	})

	t.Run("NetSales", func(t *testing.T) {
		_, found, err := repo.NetSales(ctx, "CU1", jan, jan.AddDate(0, 1, 0))
		if err != nil || found {
			t.Fatalf("expected no sales, got found=%v err=%v", found, err)
		}

		_ = repo.SaveSale(ctx, "S1", "CU1", jan.AddDate(0, 0, 5), 1000)
		_ = repo.SaveSale(ctx, "S2", "CU1", jan.AddDate(0, 0, 10), 500)
		_ = repo.SaveSale(ctx, "S3", "CU1", jan.AddDate(0, 2, 0), 9999)
		_ = repo.SaveSale(ctx, "S4", "CU2", jan.AddDate(0, 0, 5), 9999)

		total, found, err := repo.NetSales(ctx, "CU1", jan, jan.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("NetSales failed: %v", err)
		}
		if !found || total != 1500 {
			t.Errorf("expected 1500, got %v (found=%v)", total, found)
		}
	})
}
