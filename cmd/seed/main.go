// Seed tool for loading demo trade-spend data into Kestrel's store.
//
// Usage:
//   go run cmd/seed/main.go -config kestrel.yaml -count 50 -url http://localhost:8080
//
// This tool:
//   1. Writes budgets, promotions, claims, deductions, trade spend, wallets and sales
//   2. Optionally asks a running Kestrel to run a full scan
//   3. Prints the resulting insight summary by severity and status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Counts tracks how many rows of each kind were written
type Counts struct {
	Budgets    int
	Promotions int
	Claims     int
	Deductions int
	TradeSpend int
	Wallets    int
	Sales      int
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to a Kestrel config file")
	count := flag.Int("count", 25, "Entities to create per module")
	seed := flag.Uint64("seed", 42, "Random seed for reproducible data")
	baseURL := flag.String("url", "", "Kestrel base URL; when set, a scan is triggered after seeding")
	actor := flag.String("actor", "seed", "X-User-ID sent with the scan request")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL SEED - Demo Trade Spend Data             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nDriver:      %s\n", cfg.Repository.Driver)
	fmt.Printf("Per module:  %d\n", *count)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Printf("ERROR: Failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	counts, err := seedAll(ctx, repo, *count, rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)), time.Now().UTC())
	if err != nil {
		fmt.Printf("ERROR: Seeding failed: %v\n", err)
		os.Exit(1)
	}
	printCounts(counts, time.Since(start))

	if *baseURL == "" {
		return
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	if err := runScan(client, *baseURL, *actor); err != nil {
		fmt.Printf("ERROR: Scan failed: %v\n", err)
		os.Exit(1)
	}
	if err := printSummary(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Failed to fetch summary: %v\n", err)
		os.Exit(1)
	}
}

func seedAll(ctx context.Context, repo *repository.SQLRepository, n int, rng *rand.Rand, now time.Time) (Counts, error) {
	var c Counts
	day := 24 * time.Hour

	// Budgets: a share overspend, a share sit idle
	for i := range n {
		total := float64(50000 + rng.IntN(200000))
		spent := total * (0.05 + rng.Float64()*1.2)
		b := &domain.Budget{
			ID:          fmt.Sprintf("BUD-%04d", i),
			Name:        fmt.Sprintf("Budget %d", i),
			Code:        fmt.Sprintf("B%04d", i),
			Status:      pick(rng, "active", "approved", "closed"),
			Owner:       owner(rng),
			TotalAmount: total,
			SpentAmount: spent,
			StartDate:   now.Add(-time.Duration(30+rng.IntN(120)) * day),
			EndDate:     now.Add(time.Duration(5+rng.IntN(180)) * day),
		}
		if err := repo.SaveBudget(ctx, b); err != nil {
			return c, fmt.Errorf("save budget %s: %w", b.ID, err)
		}
		c.Budgets++
	}

	customers := make([]string, max(1, n/5))
	for i := range customers {
		customers[i] = fmt.Sprintf("CUST-%03d", i)
	}

	// Promotions share customers and products so some overlap
	for i := range n {
		planned := float64(10000 + rng.IntN(90000))
		volume := float64(1000 + rng.IntN(9000))
		startAt := now.Add(-time.Duration(rng.IntN(60)) * day)
		p := &domain.Promotion{
			ID:                 fmt.Sprintf("PRM-%04d", i),
			Name:               fmt.Sprintf("Promotion %d", i),
			Code:               fmt.Sprintf("P%04d", i),
			Status:             pick(rng, "draft", "approved", "active", "completed"),
			Owner:              owner(rng),
			CustomerID:         customers[rng.IntN(len(customers))],
			ProductID:          fmt.Sprintf("SKU-%02d", rng.IntN(5)),
			BudgetID:           fmt.Sprintf("BUD-%04d", rng.IntN(n)),
			PlannedSpend:       planned,
			ActualSpend:        planned * (0.3 + rng.Float64()),
			PlannedVolume:      volume,
			ActualVolume:       volume * (0.2 + rng.Float64()),
			IncrementalRevenue: planned * rng.Float64() * 2,
			StartDate:          startAt,
			EndDate:            startAt.Add(time.Duration(14+rng.IntN(60)) * day),
		}
		if err := repo.SavePromotion(ctx, p); err != nil {
			return c, fmt.Errorf("save promotion %s: %w", p.ID, err)
		}
		c.Promotions++
	}

	// Claims with the occasional outlier and missing documents
	for i := range n {
		amount := float64(500 + rng.IntN(5000))
		if rng.IntN(10) == 0 {
			amount *= 5
		}
		cl := &domain.Claim{
			ID:             fmt.Sprintf("CLM-%04d", i),
			Number:         fmt.Sprintf("CL-%05d", i),
			Status:         pick(rng, "pending", "submitted", "under_review", "rejected", "invalid", "approved"),
			Owner:          owner(rng),
			CustomerID:     customers[rng.IntN(len(customers))],
			PromotionID:    fmt.Sprintf("PRM-%04d", rng.IntN(n)),
			Amount:         amount,
			ApprovedAmount: amount * rng.Float64(),
			DocumentCount:  rng.IntN(3),
			SubmittedAt:    now.Add(-time.Duration(rng.IntN(90)) * day),
		}
		if err := repo.SaveClaim(ctx, cl); err != nil {
			return c, fmt.Errorf("save claim %s: %w", cl.ID, err)
		}
		c.Claims++
	}

	for i := range n {
		amount := float64(200 + rng.IntN(4000))
		d := &domain.Deduction{
			ID:            fmt.Sprintf("DED-%04d", i),
			Number:        fmt.Sprintf("DD-%05d", i),
			Status:        pick(rng, "open", "pending", "under_review", "resolved"),
			Owner:         owner(rng),
			CustomerID:    customers[rng.IntN(len(customers))],
			Amount:        amount,
			MatchedAmount: amount * rng.Float64(),
			DeductionDate: now.Add(-time.Duration(rng.IntN(120)) * day),
		}
		if err := repo.SaveDeduction(ctx, d); err != nil {
			return c, fmt.Errorf("save deduction %s: %w", d.ID, err)
		}
		c.Deductions++
	}

	for i := range n {
		amount := float64(5000 + rng.IntN(50000))
		periodStart := now.AddDate(0, -1-rng.IntN(3), 0)
		t := &domain.TradeSpend{
			ID:            fmt.Sprintf("TS-%04d", i),
			Code:          fmt.Sprintf("TS%04d", i),
			Status:        pick(rng, "active", "pending", "approved", "closed"),
			Owner:         owner(rng),
			CustomerID:    customers[rng.IntN(len(customers))],
			Amount:        amount,
			AccruedAmount: amount * rng.Float64() * 1.3,
			PeriodStart:   periodStart,
			PeriodEnd:     periodStart.AddDate(0, 1, 0),
		}
		if err := repo.SaveTradeSpend(ctx, t); err != nil {
			return c, fmt.Errorf("save trade spend %s: %w", t.ID, err)
		}
		c.TradeSpend++
	}

	for i := range max(1, n/3) {
		allocated := float64(20000 + rng.IntN(80000))
		w := &domain.KAMWallet{
			ID:              fmt.Sprintf("KAM-%03d", i),
			Name:            fmt.Sprintf("KAM Wallet %d", i),
			Status:          pick(rng, "active", "active", "frozen"),
			Owner:           owner(rng),
			AllocatedAmount: allocated,
			UtilizedAmount:  allocated * rng.Float64(),
			CommittedAmount: allocated * rng.Float64() * 0.5,
			ExpiryDate:      now.Add(time.Duration(rng.IntN(90)) * day),
		}
		if err := repo.SaveKAMWallet(ctx, w); err != nil {
			return c, fmt.Errorf("save wallet %s: %w", w.ID, err)
		}
		c.Wallets++
	}

	// Daily net sales per customer for the last quarter
	for _, cust := range customers {
		for d := range 90 {
			date := now.Add(-time.Duration(d) * day)
			id := fmt.Sprintf("%s-%s", cust, date.Format("20060102"))
			if err := repo.SaveSale(ctx, id, cust, date, float64(1000+rng.IntN(4000))); err != nil {
				return c, fmt.Errorf("save sale %s: %w", id, err)
			}
			c.Sales++
		}
	}

	return c, nil
}

func pick(rng *rand.Rand, options ...string) string {
	return options[rng.IntN(len(options))]
}

func owner(rng *rand.Rand) string {
	// Roughly one in eight records has no owner
	if rng.IntN(8) == 0 {
		return ""
	}
	return fmt.Sprintf("user-%02d", rng.IntN(10))
}

func runScan(client *http.Client, baseURL, actor string) error {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/scanner/run", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", actor)

	fmt.Printf("\nRunning scan on %s...\n", baseURL)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var report struct {
		Entities  int `json:"entities"`
		Created   int `json:"created"`
		Refreshed int `json:"refreshed"`
		Errors    int `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	fmt.Printf("✓ Scanned %d entities: %d created, %d refreshed, %d errors\n",
		report.Entities, report.Created, report.Refreshed, report.Errors)
	return nil
}

func printSummary(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/insights/summary")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var summary domain.InsightSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return err
	}

	fmt.Printf("\nINSIGHTS  total=%d open=%d\n", summary.Total, summary.Open)
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityWarning, domain.SeverityInfo} {
		byStatus := summary.Counts[sev]
		fmt.Printf("   %-9s new=%-5d acknowledged=%-5d in_progress=%-5d resolved=%-5d dismissed=%d\n",
			sev,
			byStatus[domain.StatusNew],
			byStatus[domain.StatusAcknowledged],
			byStatus[domain.StatusInProgress],
			byStatus[domain.StatusResolved],
			byStatus[domain.StatusDismissed],
		)
	}
	fmt.Println()
	return nil
}

func printCounts(c Counts, duration time.Duration) {
	fmt.Println("✓ Seeded")
	fmt.Printf("   Budgets:      %d\n", c.Budgets)
	fmt.Printf("   Promotions:   %d\n", c.Promotions)
	fmt.Printf("   Claims:       %d\n", c.Claims)
	fmt.Printf("   Deductions:   %d\n", c.Deductions)
	fmt.Printf("   Trade spend:  %d\n", c.TradeSpend)
	fmt.Printf("   Wallets:      %d\n", c.Wallets)
	fmt.Printf("   Sales rows:   %d\n", c.Sales)
	fmt.Printf("   Duration:     %v\n", duration.Round(time.Millisecond))
}
