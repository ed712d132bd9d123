package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/mandates/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	accountID   string
	limit       string
	useAmount   string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Use accepted
	fail409       uint64 // Conflicts and inactive mandate
	fail422       uint64 // Over the remaining amount
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&accountID, "account", "acct_bench", "Account that owns the mandate")
	flag.StringVar(&limit, "limit", "500.00", "Amount limit of the contended mandate")
	flag.StringVar(&useAmount, "amount", "1.00", "Amount pulled by each use")
}

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 5 * time.Second}

	mandate, err := createMandate(client)
	if err != nil {
		log.Fatalf("Unable to create mandate: %v", err)
	}
	log.Printf("Starting Benchmark: mandate %s | Workers: %d | Duration: %s", mandate.ID, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, mandate.ID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := getMandate(client, mandate.ID)
	if err != nil {
		log.Fatalf("Unable to read mandate: %v", err)
	}
	printResults(elapsed, final)
}

func mandatePath(id string) string {
	path := fmt.Sprintf("%s/v1/accounts/%s/payment_mandates", targetURL, accountID)
	if id != "" {
		path += "/" + id
	}
	return path
}

func createMandate(client *http.Client) (*models.Mandate, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"type":         "multi_use",
		"amount_limit": limit,
	})
	resp, err := client.Post(mandatePath(""), "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var m models.Mandate
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func getMandate(client *http.Client, id string) (*models.Mandate, error) {
	resp, err := client.Get(mandatePath(id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var m models.Mandate
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func worker(wg *sync.WaitGroup, start time.Time, mandateID string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	body, _ := json.Marshal(map[string]string{"amount": useAmount})

	for time.Since(start) < duration {
		req, _ := http.NewRequest("POST", mandatePath(mandateID)+"/use", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration, final *models.Mandate) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := 0.0
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	// Every accepted use must be reflected exactly once in the counters.
	expected := decimal.RequireFromString(useAmount).Mul(decimal.NewFromInt(int64(s200)))
	var used decimal.Decimal
	var usedCount int64
	if final.MultiUse != nil {
		used = final.MultiUse.TotalUsedAmount.Decimal()
		usedCount = final.MultiUse.TotalUsedCount
	}
	consistent := used.Equal(expected) && usedCount == int64(s200) &&
		used.LessThanOrEqual(decimal.RequireFromString(limit))

	results := map[string]interface{}{
		"mandate_id":        final.ID,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"uses_accepted":     s200,
		"aborts_conflict":   f409,
		"rejected_limit":    f422,
		"abort_rate_pct":    abortRate,
		"errors":            fErr,
		"total_used_amount": used.String(),
		"final_status":      final.Status,
		"consistent":        consistent,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", final.ID)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)

	if !consistent {
		log.Fatalf("Mandate counters disagree with accepted uses: used %s over %d uses", used, s200)
	}
}
