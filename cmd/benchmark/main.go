// Benchmark tool for measuring Condor evaluation throughput over a seeded
// corpus.
//
// Usage:
//   go run ./cmd/benchmark -url http://localhost:8080 -count 1000 -workers 10
//
// This tool:
//   1. Registers one account per worker and declares a randomized tax profile
//   2. Runs repeated evaluations against the active rule set
//   3. Aggregates the decision mix (applies / does_not_apply / ...)
//   4. Verifies determinism: identical profiles must yield identical decisions
//
// Run the server with rate limiting disabled (rateLimit.enabled: false),
// otherwise the per-user evaluation budget caps the measured throughput.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type fiscalYearInfo struct {
	ID   string `json:"id"`
	Year int    `json:"year"`
}

type profileResponse struct {
	ID string `json:"id"`
}

type evaluationResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Obligation struct {
			Code string `json:"code"`
		} `json:"obligation"`
		Result string `json:"result"`
	} `json:"results"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalEvaluations int64
	TotalErrors      int64
	TotalRateLimited int64

	Applies       int64
	DoesNotApply  int64
	Conditional   int64
	NeedsMoreInfo int64

	ProcessingTimeMs int64

	mu                sync.Mutex
	appliesByCode     map[string]int64
	workersConsistent int64
	workersDivergent  int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Condor base URL")
	count := flag.Int("count", 1000, "Total evaluations to run")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	year := flag.Int("year", 2025, "Fiscal year to evaluate against")
	seed := flag.Int64("seed", 42, "Seed for profile randomization")
	verbose := flag.Bool("verbose", false, "Print each evaluation result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          CONDOR BENCHMARK - Evaluation Throughput             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCondor URL:  %s\n", *baseURL)
	fmt.Printf("Evaluations: %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Fiscal Year: %d\n", *year)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	// Check Condor is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Condor not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Condor is running and seeded:")
		fmt.Println("  go run ./cmd/seed && go run ./cmd/condor")
		os.Exit(1)
	}
	fmt.Println("✓ Condor is healthy")

	// Resolve the fiscal year ID from the public catalog
	fyID, err := resolveFiscalYear(*baseURL, *year)
	if err != nil {
		fmt.Printf("ERROR: fiscal year %d not available: %v\n", *year, err)
		fmt.Println("\nSeed the corpus first:")
		fmt.Println("  go run ./cmd/seed")
		os.Exit(1)
	}
	fmt.Printf("✓ Fiscal year %d found\n", *year)

	// Each worker gets its own account and randomized profile. The profile
	// stays fixed for the worker's whole run, so repeated evaluations must
	// produce identical decisions.
	fmt.Printf("\nPreparing %d worker accounts...\n", *workers)
	runID := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(*seed))
	sessions := make([]*workerSession, 0, *workers)
	for i := 0; i < *workers; i++ {
		s, err := newWorkerSession(*baseURL, fyID, runID, i, rng)
		if err != nil {
			fmt.Printf("ERROR: failed to prepare worker %d: %v\n", i, err)
			os.Exit(1)
		}
		sessions = append(sessions, s)
	}
	fmt.Printf("✓ %d profiles declared\n", len(sessions))

	fmt.Printf("\nRunning %d evaluations with %d workers...\n", *count, *workers)
	startTime := time.Now()
	metrics := runBenchmark(sessions, *count, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func resolveFiscalYear(baseURL string, year int) (string, error) {
	resp, err := http.Get(baseURL + "/api/v1/fiscal-years")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var years []fiscalYearInfo
	if err := json.NewDecoder(resp.Body).Decode(&years); err != nil {
		return "", err
	}
	for _, fy := range years {
		if fy.Year == year {
			return fy.ID, nil
		}
	}
	return "", fmt.Errorf("not in the active catalog")
}

// workerSession holds one worker's credentials and fixed profile.
type workerSession struct {
	client    *http.Client
	baseURL   string
	token     string
	profileID string
}

func newWorkerSession(baseURL, fyID string, runID int64, index int, rng *rand.Rand) (*workerSession, error) {
	s := &workerSession{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}

	email := fmt.Sprintf("bench-%d-%d@condor.local", runID, index)
	token, err := s.register(email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	s.token = token

	profileID, err := s.declareProfile(fyID, rng)
	if err != nil {
		return nil, fmt.Errorf("declare profile: %w", err)
	}
	s.profileID = profileID
	return s, nil
}

func (s *workerSession) register(email string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"email":     email,
		"password":  "benchmark-password",
		"full_name": "Benchmark Worker",
	})
	resp, err := s.client.Post(s.baseURL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// declareProfile posts a randomized but fixed profile. Income spans the
// interesting range around the corpus thresholds so the decision mix covers
// every outcome.
func (s *workerSession) declareProfile(fyID string, rng *rand.Rand) (string, error) {
	hasEmployees := rng.Intn(2) == 1
	employeeCount := 0
	if hasEmployees {
		employeeCount = 1 + rng.Intn(20)
	}
	regime := "simple"
	if rng.Intn(2) == 1 {
		regime = "ordinario"
	}
	city := ""
	if rng.Intn(2) == 1 {
		city = "Bogotá"
	}

	payload := map[string]any{
		"fiscal_year_id":            fyID,
		"persona_type":              "natural",
		"regime":                    regime,
		"ingresos_brutos_cop":       10000000 + rng.Int63n(400000000),
		"has_employees":             hasEmployees,
		"employee_count":            employeeCount,
		"city":                      city,
		"has_comercio_registration": city != "",
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/v1/profiles", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", err
	}
	return profile.ID, nil
}

// evaluate runs one evaluation. The bool reports a 429 from the rate limiter.
func (s *workerSession) evaluate() (*evaluationResponse, bool, error) {
	body, _ := json.Marshal(map[string]string{"tax_profile_id": s.profileID})
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/v1/evaluations", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result evaluationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, err
	}
	return &result, false, nil
}

// decisionKey folds an evaluation's decisions into a comparable string.
func decisionKey(result *evaluationResponse) string {
	pairs := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		pairs = append(pairs, r.Obligation.Code+"="+r.Result)
	}
	sort.Strings(pairs)
	key := ""
	for _, p := range pairs {
		key += p + ";"
	}
	return key
}

func runBenchmark(sessions []*workerSession, count int, verbose bool) *Metrics {
	metrics := &Metrics{appliesByCode: make(map[string]int64)}

	perWorker := count / len(sessions)
	if perWorker == 0 {
		perWorker = 1
	}

	var wg sync.WaitGroup
	for i, session := range sessions {
		wg.Add(1)
		go func(workerID int, s *workerSession) {
			defer wg.Done()

			firstKey := ""
			consistent := true

			for n := 0; n < perWorker; n++ {
				start := time.Now()
				result, limited, err := s.evaluate()
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalEvaluations, 1)

				if limited {
					atomic.AddInt64(&metrics.TotalRateLimited, 1)
					continue
				}
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: worker %d -> %v\n", workerID, err)
					}
					continue
				}

				key := decisionKey(result)
				if firstKey == "" {
					firstKey = key
				} else if key != firstKey {
					consistent = false
				}

				for _, r := range result.Results {
					switch r.Result {
					case "applies":
						atomic.AddInt64(&metrics.Applies, 1)
						metrics.mu.Lock()
						metrics.appliesByCode[r.Obligation.Code]++
						metrics.mu.Unlock()
					case "does_not_apply":
						atomic.AddInt64(&metrics.DoesNotApply, 1)
					case "conditional":
						atomic.AddInt64(&metrics.Conditional, 1)
					case "needs_more_info":
						atomic.AddInt64(&metrics.NeedsMoreInfo, 1)
					}
				}

				if verbose {
					fmt.Printf("worker %2d | eval %4d | %d obligations | %s\n",
						workerID, n, len(result.Results), result.ID)
				}
			}

			if firstKey != "" {
				if consistent {
					atomic.AddInt64(&metrics.workersConsistent, 1)
				} else {
					atomic.AddInt64(&metrics.workersDivergent, 1)
				}
			}
		}(i, session)
	}

	wg.Wait()
	return metrics
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Total Evaluations:  %d\n", m.TotalEvaluations)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)
	fmt.Printf("   Rate Limited:       %d\n", m.TotalRateLimited)

	totalDecisions := m.Applies + m.DoesNotApply + m.Conditional + m.NeedsMoreInfo
	fmt.Printf("\n📋 DECISION MIX (%d obligation decisions)\n", totalDecisions)
	if totalDecisions > 0 {
		pct := func(n int64) float64 { return 100 * float64(n) / float64(totalDecisions) }
		fmt.Printf("   applies:          %8d (%.2f%%)\n", m.Applies, pct(m.Applies))
		fmt.Printf("   does_not_apply:   %8d (%.2f%%)\n", m.DoesNotApply, pct(m.DoesNotApply))
		fmt.Printf("   conditional:      %8d (%.2f%%)\n", m.Conditional, pct(m.Conditional))
		fmt.Printf("   needs_more_info:  %8d (%.2f%%)\n", m.NeedsMoreInfo, pct(m.NeedsMoreInfo))
	}

	if len(m.appliesByCode) > 0 {
		fmt.Printf("\n🏛️  APPLIES BY OBLIGATION\n")
		codes := make([]string, 0, len(m.appliesByCode))
		for code := range m.appliesByCode {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("   %-26s %8d\n", code, m.appliesByCode[code])
		}
	}

	fmt.Printf("\n🔁 DETERMINISM\n")
	fmt.Printf("   Consistent workers: %d\n", m.workersConsistent)
	fmt.Printf("   Divergent workers:  %d\n", m.workersDivergent)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalEvaluations > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalEvaluations)
		eps := float64(m.TotalEvaluations) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f evals/sec\n", eps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if m.workersDivergent == 0 {
		fmt.Println("   ✅ Deterministic - identical profiles produced identical decisions")
	} else {
		fmt.Println("   ❌ Divergent decisions for identical profiles - investigate!")
	}
	if m.TotalRateLimited > 0 {
		fmt.Println("   ⚠️  Rate limiter engaged - disable rateLimit for throughput runs")
	}
	if m.TotalErrors == 0 && m.TotalEvaluations > 0 {
		fmt.Println("   ✅ No errors")
	}

	fmt.Println()
}
