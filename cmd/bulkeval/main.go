// Bulk evaluation tool for replaying applicant data against Harrier.
//
// Usage:
//   go run ./cmd/bulkeval -csv /path/to/applicants.csv -url http://localhost:8080 -tenant 1
//
// This tool:
//   1. Reads applicants from a CSV whose header names the input parameters
//   2. Sends each row to POST /eligibility for the tenant
//   3. Tallies evaluated, rejected and failed requests
//   4. Reports how often each product was eligible and the request latency
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// requestIDColumn optionally carries a caller-chosen request id.
const requestIDColumn = "requestId"

// Row is one applicant read from the CSV.
type Row struct {
	Line      int
	RequestID string
	Inputs    map[string]string
}

// EligibilityRequest is the Harrier API request format
type EligibilityRequest struct {
	RequestID string            `json:"requestId"`
	Inputs    map[string]string `json:"inputs"`
}

// EligibilityResponse is the Harrier API response format
type EligibilityResponse struct {
	RequestID           string   `json:"requestId"`
	CustomerScore       *float64 `json:"customerScore"`
	MandatoryParameters []string `json:"mandatoryParameters"`
	EligibleProducts    []struct {
		ProductCode    string      `json:"productCode"`
		EligibleAmount json.Number `json:"eligibleAmount"`
	} `json:"eligibleProducts"`
	NonEligibleProducts []struct {
		ProductCode string `json:"productCode"`
		Message     string `json:"message"`
	} `json:"nonEligibleProducts"`
}

// Summary tracks replay results
type Summary struct {
	TotalProcessed int64
	TotalEvaluated int64
	TotalRejected  int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu          sync.Mutex
	eligibleBy  map[string]int64
	rejectedFor map[string]int64
}

func newSummary() *Summary {
	return &Summary{
		eligibleBy:  make(map[string]int64),
		rejectedFor: make(map[string]int64),
	}
}

func (s *Summary) record(resp *EligibilityResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range resp.EligibleProducts {
		s.eligibleBy[p.ProductCode]++
	}
	for _, name := range resp.MandatoryParameters {
		s.rejectedFor[name]++
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to applicant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.Int64("tenant", 1, "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent requests")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: bulkeval -csv /path/to/applicants.csv [-url http://localhost:8080] [-tenant 1]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|              HARRIER BULK ELIGIBILITY REPLAY                  |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %d\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := readRows(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows\n", len(rows))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	client := &http.Client{Timeout: 30 * time.Second}
	startTime := time.Now()
	summary := replay(context.Background(), client, *baseURL, *tenantID, rows, *workers, *verbose)
	printResults(summary, time.Since(startTime))
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

// readRows maps each record to inputs keyed by header name. Empty cells are
// sent as empty strings so mandatory-parameter checks see them.
func readRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := Row{Line: line, Inputs: make(map[string]string, len(header))}
		for i, name := range header {
			if name == "" {
				continue
			}
			if name == requestIDColumn {
				row.RequestID = record[i]
				continue
			}
			row.Inputs[name] = record[i]
		}
		if row.RequestID == "" {
			row.RequestID = "bulk-" + uuid.NewString()
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func replay(ctx context.Context, client *http.Client, baseURL string, tenantID int64, rows []Row, workers int, verbose bool) *Summary {
	summary := newSummary()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, row := range rows {
		g.Go(func() error {
			start := time.Now()
			resp, status, err := evaluate(ctx, client, baseURL, tenantID, row)
			atomic.AddInt64(&summary.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&summary.TotalProcessed, 1)

			switch {
			case err != nil:
				atomic.AddInt64(&summary.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR line %d (%s): %v\n", row.Line, row.RequestID, err)
				}
				return nil
			case status == http.StatusUnprocessableEntity:
				atomic.AddInt64(&summary.TotalRejected, 1)
			default:
				atomic.AddInt64(&summary.TotalEvaluated, 1)
			}
			summary.record(resp)

			if verbose {
				codes := make([]string, 0, len(resp.EligibleProducts))
				for _, p := range resp.EligibleProducts {
					codes = append(codes, p.ProductCode+"="+p.EligibleAmount.String())
				}
				fmt.Printf("line %-6d | %-40s | eligible: %s\n", row.Line, resp.RequestID, strings.Join(codes, ", "))
			}
			return nil
		})
	}
	_ = g.Wait()

	return summary
}

func evaluate(ctx context.Context, client *http.Client, baseURL string, tenantID int64, row Row) (*EligibilityResponse, int, error) {
	body, err := json.Marshal(EligibilityRequest{RequestID: row.RequestID, Inputs: row.Inputs})
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/eligibility", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", strconv.FormatInt(tenantID, 10))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EligibilityResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

func printResults(s *Summary, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                        REPLAY RESULTS                         |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Total Processed:  %d\n", s.TotalProcessed)
	fmt.Printf("   Evaluated:        %d\n", s.TotalEvaluated)
	fmt.Printf("   Rejected:         %d\n", s.TotalRejected)
	fmt.Printf("   Errors:           %d\n", s.TotalErrors)

	if len(s.eligibleBy) > 0 {
		fmt.Printf("\nELIGIBLE BY PRODUCT\n")
		for _, code := range sortedKeys(s.eligibleBy) {
			n := s.eligibleBy[code]
			rate := 0.0
			if s.TotalEvaluated > 0 {
				rate = float64(n) / float64(s.TotalEvaluated) * 100
			}
			fmt.Printf("   %-16s %8d  (%.2f%%)\n", code, n, rate)
		}
	}

	if len(s.rejectedFor) > 0 {
		fmt.Printf("\nMISSING MANDATORY PARAMETERS\n")
		for _, name := range sortedKeys(s.rejectedFor) {
			fmt.Printf("   %-16s %8d\n", name, s.rejectedFor[name])
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if s.TotalProcessed > 0 {
		avgMs := float64(s.ProcessingTimeMs) / float64(s.TotalProcessed)
		rps := float64(s.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}
	fmt.Println()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
