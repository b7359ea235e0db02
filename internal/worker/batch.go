package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/evidencegate/internal/model"
)

// Adjudicator runs the full tribunal for one claim
type Adjudicator interface {
	Run(ctx context.Context, claim model.ClaimInput) (*model.TribunalResult, error)
}

// ClaimResult is the outcome of adjudicating one claim from a batch
type ClaimResult struct {
	Index  int
	Claim  model.ClaimInput
	Result *model.TribunalResult
	Error  error
}

// BatchSummary counts verdicts across a batch
type BatchSummary struct {
	Total    int `json:"total"`
	Pass     int `json:"pass"`
	PassWarn int `json:"passWarn"`
	Fail     int `json:"fail"`
	Degraded int `json:"degraded"`
	Errors   int `json:"errors"`
}

// Summarize tallies verdicts. Errored claims count as errors, not failures.
func Summarize(results []*ClaimResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Error != nil || r.Result == nil {
			s.Errors++
			continue
		}
		switch r.Result.Verdict {
		case model.VerdictPass:
			s.Pass++
		case model.VerdictPassWarn:
			s.PassWarn++
		default:
			s.Fail++
		}
		if r.Result.Degraded() {
			s.Degraded++
		}
	}
	return s
}

// BatchProcessor adjudicates independent claims concurrently.
// Each tribunal run is sequential internally; only whole claims fan out.
type BatchProcessor struct {
	adjudicator Adjudicator
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(adjudicator Adjudicator, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		adjudicator: adjudicator,
		concurrency: concurrency,
	}
}

// ProcessClaims adjudicates claims and returns results in input order
func (b *BatchProcessor) ProcessClaims(ctx context.Context, claims []model.ClaimInput) []*ClaimResult {
	if len(claims) == 0 {
		return []*ClaimResult{}
	}

	pool := NewPool[*model.TribunalResult](ctx, b.concurrency)
	pool.Start()

	// Submit from a separate goroutine so draining results never blocks submission.
	// It is the only submitter, so each outcome's Seq is its claim index.
	go func() {
		for _, claim := range claims {
			if !pool.Submit(func(ctx context.Context) (*model.TribunalResult, error) {
				return b.adjudicator.Run(ctx, claim)
			}) {
				break
			}
		}
		pool.Close()
	}()

	claimResults := make([]*ClaimResult, 0, len(claims))
	seen := make(map[int]bool, len(claims))
	for out := range pool.Results() {
		seen[out.Seq] = true
		claimResults = append(claimResults, &ClaimResult{
			Index:  out.Seq,
			Claim:  claims[out.Seq],
			Result: out.Value,
			Error:  out.Err,
		})
	}

	// Claims never reached because ctx was cancelled still get a result
	for i, claim := range claims {
		if !seen[i] {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			claimResults = append(claimResults, &ClaimResult{Index: i, Claim: claim, Error: err})
		}
	}

	sort.Slice(claimResults, func(i, j int) bool {
		return claimResults[i].Index < claimResults[j].Index
	})

	return claimResults
}

// ProcessFile reads claims from a JSON Lines file and adjudicates them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ClaimResult, error) {
	claims, err := ReadClaimsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read claims: %w", err)
	}

	return b.ProcessClaims(ctx, claims), nil
}

// ReadClaimsFromFile reads claims from a file, one JSON object per line
func ReadClaimsFromFile(filePath string) ([]model.ClaimInput, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var claims []model.ClaimInput
	seen := make(map[int64]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var claim model.ClaimInput
		if err := json.Unmarshal([]byte(line), &claim); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if strings.TrimSpace(claim.Content) == "" {
			return nil, fmt.Errorf("line %d: claim content is empty", lineNum)
		}

		// Deduplicate by claim id
		if claim.ID != 0 {
			if seen[claim.ID] {
				continue
			}
			seen[claim.ID] = true
		}
		claims = append(claims, claim.WithDefaults())
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return claims, nil
}
