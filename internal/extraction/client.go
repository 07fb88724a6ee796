// Package extraction turns raw correction events into structured candidate
// learning statements. The primary path is an external LLM extraction
// service; when it is unreachable or not configured, a structural fallback
// derives candidates directly from the correction line diff.
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/pkg/models"
)

// Extractor produces candidate learnings from a correction event.
type Extractor interface {
	ExtractCandidates(ctx context.Context, event *models.CorrectionEvent) ([]*models.CandidateLearning, error)
	// Refine asks for a rewrite of a candidate that scored in the refine band.
	Refine(ctx context.Context, candidate *models.CandidateLearning, feedback string) (*models.CandidateLearning, error)
}

const clientTimeout = 30 * time.Second

// Client calls the extraction service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// ClientConfig configures the extraction service client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
}

// NewClient returns a client, or an error when BaseURL is empty.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("extraction service base URL is required")
	}
	return &Client{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

type extractRequest struct {
	Event *models.CorrectionEvent `json:"event"`
}

type extractResponse struct {
	Candidates []*models.CandidateLearning `json:"candidates"`
}

type refineRequest struct {
	Candidate *models.CandidateLearning `json:"candidate"`
	Feedback  string                    `json:"feedback"`
}

type refineResponse struct {
	Candidate *models.CandidateLearning `json:"candidate"`
}

// ExtractCandidates sends the correction diff to the extraction service.
func (c *Client) ExtractCandidates(ctx context.Context, event *models.CorrectionEvent) ([]*models.CandidateLearning, error) {
	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", extractRequest{Event: event}, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

// Refine sends a low-scoring candidate back with rubric feedback.
func (c *Client) Refine(ctx context.Context, candidate *models.CandidateLearning, feedback string) (*models.CandidateLearning, error) {
	var resp refineResponse
	if err := c.post(ctx, "/v1/refine", refineRequest{Candidate: candidate, Feedback: feedback}, &resp); err != nil {
		return nil, err
	}
	if resp.Candidate == nil {
		return nil, fmt.Errorf("extraction service returned no refined candidate")
	}
	return resp.Candidate, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send extraction request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("extraction service error (status=%d): %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode extraction response: %w", err)
	}
	return nil
}

// Structural derives candidates from the line diff alone. Each edited line
// becomes a line_item_adjustment expressed as a percentage of the original
// amount. It cannot produce category rules and its candidates carry no free
// text beyond the line note, so they score lower than LLM-extracted ones.
type Structural struct{}

var _ Extractor = Structural{}

// ExtractCandidates converts each meaningfully edited line into a candidate.
func (Structural) ExtractCandidates(_ context.Context, event *models.CorrectionEvent) ([]*models.CandidateLearning, error) {
	candidates := make([]*models.CandidateLearning, 0, len(event.Lines))
	for _, line := range event.Lines {
		if line.Target == "" || line.OriginalAmount == 0 {
			continue
		}
		delta := line.CorrectedAmount - line.OriginalAmount
		pct := delta / line.OriginalAmount
		// Sub-1% edits are rounding noise, not pricing signal.
		if math.Abs(pct) < 0.01 {
			continue
		}
		candidates = append(candidates, &models.CandidateLearning{
			Target:             line.Target,
			Kind:               models.KindLineItemAdjustment,
			Adjustment:         1.0 + pct,
			Reason:             line.Note,
			SupportingExamples: 1,
			ImpactDollars:      math.Abs(delta),
			JobSubType:         event.JobSubType,
		})
	}
	log.Debug().
		Int("lines", len(event.Lines)).
		Int("candidates", len(candidates)).
		Msg("Structural extraction complete")
	return candidates, nil
}

// Refine has nothing to work with structurally; the candidate is returned
// unchanged so the caller's decision stands.
func (Structural) Refine(_ context.Context, candidate *models.CandidateLearning, _ string) (*models.CandidateLearning, error) {
	return candidate, nil
}
