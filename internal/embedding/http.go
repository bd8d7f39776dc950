package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const httpTimeout = 30 * time.Second

// httpProvider talks to an OpenAI-compatible /embeddings endpoint,
// grounded on the teacher's internal/embedding/openai.go. It produces the
// full vector from the configured model and derives the compressed vector
// via a fixed random projection (projection.go), since a single HTTP
// embedding call only yields one fidelity.
type httpProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	fDim    int
}

// HTTPConfig configures an HTTP embedding provider.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	FDim    int
}

// newHTTPFull returns a Provider backed by an OpenAI-compatible embeddings API.
// The returned Provider only implements Full(); wrap it with NewProjecting
// to obtain a Compressed() implementation.
func newHTTPFull(cfg HTTPConfig) *httpProvider {
	return &httpProvider{
		client:  &http.Client{Timeout: httpTimeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		fDim:    cfg.FDim,
	}
}

func (p *httpProvider) FullDim() int       { return p.fDim }
func (p *httpProvider) CompressedDim() int { return 0 }

func (p *httpProvider) Compressed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("httpProvider: Compressed not implemented directly, wrap with NewProjecting")
}

type embedRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *httpProvider) Full(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := withRetry(ctx, isTransientHTTPErr, func() error {
		v, err := p.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Normalize(result), nil
}

func (p *httpProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text, Model: p.model, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API error (model=%s status=%d): %s", p.model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", p.model)
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	return parsed.Data[0].Embedding, nil
}

// isTransientHTTPErr treats network errors and 5xx-flavoured messages as
// retryable; everything else (4xx, marshal errors) is fatal to the call.
func isTransientHTTPErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "status=5") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF")
}
