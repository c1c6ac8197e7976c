package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Provider names
const (
	ProviderTEI    = "tei"
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderLocal  = "local"

	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"

	DefaultBatchSize = 32
	requestTimeout   = 60 * time.Second
)

// httpBackend speaks to an HTTP embedding API
type httpBackend struct {
	url        string
	apiKey     string
	httpClient *http.Client
	encode     func(texts []string) any
	decode     func(body []byte) ([][]float32, error)
}

func (h *httpBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(h.encode(texts))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(data), retryAfter: parseRetryAfter(resp.Header)}
	}
	return h.decode(data)
}

func (h *httpBackend) close() {
	h.httpClient.CloseIdleConnections()
}

// newTEIBackend targets a text-embeddings-inference server's /embed route
func newTEIBackend(baseURL string, normalize bool) *httpBackend {
	return &httpBackend{
		url:        strings.TrimRight(baseURL, "/") + "/embed",
		httpClient: &http.Client{Timeout: requestTimeout},
		encode: func(texts []string) any {
			return map[string]any{"inputs": texts, "normalize": normalize, "truncate": true}
		},
		decode: func(body []byte) ([][]float32, error) {
			var vectors [][]float32
			if err := json.Unmarshal(body, &vectors); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
			}
			return vectors, nil
		},
	}
}

// newOpenAIStyleBackend targets the OpenAI embeddings format, which Jina also accepts
func newOpenAIStyleBackend(url, apiKey, model string) *httpBackend {
	return &httpBackend{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		encode: func(texts []string) any {
			return map[string]any{"input": texts, "model": model}
		},
		decode: decodeOpenAIStyle,
	}
}

func decodeOpenAIStyle(body []byte) ([][]float32, error) {
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})
	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
