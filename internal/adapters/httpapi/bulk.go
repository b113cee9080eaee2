package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultBulkTimeout = 10 * time.Second

// BulkClient fans a batch out against the single-record surface it points at,
// one request per item, fully parallel. One bad item never fails the batch;
// outcomes are partitioned instead.
type BulkClient struct {
	baseURL string
	client  *http.Client
}

func NewBulkClient(baseURL string, timeout time.Duration) *BulkClient {
	if timeout <= 0 {
		timeout = defaultBulkTimeout
	}
	return &BulkClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type BulkResult struct {
	Successful []json.RawMessage `json:"successful"`
	Failed     []BulkFailure     `json:"failed"`
}

type BulkFailure struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreateMany posts each payload to the collection root.
func (c *BulkClient) CreateMany(ctx context.Context, payloads []json.RawMessage, authHeader string) BulkResult {
	outcomes := make([]outcome, len(payloads))
	var wg sync.WaitGroup
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload json.RawMessage) {
			defer wg.Done()
			outcomes[i] = c.do(ctx, http.MethodPost, c.baseURL, payload, authHeader)
		}(i, payload)
	}
	wg.Wait()
	return partition(outcomes)
}

// ReadMany fetches each id.
func (c *BulkClient) ReadMany(ctx context.Context, ids []string, authHeader string) BulkResult {
	return c.perID(ctx, http.MethodGet, ids, authHeader)
}

// DeleteMany deletes each id.
func (c *BulkClient) DeleteMany(ctx context.Context, ids []string, authHeader string) BulkResult {
	return c.perID(ctx, http.MethodDelete, ids, authHeader)
}

func (c *BulkClient) perID(ctx context.Context, method string, ids []string, authHeader string) BulkResult {
	outcomes := make([]outcome, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcomes[i] = c.do(ctx, method, c.baseURL+"/"+id, nil, authHeader)
		}(i, id)
	}
	wg.Wait()
	return partition(outcomes)
}

type outcome struct {
	url    string
	status int
	body   json.RawMessage
	err    error
}

func (c *BulkClient) do(ctx context.Context, method, url string, payload json.RawMessage, authHeader string) outcome {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return outcome{url: url, err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return outcome{url: url, err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBodySize))
	if err != nil {
		return outcome{url: url, status: resp.StatusCode, err: fmt.Errorf("read response: %w", err)}
	}
	return outcome{url: url, status: resp.StatusCode, body: data}
}

func partition(outcomes []outcome) BulkResult {
	result := BulkResult{Successful: []json.RawMessage{}, Failed: []BulkFailure{}}
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failed = append(result.Failed, BulkFailure{URL: o.url, Status: o.status, Error: o.err.Error()})
		case o.status < 200 || o.status >= 300:
			result.Failed = append(result.Failed, BulkFailure{URL: o.url, Status: o.status})
		default:
			result.Successful = append(result.Successful, o.body)
		}
	}
	return result
}
