package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sandboxRequest is the payload posted to the external sandbox.
type sandboxRequest struct {
	ExecID         string `json:"exec_id"`
	Language       string `json:"language"`
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// sandboxClient hands executions to the configured sandbox endpoint. The
// sandbox reports results asynchronously via the completion callback.
type sandboxClient struct {
	endpoint string
	http     *http.Client
}

func newSandboxClient(endpoint string) *sandboxClient {
	return &sandboxClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *sandboxClient) submit(ctx context.Context, req sandboxRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal sandbox request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox returned %s", resp.Status)
	}
	return nil
}
