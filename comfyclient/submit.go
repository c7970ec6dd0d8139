package comfyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/petal-labs/promptc/graph"
)

// Job is an accepted submission.
type Job struct {
	PromptID string `json:"prompt_id"`
	// Number is the position the server assigned in its queue.
	Number int `json:"number"`
}

type submitRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
	PromptID string          `json:"prompt_id"`
}

type submitResponse struct {
	PromptID   string               `json:"prompt_id"`
	Number     int                  `json:"number"`
	Error      json.RawMessage      `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

// Submit queues g for execution. promptID becomes the server's prompt id, so
// resubmitting with the same id is idempotent on servers that honour it; an
// empty promptID gets a new UUID. A rejected prompt returns *ServerError.
func (c *Client) Submit(ctx context.Context, g graph.ExecutionGraph, promptID string) (Job, error) {
	if promptID == "" {
		promptID = uuid.NewString()
	}
	prompt, err := g.Marshal(false)
	if err != nil {
		return Job{}, fmt.Errorf("comfyclient: encode prompt: %w", err)
	}
	body, err := sonic.Marshal(submitRequest{Prompt: prompt, ClientID: c.clientID, PromptID: promptID})
	if err != nil {
		return Job{}, fmt.Errorf("comfyclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(body))
	if err != nil {
		return Job{}, fmt.Errorf("comfyclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return Job{}, fmt.Errorf("comfyclient: submit: %w", err)
	}

	var resp submitResponse
	if err := sonic.Unmarshal(respBody, &resp); err != nil {
		return Job{}, fmt.Errorf("comfyclient: decode submit response: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return Job{}, fmt.Errorf("comfyclient: submit: %w", newServerError(http.StatusOK, respBody))
	}
	if resp.PromptID == "" {
		resp.PromptID = promptID
	}

	c.logger.Info("prompt queued", "prompt_id", resp.PromptID, "number", resp.Number, "nodes", len(g))
	return Job{PromptID: resp.PromptID, Number: resp.Number}, nil
}
