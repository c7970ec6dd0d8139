package comfyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// ErrInterrupted is returned by Wait when the prompt was interrupted.
var ErrInterrupted = errors.New("comfyclient: execution interrupted")

// ExecutionError is a failure the server reported while running a prompt.
type ExecutionError struct {
	PromptID  string `json:"prompt_id"`
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
	Exception string `json:"exception_type"`
	Message   string `json:"exception_message"`
}

func (e *ExecutionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("comfyui: execution failed: %s", e.Message)
	}
	return fmt.Sprintf("comfyui: node %s (%s) failed: %s: %s", e.NodeID, e.NodeType, e.Exception, e.Message)
}

// Update is one status message received while waiting.
type Update struct {
	Type     string
	PromptID string
	// NodeID is set for executing messages.
	NodeID string
	// Value and Max are set for progress messages.
	Value int
	Max   int
	// Cached lists nodes served from cache.
	Cached []string
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsData struct {
	PromptID string   `json:"prompt_id"`
	Node     *string  `json:"node"`
	Value    int      `json:"value"`
	Max      int      `json:"max"`
	Nodes    []string `json:"nodes"`
}

// Wait blocks until promptID finishes. It returns nil on success,
// *ExecutionError when a node fails, ErrInterrupted when the run was
// cancelled on the server, and ctx.Err() when ctx ends first. onUpdate, if
// not nil, receives every status message for the prompt.
//
// A prompt that already finished before the stream was opened is detected
// through its history record.
func (c *Client) Wait(ctx context.Context, promptID string, onUpdate func(Update)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if h, err := c.History(ctx, promptID); err == nil {
		if h.Status.Failed() {
			return &ExecutionError{PromptID: promptID, Message: historyMessage(h)}
		}
		if h.Status.Completed {
			return nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		c.logger.Debug("history check failed", "prompt_id", promptID, "error", err)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("comfyclient: status stream: %w", err)
		}
		if kind != websocket.TextMessage {
			// Binary frames carry preview images.
			continue
		}

		var msg wsMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("undecodable status message", "error", err)
			continue
		}
		done, err := c.handle(msg, promptID, onUpdate)
		if done || err != nil {
			return err
		}
	}
}

// handle processes one message and reports whether waiting is over.
func (c *Client) handle(msg wsMessage, promptID string, onUpdate func(Update)) (bool, error) {
	if msg.Type == "execution_error" {
		var ee ExecutionError
		if err := sonic.Unmarshal(msg.Data, &ee); err != nil || ee.PromptID != promptID {
			return false, nil
		}
		return true, &ee
	}

	var d wsData
	if len(msg.Data) > 0 {
		if err := sonic.Unmarshal(msg.Data, &d); err != nil {
			return false, nil
		}
	}
	// Queue status messages carry no prompt id and concern every client.
	if d.PromptID != "" && d.PromptID != promptID {
		return false, nil
	}

	u := Update{Type: msg.Type, PromptID: d.PromptID, Value: d.Value, Max: d.Max, Cached: d.Nodes}
	if d.Node != nil {
		u.NodeID = *d.Node
	}
	if onUpdate != nil && msg.Type != "status" {
		onUpdate(u)
	}

	switch msg.Type {
	case "executing":
		return d.Node == nil && d.PromptID == promptID, nil
	case "execution_success":
		return d.PromptID == promptID, nil
	case "execution_interrupted":
		return true, ErrInterrupted
	default:
		return false, nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("clientId", c.clientID)
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("comfyclient: open status stream: %w", err)
	}
	return conn, nil
}

func historyMessage(h *History) string {
	for _, raw := range h.Status.Messages {
		var pair []json.RawMessage
		if err := sonic.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var kind string
		if err := sonic.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var ee ExecutionError
		if err := sonic.Unmarshal(pair[1], &ee); err == nil && ee.Message != "" {
			return ee.Message
		}
	}
	return "execution failed"
}
