package comfyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
)

// outputKeys are the node output fields that list produced files.
var outputKeys = []string{"images", "gifs", "videos", "video", "audio", "animated_webp", "files"}

// History is the server's record of one prompt.
type History struct {
	PromptID string                `json:"-"`
	Status   Status                `json:"status"`
	Outputs  map[string]NodeOutput `json:"outputs"`
}

// Status is the execution status of a prompt.
type Status struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// Failed reports whether the prompt finished with an error.
func (s Status) Failed() bool { return s.StatusStr == "error" }

// NodeOutput is what one output node produced, keyed by kind.
type NodeOutput map[string]json.RawMessage

// FileRef addresses a file on the server.
type FileRef struct {
	NodeID    string `json:"-"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Files lists the output files of every node, ordered by node id.
func (h *History) Files() []FileRef {
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessNumeric(ids[i], ids[j]) })

	var files []FileRef
	for _, id := range ids {
		out := h.Outputs[id]
		for _, key := range outputKeys {
			raw, ok := out[key]
			if !ok {
				continue
			}
			var items []struct {
				Filename  string `json:"filename"`
				Name      string `json:"name"`
				Subfolder string `json:"subfolder"`
				Type      string `json:"type"`
			}
			// Some nodes report booleans or strings under these keys.
			if err := sonic.Unmarshal(raw, &items); err != nil {
				continue
			}
			for _, it := range items {
				name := it.Filename
				if name == "" {
					name = it.Name
				}
				if name == "" {
					continue
				}
				typ := it.Type
				if typ == "" {
					typ = "output"
				}
				files = append(files, FileRef{NodeID: id, Filename: name, Subfolder: it.Subfolder, Type: typ})
			}
		}
	}
	return files
}

func lessNumeric(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// History fetches the record of promptID. It returns ErrNotFound while the
// prompt is still queued or unknown.
func (c *Client) History(ctx context.Context, promptID string) (*History, error) {
	body, err := c.get(ctx, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("comfyclient: history: %w", err)
	}
	var all map[string]*History
	if err := sonic.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("comfyclient: decode history: %w", err)
	}
	h, ok := all[promptID]
	if !ok || h == nil {
		return nil, fmt.Errorf("prompt %s: %w", promptID, ErrNotFound)
	}
	h.PromptID = promptID
	return h, nil
}

// Download fetches the content of f.
func (c *Client) Download(ctx context.Context, f FileRef) ([]byte, error) {
	typ := f.Type
	if typ == "" {
		typ = "output"
	}
	q := url.Values{}
	q.Set("filename", f.Filename)
	q.Set("subfolder", f.Subfolder)
	q.Set("type", typ)
	body, err := c.get(ctx, "/view", q)
	if err != nil {
		return nil, fmt.Errorf("comfyclient: download %s: %w", f.Filename, err)
	}
	return body, nil
}
