package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/KANAsho116/PromptStorage/graphapi"
)

/*
Endpoints used here:

@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/history")
@routes.get("/history/{prompt_id}")
@routes.get("/ws")
*/

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	queueExec := &QueueExecInfo{}
	if err := c.getJSON(ctx, "/prompt", queueExec); err != nil {
		return nil, err
	}
	return queueExec, nil
}

// GetPromptHistory returns every entry of the server's prompt history,
// ordered by queue index.
func (c *ComfyClient) GetPromptHistory(ctx context.Context) ([]HistoryItem, error) {
	history, err := c.GetPromptHistoryByID(ctx)
	if err != nil {
		return nil, err
	}

	// ComfyUI does not recalculate the indices of prompt history items,
	// so they may not be ordered 0..n
	retv := make([]HistoryItem, 0, len(history))
	for _, h := range history {
		retv = append(retv, h)
	}
	sort.Slice(retv, func(i, j int) bool {
		if retv[i].Index != retv[j].Index {
			return retv[i].Index < retv[j].Index
		}
		return retv[i].PromptID < retv[j].PromptID
	})
	return retv, nil
}

// GetPromptHistoryByID returns the prompt history keyed by prompt id.
func (c *ComfyClient) GetPromptHistoryByID(ctx context.Context) (map[string]HistoryItem, error) {
	raw := make(map[string]json.RawMessage)
	if err := c.getJSON(ctx, "/history", &raw); err != nil {
		return nil, err
	}
	return c.decodeHistory(raw), nil
}

// GetHistoryItem returns a single history entry, or ErrNotFound when the
// server does not know promptID (yet).
func (c *ComfyClient) GetHistoryItem(ctx context.Context, promptID string) (HistoryItem, error) {
	raw := make(map[string]json.RawMessage)
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &raw); err != nil {
		return HistoryItem{}, err
	}
	item, ok := c.decodeHistory(raw)[promptID]
	if !ok {
		return HistoryItem{}, ErrNotFound
	}
	return item, nil
}

// decodeHistory decodes each entry on its own. Entries that cannot be
// read are logged and left out.
func (c *ComfyClient) decodeHistory(raw map[string]json.RawMessage) map[string]HistoryItem {
	ret := make(map[string]HistoryItem, len(raw))
	for id, data := range raw {
		item, err := decodeHistoryItem(id, data)
		if err != nil {
			c.logger.Warn("Skipping unreadable history item", "prompt_id", id, "error", err)
			continue
		}
		ret[id] = item
	}
	return ret
}

func decodeHistoryItem(promptID string, data []byte) (HistoryItem, error) {
	// The prompt is stored as an array laid out like this:
	// [
	// 	[0] index 		int,
	// 	[1] promptID 	string,
	// 	[2] prompt 		map[string]graphapi.PromptNode,
	// 	[3] extra_data 	{"extra_pnginfo": {"workflow": graphapi.Graph}},
	// 	[4] outputs     []string (ids of the output nodes)
	// ]
	var temp struct {
		Prompt  []json.RawMessage `json:"prompt"`
		Outputs map[string]struct {
			Images []DataOutput `json:"images"`
		} `json:"outputs"`
		Status *HistoryStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return HistoryItem{}, err
	}
	if len(temp.Prompt) < 3 {
		return HistoryItem{}, fmt.Errorf("prompt array has %d entries, want at least 3", len(temp.Prompt))
	}

	item := HistoryItem{
		PromptID: promptID,
		Prompt:   temp.Prompt[2],
		Outputs:  make(map[string][]DataOutput),
		Status:   temp.Status,
	}
	if err := json.Unmarshal(temp.Prompt[0], &item.Index); err != nil {
		return HistoryItem{}, fmt.Errorf("prompt index: %w", err)
	}
	if graphapi.IsNull(item.Prompt) {
		item.Prompt = nil
	}

	if len(temp.Prompt) > 3 {
		var extra struct {
			ExtraPngInfo struct {
				Workflow json.RawMessage `json:"workflow"`
			} `json:"extra_pnginfo"`
		}
		// extra_data is informational; a malformed one only loses the
		// UI workflow
		if json.Unmarshal(temp.Prompt[3], &extra) == nil && !graphapi.IsNull(extra.ExtraPngInfo.Workflow) {
			item.Workflow = extra.ExtraPngInfo.Workflow
		}
	}

	// rebuild the images output map
	for nodeID, o := range temp.Outputs {
		if len(o.Images) > 0 {
			item.Outputs[nodeID] = o.Images
		}
	}
	return item, nil
}
