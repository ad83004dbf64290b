package client

import "encoding/json"

// DataOutput is a file written by an output node.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	ComfyUIVersion string `json:"comfyui_version"`
	EmbeddedPython bool   `json:"embedded_python"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryItem is one finished prompt from the ComfyUI history. Prompt is the
// API format graph that was executed, Workflow the UI graph the frontend sent
// along with it (absent for prompts queued through the API).
type HistoryItem struct {
	PromptID string
	Index    int
	Prompt   json.RawMessage
	Workflow json.RawMessage
	Outputs  map[string][]DataOutput
	Status   *HistoryStatus
}

// Succeeded reports whether ComfyUI recorded the prompt as completed. Items
// from servers that do not report a status count as succeeded.
func (h HistoryItem) Succeeded() bool {
	return h.Status == nil || h.Status.Completed || h.Status.StatusStr == "success"
}
