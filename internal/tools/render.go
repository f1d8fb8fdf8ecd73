package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

const (
	// DefaultMaxResponseBytes is the default limit on the JSON text of a tool result (512KB).
	DefaultMaxResponseBytes = 512 * 1024

	// AbsoluteMaxResponseBytes caps any configured limit (2MB).
	AbsoluteMaxResponseBytes = 2 * 1024 * 1024
)

// TruncationWarning describes a payload that was replaced by a preview.
type TruncationWarning struct {
	Truncated     bool   `json:"truncated"`
	OriginalBytes int    `json:"original_bytes"`
	Preview       string `json:"preview"`
	Message       string `json:"message"`
}

// EffectiveLimit bounds a configured response limit.
func EffectiveLimit(maxBytes int) int {
	if maxBytes <= 0 {
		return DefaultMaxResponseBytes
	}
	return min(maxBytes, AbsoluteMaxResponseBytes)
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// RenderResult renders a result envelope. When the envelope exceeds maxBytes
// its payload is replaced by a TruncationWarning carrying a prefix of the
// payload JSON, so the text stays valid JSON.
func RenderResult(res *dispatch.Result, maxBytes int) *mcp.CallToolResult {
	limit := EffectiveLimit(maxBytes)

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err))
	}
	if len(data) <= limit {
		return mcp.NewToolResultText(string(data))
	}

	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal payload: %v", err))
	}

	truncated := *res
	truncated.Payload = TruncationWarning{
		Truncated:     true,
		OriginalBytes: len(payload),
		Preview:       prefix(payload, limit/2),
		Message: fmt.Sprintf("Payload truncated: %d bytes exceed the %d byte limit. Narrow the query for complete results.",
			len(payload), limit),
	}
	return JSONResult(&truncated)
}

// prefix returns at most n bytes of data without splitting a UTF-8 sequence.
func prefix(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	cut := data[:n]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.ToValidUTF8(string(cut), "")
}
