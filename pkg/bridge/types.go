package bridge

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool is one remote tool as advertised by a device.
type Tool struct {
	// Name is the tool name, unique within one device.
	Name string `json:"name"`

	// Description describes what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for tool parameters.
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Content is one item of tool output (text, image, audio, resource).
type Content struct {
	// Type indicates the content type: "text", "image", "audio", "resource"
	Type string `json:"type"`

	// Text is the content text (for text content)
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded payload (for image/audio content)
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type (for image/audio content)
	MimeType string `json:"mime_type,omitempty"`

	// URI is the resource URI (for embedded resources)
	URI string `json:"uri,omitempty"`
}

// ToolCallResult is the outcome of one bridged tool call. IsError marks a
// tool-level failure reported by the device inside a successful JSON-RPC
// response, as opposed to a JSON-RPC error object.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"is_error,omitempty"`
}

// toolFromMCP converts an SDK tool to the domain type. The SDK's input
// schema is a struct; flatten it back into the JSON Schema map form.
func toolFromMCP(t mcp.Tool) Tool {
	inputSchema := map[string]any{
		"type": t.InputSchema.Type,
	}
	if t.InputSchema.Properties != nil {
		inputSchema["properties"] = t.InputSchema.Properties
	}
	if len(t.InputSchema.Required) > 0 {
		inputSchema["required"] = t.InputSchema.Required
	}

	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: inputSchema,
	}
}

// contentFromMCP converts one SDK content item to the domain type.
func contentFromMCP(content mcp.Content) Content {
	if textContent, ok := mcp.AsTextContent(content); ok {
		return Content{
			Type: "text",
			Text: textContent.Text,
		}
	}
	if imageContent, ok := mcp.AsImageContent(content); ok {
		return Content{
			Type:     "image",
			Data:     imageContent.Data,
			MimeType: imageContent.MIMEType,
		}
	}
	if audioContent, ok := mcp.AsAudioContent(content); ok {
		return Content{
			Type:     "audio",
			Data:     audioContent.Data,
			MimeType: audioContent.MIMEType,
		}
	}
	if resource, ok := mcp.AsEmbeddedResource(content); ok {
		if text, ok := resource.Resource.(mcp.TextResourceContents); ok {
			return Content{
				Type:     "resource",
				Text:     text.Text,
				MimeType: text.MIMEType,
				URI:      text.URI,
			}
		}
		return Content{Type: "resource"}
	}
	return Content{Type: "unknown"}
}

func resultFromMCP(res *mcp.CallToolResult) *ToolCallResult {
	out := &ToolCallResult{
		Content: make([]Content, 0, len(res.Content)),
		IsError: res.IsError,
	}
	for _, c := range res.Content {
		out.Content = append(out.Content, contentFromMCP(c))
	}
	return out
}
