// Package llm provides the multimodal provider clients: a request-response
// generator used by the highlight stage chain and a bidirectional live
// session used for audio commentary.
package llm

import (
	"context"
	"encoding/json"
)

// Part is one piece of multimodal content.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded media bytes.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is a role-tagged sequence of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Schema is a JSON-schema subset accepted by the provider for function
// parameter declarations.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

// FunctionDeclaration describes a callable function offered to the model.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionCall is a structured call emitted by the model.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Request is a single generation request.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string
	// SystemInstruction steers the model for this request.
	SystemInstruction string
	// Parts is the user turn content (prompt text, inline media).
	Parts []Part
	// Tools are the function declarations offered to the model.
	Tools []Tool
	// RequireFunction forces the model to call one of the declared
	// functions instead of replying with prose.
	RequireFunction bool
}

// Result is the parsed model reply.
type Result struct {
	Text          string
	FunctionCalls []FunctionCall
}

// Call returns the first function call with the given name, if any.
func (r *Result) Call(name string) (FunctionCall, bool) {
	for _, fc := range r.FunctionCalls {
		if fc.Name == name {
			return fc, true
		}
	}
	return FunctionCall{}, false
}

// Generator submits multimodal requests and returns parsed replies.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}
