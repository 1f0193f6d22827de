// Package chat connects the agent to a WhatsApp gateway daemon speaking
// JSON-RPC 2.0 over WebSocket, and bridges inbound messages into the
// routing and tool-dispatch core.
package chat

import (
	"encoding/json"
	"fmt"
)

// Envelope is one inbound message notification from the gateway. From
// carries the raw sender identifier as the gateway reports it, which may
// include a server suffix ("18091234567@s.whatsapp.net").
type Envelope struct {
	From        string       `json:"from"`
	PushName    string       `json:"push_name,omitempty"`
	Timestamp   int64        `json:"timestamp"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a media reference carried by an inbound message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// HasContent reports whether the envelope carries anything worth
// processing.
func (e *Envelope) HasContent() bool {
	return e.Text != "" || len(e.Attachments) > 0
}

// rpcRequest is a JSON-RPC 2.0 request written to the gateway socket.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcRaw inspects incoming frames to distinguish responses (have an id)
// from notifications (have a method).
type rpcRaw struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("gateway rpc error %d: %s", e.Code, e.Message)
}

// rpcResponse pairs a raw JSON result with an optional error for
// delivery through the pending channel.
type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}
