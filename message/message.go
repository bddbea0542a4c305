// Package message defines the wire units exchanged between client and server.
//
// Every unit is one JSON object on the stream. A Message is a tagged value: exactly one of
// Handshake, Request or Response is set, according to Kind (Quit carries no body).
//
//   - Handshake: {"__init__": {"in_order": true, "timeout": 30}}
//   - Quit:      {"__quit__": true}
//   - Request:   {"request_id": "...", "func_name": "add", "args": [2, 3], "kw": {}}
//   - Response:  {"request_id": "...", "func_name": "add", "ret_code": 200, "result": 5, "msg": ""}
package message

import "time"

// Kind distinguishes the four message shapes.
type Kind byte

const (
	KindRequest   Kind = 0 // Client → Server call
	KindResponse  Kind = 1 // Server → Client result
	KindHandshake Kind = 2 // First message after connect, declares ordering
	KindQuit      Kind = 3 // Last message before the sender closes
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindHandshake:
		return "handshake"
	case KindQuit:
		return "quit"
	}
	return "unknown"
}

// Handshake declares per-connection options. Timeout is advisory and never enforced.
type Handshake struct {
	InOrder bool
	Timeout time.Duration
}

// Request carries a single remote call. RequestID is opaque to the server.
type Request struct {
	RequestID string         `json:"request_id"`
	FuncName  string         `json:"func_name"`
	Args      []any          `json:"args"`
	Kw        map[string]any `json:"kw"`
}

// Response answers exactly one Request, RetCode 200 on success.
type Response struct {
	RequestID string `json:"request_id"`
	FuncName  string `json:"func_name"`
	RetCode   int    `json:"ret_code"`
	Result    any    `json:"result"`
	Msg       string `json:"msg"`
}

type Message struct {
	Kind      Kind
	Handshake *Handshake
	Request   *Request
	Response  *Response
}

func NewHandshake(inOrder bool, timeout time.Duration) Message {
	return Message{Kind: KindHandshake, Handshake: &Handshake{InOrder: inOrder, Timeout: timeout}}
}

func NewQuit() Message {
	return Message{Kind: KindQuit}
}

// NewRequest never leaves Args or Kw nil so they encode as [] and {}.
func NewRequest(requestID, funcName string, args []any, kw map[string]any) Message {
	if args == nil {
		args = []any{}
	}
	if kw == nil {
		kw = map[string]any{}
	}
	return Message{Kind: KindRequest, Request: &Request{
		RequestID: requestID,
		FuncName:  funcName,
		Args:      args,
		Kw:        kw,
	}}
}

func NewResponse(resp *Response) Message {
	return Message{Kind: KindResponse, Response: resp}
}

// Reply builds the response skeleton for a request, ret_code defaulting to 200.
func (r *Request) Reply() *Response {
	return &Response{
		RequestID: r.RequestID,
		FuncName:  r.FuncName,
		RetCode:   200,
	}
}

// OK reports whether the response carries a successful result.
func (r *Response) OK() bool {
	return r.RetCode == 200
}
