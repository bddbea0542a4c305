package codec

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"stream-rpc/message"
	"stream-rpc/rpcerr"
)

const (
	initKey    = "__init__"
	quitKey    = "__quit__"
	retCodeKey = "ret_code"
)

// JSONCodec uses encoding/json for bodies and gjson to classify objects without a full decode.
type JSONCodec struct{}

type wireHandshake struct {
	Init wireInit `json:"__init__"`
}

type wireInit struct {
	InOrder bool    `json:"in_order"`
	Timeout float64 `json:"timeout"` // seconds
}

type wireQuit struct {
	Quit bool `json:"__quit__"`
}

func (c *JSONCodec) Encode(msg message.Message) ([]byte, error) {
	var v any
	switch msg.Kind {
	case message.KindHandshake:
		if msg.Handshake == nil {
			return nil, errors.New("codec: handshake message without body")
		}
		v = &wireHandshake{Init: wireInit{
			InOrder: msg.Handshake.InOrder,
			Timeout: msg.Handshake.Timeout.Seconds(),
		}}
	case message.KindQuit:
		v = &wireQuit{Quit: true}
	case message.KindRequest:
		if msg.Request == nil {
			return nil, errors.New("codec: request message without body")
		}
		v = msg.Request
	case message.KindResponse:
		if msg.Response == nil {
			return nil, errors.New("codec: response message without body")
		}
		v = msg.Response
	default:
		return nil, errors.Errorf("codec: cannot encode message kind %d", msg.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Decode expects exactly one JSON object. Anything else is a ParseError.
func (c *JSONCodec) Decode(data []byte) (message.Message, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return message.Message{}, rpcerr.NewParseError("not a json message")
	}
	if init := root.Get(initKey); init.Exists() {
		return message.Message{Kind: message.KindHandshake, Handshake: decodeHandshake(init)}, nil
	}
	if root.Get(quitKey).Exists() {
		return message.NewQuit(), nil
	}
	if root.Get(retCodeKey).Exists() {
		resp := &message.Response{}
		if err := json.Unmarshal(data, resp); err != nil {
			return message.Message{}, rpcerr.NewParseErrorf("malformed response: %v", err)
		}
		return message.NewResponse(resp), nil
	}
	req := &message.Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return message.Message{}, rpcerr.NewParseErrorf("malformed request: %v", err)
	}
	return message.NewRequest(req.RequestID, req.FuncName, req.Args, req.Kw), nil
}

// A handshake without in_order keeps the default of strict ordering.
func decodeHandshake(init gjson.Result) *message.Handshake {
	hs := &message.Handshake{InOrder: true}
	if v := init.Get("in_order"); v.Exists() {
		hs.InOrder = v.Bool()
	}
	if v := init.Get("timeout"); v.Exists() {
		hs.Timeout = time.Duration(v.Float() * float64(time.Second))
	}
	return hs
}
