// Package protocol implements the stream framer for stream-rpc.
//
// Messages are JSON objects written back to back with no delimiter and no length prefix, so
// the receiver cannot know a message's size up front. The Framer accumulates bytes and scans
// them once, tracking nesting depth and string state, to find where the current object ends.
// Scan state survives between feeds so a message arriving in many reads costs time linear in
// its size. The completed object is then decoded in one pass.
//
//	stream:  {"__init__":{...}}{"request_id":"a",...}{"request_id":"b","fu
//	         └──── message ───┘└────── message ─────┘└── partial (kept) ──
//
// Feed outcomes:
//
//	object complete           → dispatch via onMsg, continue with the remainder
//	end of input mid-object   → keep the remainder, ErrNeedMore (ParseError if over the limit)
//	not an object, bad syntax → ParseError, the connection must close
package protocol

import (
	"encoding/json"

	"stream-rpc/codec"
	"stream-rpc/message"
	"stream-rpc/rpcerr"
)

// DefaultMaxPayloadLength bounds the bytes a peer may leave buffered without completing a
// message.
const DefaultMaxPayloadLength = 16 * 1024 * 1024

// Framer recovers messages from a byte stream. It is owned by exactly one connection and is
// not safe for concurrent use.
type Framer struct {
	codec      codec.Codec
	maxPayload int
	onMsg      func(msg message.Message) error
	buf        []byte
	head       int

	// scan state of the object starting at head
	started  bool
	scanned  int
	depth    int
	inString bool
	escaped  bool
}

// NewFramer creates a framer that calls onMsg for every decoded message, in stream order.
// A maxPayload <= 0 selects DefaultMaxPayloadLength.
func NewFramer(maxPayload int, onMsg func(msg message.Message) error) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadLength
	}
	return &Framer{
		codec:      codec.Default,
		maxPayload: maxPayload,
		onMsg:      onMsg,
	}
}

// Feed appends data and dispatches every complete message in it.
//
// It returns nil when nothing is left buffered, rpcerr.ErrNeedMore when a partial message is
// waiting for more bytes, a *rpcerr.ParseError when the stream is corrupt or the partial
// message is larger than the limit, or the first error returned by onMsg. Any error other
// than ErrNeedMore is terminal for the stream.
func (f *Framer) Feed(data []byte) error {
	f.buf = append(f.buf, data...)
	defer f.compact()
	for {
		end, err := f.scan()
		if err != nil {
			return err
		}
		if end < 0 {
			if f.Buffered() == 0 {
				return nil
			}
			if f.Buffered() > f.maxPayload {
				return rpcerr.NewParseErrorf("payload is too long: %d bytes buffered, limit %d", f.Buffered(), f.maxPayload)
			}
			return rpcerr.ErrNeedMore
		}
		var raw json.RawMessage
		if err := json.Unmarshal(f.buf[f.head:end], &raw); err != nil {
			return rpcerr.NewParseErrorf("not a json message: %v", err)
		}
		f.head = end
		msg, err := f.codec.Decode(raw)
		if err != nil {
			return err
		}
		if err := f.onMsg(msg); err != nil {
			return err
		}
	}
}

// scan continues from where the previous call stopped and returns the offset just past the
// object starting at head, or -1 when that object is not complete yet.
func (f *Framer) scan() (int, error) {
	if !f.started {
		for f.head < len(f.buf) && isSpace(f.buf[f.head]) {
			f.head++
		}
		if f.head == len(f.buf) {
			return -1, nil
		}
		if f.buf[f.head] != '{' {
			return -1, rpcerr.NewParseErrorf("not a json message: expected an object, found %q", f.buf[f.head])
		}
		f.started = true
		f.scanned = f.head
	}
	for i := f.scanned; i < len(f.buf); i++ {
		b := f.buf[i]
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}
		switch b {
		case '"':
			f.inString = true
		case '{', '[':
			f.depth++
		case '}', ']':
			f.depth--
			if f.depth == 0 {
				f.resetScan()
				return i + 1, nil
			}
		}
	}
	f.scanned = len(f.buf)
	return -1, nil
}

func (f *Framer) resetScan() {
	f.started = false
	f.scanned = 0
	f.depth = 0
	f.inString = false
	f.escaped = false
}

// compact moves the unconsumed bytes to the front of buf.
func (f *Framer) compact() {
	if f.head == 0 {
		return
	}
	n := copy(f.buf, f.buf[f.head:])
	f.buf = f.buf[:n]
	if f.started {
		f.scanned -= f.head
	}
	f.head = 0
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// Serialize encodes one message for writing to the stream.
func (f *Framer) Serialize(msg message.Message) ([]byte, error) {
	return f.codec.Encode(msg)
}

// Buffered returns the number of bytes held for an incomplete message.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.head
}

// Reset drops any buffered bytes and releases the buffer.
func (f *Framer) Reset() {
	f.buf = nil
	f.head = 0
	f.resetScan()
}
