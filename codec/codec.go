// Package codec turns a Message into its JSON object and back.
//
// Decoding classifies the raw object by its keys before unmarshalling the body:
// "__init__" → Handshake, "__quit__" → Quit, "ret_code" → Response, anything else → Request.
package codec

import "stream-rpc/message"

// Codec encodes one Message to one self-delimiting object and decodes one object.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(msg message.Message) ([]byte, error)
	Decode(data []byte) (message.Message, error)
}

// Default is the codec used by every Framer unless another is supplied.
var Default Codec = &JSONCodec{}
