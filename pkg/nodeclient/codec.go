package nodeclient

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc/encoding.Codec so node RPCs can ride a
// plain gRPC connection (framing, multiplexing, deadlines) without a
// compiled protobuf schema. The wire format of node RPCs is explicitly
// out of scope for the core controller; JSON keeps the request/result
// types declared in Go and lets a new node-API version add fields
// without a recompile step on both sides.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("nodeclient: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

const codecName = "json"
