// Package rpc is the local control-plane service each daemon exposes to
// its own CLI (cmd/customer, cmd/merchant) over google.golang.org/grpc --
// distinct from the customer-merchant session transport in package
// session, which never touches gRPC. There is no .proto file: the
// request/response types below are plain Go structs encoded with the json
// codec this package registers, the same way package session prefers a
// hand-rolled JSON encoding over protobuf for its own wire messages.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements grpc/encoding.Codec, letting grpc.ClientConn and
// grpc.Server exchange plain Go structs without any generated protobuf
// code. Registered globally in init(); callers opt into it per call with
// grpc.CallContentSubtype(codecName) or per server with
// grpc.ForceServerCodec(Codec()).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the registered codec, for grpc.ForceServerCodec.
func Codec() encoding.Codec { return jsonCodec{} }
