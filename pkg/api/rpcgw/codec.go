package rpcgw

import "encoding/json"

// jsonCodec is a grpc/encoding.Codec that marshals messages as JSON
// instead of protobuf wire format. No .proto toolchain is available in
// this environment, so the RPC gateway's contract is expressed as
// plain Go structs (see messages.go) registered directly with a
// hand-built grpc.ServiceDesc, and grpc's codec layer is the only
// piece swapped out to carry them. Clients select it per-call with
// grpc.CallContentSubtype(codecName).
type jsonCodec struct{}

const codecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }
