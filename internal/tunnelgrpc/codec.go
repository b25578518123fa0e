package tunnelgrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC content-subtype so both ends of the
// tunnel negotiate our hand-rolled binary framing instead of protobuf.
const codecName = "rogframe"

// frameCodec implements encoding.Codec over *Frame, standing in for the
// protoc-generated marshaler a real .proto-based service would use.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("tunnelgrpc: codec cannot marshal %T", v)
	}
	return f.Encode(), nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("tunnelgrpc: codec cannot unmarshal into %T", v)
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

func (frameCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(frameCodec{})
}
