// Package transport exposes an rpc.Server to other processes, over gRPC or
// over newline-delimited JSON on a pair of streams.
package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SACHINnANYAKKARA/realm-js/internal/rpc"
)

// Handler performs one named request. *rpc.Server implements it.
type Handler interface {
	PerformRequest(name string, args rpc.Message) rpc.Message
}

// toStruct converts a message into a protobuf Struct. Responses may hold
// integer kinds and named map types, so the conversion goes through JSON.
func toStruct(m rpc.Message) (*structpb.Struct, error) {
	if m == nil {
		m = rpc.Message{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// fromStruct converts a protobuf Struct into a message. Numbers come back as
// float64.
func fromStruct(s *structpb.Struct) rpc.Message {
	if s == nil {
		return rpc.Message{}
	}
	return rpc.Message(s.AsMap())
}
