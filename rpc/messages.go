// Package rpc exposes a Hybrid cache over gRPC as the rawr.Cache service. The
// service is registered through a hand-written [grpc.ServiceDesc], so no
// protobuf code generation is required.
//
// Request and response types are plain Go structs. The package registers a
// codec wrapper under the name "proto" that JSON-encodes these types and
// delegates every other message to the standard protobuf codec. Importing
// the package activates the codec.
package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // register the default proto codec first
	"google.golang.org/protobuf/proto"

	"github.com/Keksclan/goRawrStash/expiry"
)

// GetRequest is the input of Cache/Get.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse is the output of Cache/Get.
type GetResponse struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// PutRequest is the input of Cache/Put.
//
// TTLMillis selects the entry lifetime: 0 uses the server's default TTL, a
// negative value never expires and a positive value expires after that many
// milliseconds.
type PutRequest struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	TTLMillis int64  `json:"ttl_ms,omitempty"`
}

// PutResponse is the output of Cache/Put.
type PutResponse struct{}

// RemoveRequest is the input of Cache/Remove.
type RemoveRequest struct {
	Key string `json:"key"`
}

// RemoveResponse is the output of Cache/Remove.
type RemoveResponse struct{}

// ClearRequest is the input of Cache/Clear.
type ClearRequest struct{}

// ClearResponse is the output of Cache/Clear.
type ClearResponse struct{}

// WatchRequest opens a Cache/Watch stream for one key.
type WatchRequest struct {
	Key string `json:"key"`
}

// WatchEvent is one state of a watched key. The first event is the current
// state; Found is false after removal, expiry or eviction.
type WatchEvent struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// message is a marker satisfied by every type above.
type message interface {
	isCacheMsg()
}

func (*GetRequest) isCacheMsg()     {}
func (*GetResponse) isCacheMsg()    {}
func (*PutRequest) isCacheMsg()     {}
func (*PutResponse) isCacheMsg()    {}
func (*RemoveRequest) isCacheMsg()  {}
func (*RemoveResponse) isCacheMsg() {}
func (*ClearRequest) isCacheMsg()   {}
func (*ClearResponse) isCacheMsg()  {}
func (*WatchRequest) isCacheMsg()   {}
func (*WatchEvent) isCacheMsg()     {}

// TTL converts the wire TTL into an expiry.TTL.
func (r *PutRequest) TTL() expiry.TTL {
	switch {
	case r.TTLMillis < 0:
		return expiry.Never()
	case r.TTLMillis > 0:
		return expiry.After(time.Duration(r.TTLMillis) * time.Millisecond)
	default:
		return expiry.None
	}
}

// ttlMillis is the inverse of PutRequest.TTL for client-side durations:
// 0 keeps the server default, negative never expires.
func ttlMillis(d time.Duration) int64 {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	default:
		return max(d.Milliseconds(), 1)
	}
}

// ---------- codec wrapper ----------

func init() {
	grpcEncoding.RegisterCodec(codec{})
}

// codec JSON-encodes cache messages and hands protobuf messages to
// proto.Marshal/Unmarshal.
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(message); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("rpc codec: unsupported message type %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(message); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("rpc codec: unsupported message type %T", v)
}
