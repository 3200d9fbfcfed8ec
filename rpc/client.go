package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/Keksclan/goRawrStash/retry"
)

// Client is a typed rawr.Cache client. Unary calls are retried according to
// its retry.Config; Watch streams are not.
type Client struct {
	cc    grpc.ClientConnInterface
	retry retry.Config
}

// NewClient wraps conn. Pass retry.DefaultConfig to retry Unavailable errors,
// or a zero Config to disable retries.
func NewClient(conn grpc.ClientConnInterface, cfg retry.Config) *Client {
	return &Client{cc: conn, retry: cfg}
}

// Get returns the value under key and whether it was found.
func (c *Client) Get(ctx context.Context, key string, opts ...grpc.CallOption) ([]byte, bool, error) {
	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*GetResponse, error) {
		out := new(GetResponse)
		return out, c.cc.Invoke(ctx, MethodGet, &GetRequest{Key: key}, out, opts...)
	})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Put stores value under key. A zero ttl uses the server default and a
// negative ttl never expires.
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration, opts ...grpc.CallOption) error {
	req := &PutRequest{Key: key, Value: value, TTLMillis: ttlMillis(ttl)}
	return c.invoke(ctx, MethodPut, req, new(PutResponse), opts)
}

// Remove deletes key.
func (c *Client) Remove(ctx context.Context, key string, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodRemove, &RemoveRequest{Key: key}, new(RemoveResponse), opts)
}

// Clear deletes every entry.
func (c *Client) Clear(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodClear, &ClearRequest{}, new(ClearResponse), opts)
}

// Watch opens a change stream for key. The stream ends when ctx is canceled.
func (c *Client) Watch(ctx context.Context, key string, opts ...grpc.CallOption) (*Watcher, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatch, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Key: key}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any, opts []grpc.CallOption) error {
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.cc.Invoke(ctx, method, req, reply, opts...)
	})
	return err
}

// Watcher receives the events of one Cache/Watch stream.
type Watcher struct {
	stream grpc.ClientStream
}

// Recv blocks until the next event arrives. It returns io.EOF when the server
// closed the stream.
func (w *Watcher) Recv() (*WatchEvent, error) {
	ev := new(WatchEvent)
	if err := w.stream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
