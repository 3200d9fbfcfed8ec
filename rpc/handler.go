package rpc

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Keksclan/goRawrStash/cache"
)

// watchBacklog bounds the events buffered for one slow watcher. Older events
// are dropped first; the latest state is always delivered.
const watchBacklog = 64

// Handler serves rawr.Cache from a Hybrid store.
type Handler struct {
	store *cache.Hybrid[string, []byte]
}

// NewHandler returns a Handler backed by store.
func NewHandler(store *cache.Hybrid[string, []byte]) *Handler {
	return &Handler{store: store}
}

var _ CacheServer = (*Handler)(nil)

func (h *Handler) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if req.Key == "" {
		return nil, errEmptyKey
	}
	v, ok := h.store.Get(ctx, req.Key)
	if err := ctx.Err(); err != nil && !ok {
		return nil, status.FromContextError(err).Err()
	}
	return &GetResponse{Value: v, Found: ok}, nil
}

func (h *Handler) Put(_ context.Context, req *PutRequest) (*PutResponse, error) {
	if req.Key == "" {
		return nil, errEmptyKey
	}
	h.store.Put(req.Key, req.Value, req.TTL())
	return &PutResponse{}, nil
}

func (h *Handler) Remove(_ context.Context, req *RemoveRequest) (*RemoveResponse, error) {
	if req.Key == "" {
		return nil, errEmptyKey
	}
	h.store.Remove(req.Key)
	return &RemoveResponse{}, nil
}

func (h *Handler) Clear(_ context.Context, _ *ClearRequest) (*ClearResponse, error) {
	h.store.Clear()
	return &ClearResponse{}, nil
}

// Watch streams every change of req.Key until the client goes away. The
// first event is the current memory-tier state of the key.
func (h *Handler) Watch(req *WatchRequest, stream WatchStream) error {
	if req.Key == "" {
		return errEmptyKey
	}

	box := newMailbox()
	stop := h.store.Observe(req.Key, func(v []byte, ok bool) {
		box.push(WatchEvent{Value: v, Found: ok})
	})
	defer stop()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-box.ready:
		}
		for _, ev := range box.drain() {
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

var errEmptyKey = status.Error(codes.InvalidArgument, "key must not be empty")

// mailbox hands observer events to the stream goroutine without ever
// blocking the goroutine that mutated the store.
type mailbox struct {
	mu     sync.Mutex
	events []WatchEvent
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev WatchEvent) {
	m.mu.Lock()
	if len(m.events) == watchBacklog {
		m.events = append(m.events[:0], m.events[1:]...)
	}
	m.events = append(m.events, ev)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []WatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}
