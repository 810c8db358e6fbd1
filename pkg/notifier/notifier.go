package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives published values. Handlers run synchronously on the
// publishing goroutine and must not block for long.
type Handler[T any] func(T)

// Subscription identifies one registered handler.
type Subscription struct {
	id uuid.UUID
}

// Notifier fans published values out to registered handlers, in
// subscription order. A handler that panics is isolated: the panic is
// recovered and logged, the remaining handlers still run, and the
// publisher never sees the failure.
type Notifier[T any] struct {
	logger *slog.Logger

	mu       sync.RWMutex
	order    []uuid.UUID
	handlers map[uuid.UUID]Handler[T]
	closed   bool

	// publishMu serializes dispatch so events are delivered in the order
	// they were published, without holding the handler list lock across
	// user code.
	publishMu sync.Mutex
}

// Option configures a Notifier during construction.
type Option[T any] func(*Notifier[T])

// WithLogger sets the logger used to report isolated handler failures.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(n *Notifier[T]) {
		n.logger = l
	}
}

// New creates a notifier with no subscribers.
func New[T any](opts ...Option[T]) *Notifier[T] {
	n := &Notifier[T]{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		handlers: make(map[uuid.UUID]Handler[T]),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers a handler and returns its subscription. Handlers
// registered after an event was published do not see that event.
func (n *Notifier[T]) Subscribe(h Handler[T]) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := uuid.New()
	if n.closed {
		return Subscription{id: id}
	}

	n.order = append(n.order, id)
	n.handlers[id] = h
	return Subscription{id: id}
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are ignored.
func (n *Notifier[T]) Unsubscribe(sub Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.handlers[sub.id]; !ok {
		return
	}
	delete(n.handlers, sub.id)
	for i, id := range n.order {
		if id == sub.id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Publish delivers v to all current subscribers synchronously, in
// subscription order.
func (n *Notifier[T]) Publish(v T) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	handlers := make([]Handler[T], 0, len(n.order))
	for _, id := range n.order {
		if h, ok := n.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		n.dispatch(h, v)
	}
}

func (n *Notifier[T]) dispatch(h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notifier: subscriber panicked",
				slog.Any("panic", r),
				slog.String("value", fmt.Sprintf("%v", v)),
			)
		}
	}()
	h(v)
}

// Events returns a channel that receives every value published after the
// call. The subscription is removed when ctx is cancelled or the notifier
// is closed. Values are dropped for this subscriber when its buffer is
// full, so a stalled consumer never blocks publishers.
func (n *Notifier[T]) Events(ctx context.Context, buffer int) <-chan T {
	ch := make(chan T, max(buffer, 1))

	sub := n.Subscribe(func(v T) {
		select {
		case ch <- v:
		default:
		}
	})

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			n.Unsubscribe(sub)
		}()
	}

	return ch
}

// Close removes all subscribers. Publish and Subscribe become no-ops.
// Close is idempotent.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	n.order = nil
	clear(n.handlers)
}
