package utils

import (
	"fmt"
	"math"
	"sync"
)

// Broadcast distributes values pushed by the owner to a dynamic set of
// subscriber channels. Subscribers that do not keep up lose their oldest
// entries rather than blocking the producer, monitoring streams must never
// stall the real-time path.
type Broadcast[T any] struct {
	size int

	closed  bool
	mutex   sync.Mutex
	outputs map[int64]chan T
}

func NewBroadcast[T any](size int) *Broadcast[T] {
	if size < 1 {
		size = 1
	}
	return &Broadcast[T]{
		size:    size,
		outputs: make(map[int64]chan T),
	}
}

// Publish delivers v to every subscriber, evicting the oldest buffered entry
// of a full subscriber to make room.
func (b *Broadcast[T]) Publish(v T) {
	b.mutex.Lock()
	for _, o := range b.outputs {
		for {
			select {
			case o <- v:
			default:
				select {
				case <-o:
				default:
				}
				continue
			}
			break
		}
	}
	b.mutex.Unlock()
}

// Subscribe creates a new output channel and its ID for later unsubscribing.
func (b *Broadcast[T]) Subscribe() (int64, <-chan T, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return 0, nil, fmt.Errorf("broadcast is closed")
	}

	var id int64
	var found bool
	for id = 0; id < math.MaxInt64; id++ {
		_, ok := b.outputs[id]
		if !ok {
			found = true
			break
		}
	}
	if !found {
		return 0, nil, fmt.Errorf("no space available")
	}

	newChan := make(chan T, b.size)
	b.outputs[id] = newChan
	return id, newChan, nil
}

// Unsubscribe removes and closes the output channel with given ID.
func (b *Broadcast[T]) Unsubscribe(id int64) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	c, ok := b.outputs[id]
	if !ok {
		return fmt.Errorf("output id %d not found", id)
	}
	close(c)
	delete(b.outputs, id)
	return nil
}

// Close closes every subscriber channel. Publish must not be called afterwards.
func (b *Broadcast[T]) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	for id, c := range b.outputs {
		close(c)
		delete(b.outputs, id)
	}
	b.closed = true
}
