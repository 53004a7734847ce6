package notify

import (
	"context"
	"sync"

	"github.com/talentmesh/milestones-api/internal/negotiation"
)

const defaultBufferSize = 16

// Dispatcher fans negotiation events out to in-process subscribers keyed by
// contract id. It implements negotiation.Notifier; the chat collaborator
// subscribes per contract and turns events into messages. Publishing never
// blocks: a subscriber that cannot keep up misses events.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan negotiation.Event
}

// NewDispatcher constructs an event dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe returns a channel of events for one contract and a cancel
// function. The subscription also ends when the context is done.
func (d *Dispatcher) Subscribe(ctx context.Context, contractID string) (<-chan negotiation.Event, func()) {
	if contractID == "" {
		ch := make(chan negotiation.Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan negotiation.Event, d.bufferSize),
	}
	d.register(contractID, sub)
	cleanup := func() {
		d.unregister(contractID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every subscriber of its contract.
func (d *Dispatcher) Publish(event negotiation.Event) {
	if event.ContractID == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[event.ContractID] {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) register(contractID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	contractSubscribers, ok := d.subscribers[contractID]
	if !ok {
		contractSubscribers = make(map[int64]*subscriber)
		d.subscribers[contractID] = contractSubscribers
	}
	contractSubscribers[sub.id] = sub
}

func (d *Dispatcher) unregister(contractID string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	contractSubscribers, ok := d.subscribers[contractID]
	if !ok {
		return
	}
	if sub, ok := contractSubscribers[id]; ok {
		delete(contractSubscribers, id)
		close(sub.stream)
	}
	if len(contractSubscribers) == 0 {
		delete(d.subscribers, contractID)
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
