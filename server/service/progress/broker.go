// Package progress fans job progress updates out to interested
// subscribers (the SSE endpoint, tests).
package progress

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind starts losing updates.
const subscriberBuffer = 16

// Update is one progress event for a job.
type Update struct {
	JobUID  string         `json:"jobId"`
	Status  string         `json:"status"`
	Stage   string         `json:"stage"`
	Current int32          `json:"current"`
	Total   int32          `json:"total"`
	Message string         `json:"message,omitempty"`
	Details *UpdateDetails `json:"details,omitempty"`
}

// UpdateDetails carries pipeline counters.
type UpdateDetails struct {
	ProcessedNodes        int `json:"processedNodes"`
	ProcessedEdges        int `json:"processedEdges"`
	DiscoveredCommunities int `json:"discoveredCommunities"`
}

// Broker is an in-process pub/sub hub keyed by job UID. Publishing
// never blocks: updates to slow subscribers are dropped. Safe for
// concurrent use.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan Update
	nextID      int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[int64]chan Update),
	}
}

// Subscribe registers for updates about one job. The returned cancel
// func must be called to release the subscription; it closes the
// channel.
func (b *Broker) Subscribe(jobUID string) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Update, subscriberBuffer)
	if b.subscribers[jobUID] == nil {
		b.subscribers[jobUID] = make(map[int64]chan Update)
	}
	b.subscribers[jobUID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[jobUID]
		if subs == nil {
			return
		}
		if existing, ok := subs[id]; ok {
			delete(subs, id)
			close(existing)
		}
		if len(subs) == 0 {
			delete(b.subscribers, jobUID)
		}
	}
	return ch, cancel
}

// Publish delivers an update to all subscribers of the job,
// fire-and-forget.
func (b *Broker) Publish(jobUID string, update Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[jobUID] {
		select {
		case ch <- update:
		default:
			// Subscriber buffer full, drop rather than stall the
			// pipeline.
		}
	}
}

// SubscriberCount reports active subscriptions for a job.
func (b *Broker) SubscriberCount(jobUID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobUID])
}
