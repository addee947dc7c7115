package events

import (
	"sync"

	"pizzaRun/models"
)

// Event types delivered to user subscribers.
const (
	TypeOrderStatus = "order_status"
	TypeAchievement = "achievement_unlocked"
	TypeStats       = "stats_updated"
)

// Event is the payload published to a user's subscribers.
type Event struct {
	Type        string                `json:"type"`
	UserID      string                `json:"user_id"`
	Order       *models.Order         `json:"order,omitempty"`
	Achievement *models.Achievement   `json:"achievement,omitempty"`
	Stats       *models.LifetimeStats `json:"stats,omitempty"`
}

// Broker is an in-process pub/sub keyed by user ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives events for the given user.
func (b *Broker) Subscribe(userID string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the user's subscribers.
func (b *Broker) Unsubscribe(userID string, ch chan Event) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given user.
func (b *Broker) Publish(userID string, ev Event) {
	ev.UserID = userID
	b.mu.RLock()
	for ch := range b.subs[userID] {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}
