package progress

import (
	"sync"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
	"github.com/zhouzirui/z-journal/backend/internal/model/gamification"
)

// subscriberBuffer is how many rewards a slow client may lag behind before
// rewards are dropped for it.
const subscriberBuffer = 16

type subscriber struct {
	rewards chan gamification.Reward
}

// Hub fans committed rewards out to the user's live connections. It
// implements gamification.Notifier.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish never blocks the reward path.
func (h *Hub) Publish(userID string, reward gamification.Reward) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[userID] {
		select {
		case sub.rewards <- reward:
		default:
			logger.Warn("reward feed full, dropping event", "user_id", userID)
		}
	}
}

func (h *Hub) subscribe(userID string) (*subscriber, func()) {
	sub := &subscriber{rewards: make(chan gamification.Reward, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		delete(h.subs[userID], sub)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		h.mu.Unlock()
	}
}

// Subscribers reports the number of live connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
