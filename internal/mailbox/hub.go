package mailbox

import "sync"

// Hub fans updates out to live subscribers of a recipient.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Update
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Update),
	}
}

// Subscribe returns a buffered channel and a function that detaches and closes it.
func (h *Hub) Subscribe(recipientID string) (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Update, 10)
	h.subscribers[recipientID] = append(h.subscribers[recipientID], ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subscribers[recipientID]
			for i, c := range subs {
				if c == ch {
					h.subscribers[recipientID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subscribers[recipientID]) == 0 {
				delete(h.subscribers, recipientID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Notify(recipientID string, update Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[recipientID] {
		select {
		case ch <- update:
		default:
			// slow subscriber, drop
		}
	}
}
