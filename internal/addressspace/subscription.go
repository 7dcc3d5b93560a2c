package addressspace

import (
	"fmt"
	"sync"
)

// Subscription delivers value changes of one variable. When the consumer
// falls behind, older undelivered values are dropped in favour of the newest.
type Subscription struct {
	C <-chan DataValue

	ch     chan DataValue
	node   NodeID
	id     uint64
	space  *AddressSpace
	cancel sync.Once
}

// Node returns the subscribed variable.
func (sub *Subscription) Node() NodeID { return sub.node }

// Cancel stops delivery and closes C.
func (sub *Subscription) Cancel() {
	sub.cancel.Do(func() {
		s := sub.space
		s.mu.Lock()
		defer s.mu.Unlock()
		if m := s.subs[sub.node]; m != nil {
			delete(m, sub.id)
			if len(m) == 0 {
				delete(s.subs, sub.node)
			}
		}
		close(sub.ch)
	})
}

// Subscribe registers for value changes of a variable. The current value is
// delivered immediately.
func (s *AddressSpace) Subscribe(id NodeID, buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(id, ClassVariable)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.nextSub++
	ch := make(chan DataValue, buffer)
	sub := &Subscription{C: ch, ch: ch, node: id, id: s.nextSub, space: s}
	if s.subs[id] == nil {
		s.subs[id] = make(map[uint64]*Subscription)
	}
	s.subs[id][sub.id] = sub
	ch <- n.Value
	return sub, nil
}

// notify fans a new value out to subscribers. Callers hold the write lock,
// which makes this the only sender on every channel.
func (s *AddressSpace) notify(id NodeID, v DataValue) {
	for _, sub := range s.subs[id] {
		select {
		case sub.ch <- v:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- v:
		default:
		}
	}
}
