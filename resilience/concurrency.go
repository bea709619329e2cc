package resilience

import "sync"

// Limiter enforces a per-connector cap on in-flight tool calls. Slots are
// buffered channels created lazily per connector; acquisition never blocks,
// a full connector simply reports no capacity.
type Limiter struct {
	mu              sync.Mutex
	slots           map[string]chan struct{}
	defaultCapacity int
	perConnector    map[string]int
}

// NewLimiter creates a limiter. perConnector overrides the default capacity
// for specific connector ids; a nil map means every connector uses the
// default.
func NewLimiter(defaultCapacity int, perConnector map[string]int) *Limiter {
	if defaultCapacity <= 0 {
		defaultCapacity = 8
	}
	return &Limiter{
		slots:           make(map[string]chan struct{}),
		defaultCapacity: defaultCapacity,
		perConnector:    perConnector,
	}
}

func (l *Limiter) slot(connectorID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[connectorID]
	if !ok {
		capacity := l.defaultCapacity
		if c, ok := l.perConnector[connectorID]; ok && c > 0 {
			capacity = c
		}
		ch = make(chan struct{}, capacity)
		l.slots[connectorID] = ch
	}
	return ch
}

// TryAcquire claims a slot for the connector. On success the returned release
// func gives the slot back and must be called exactly once; on failure the
// release func is nil.
func (l *Limiter) TryAcquire(connectorID string) (func(), bool) {
	ch := l.slot(connectorID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, true
	default:
		return nil, false
	}
}

// InFlight reports the current in-flight count for a connector.
func (l *Limiter) InFlight(connectorID string) int {
	return len(l.slot(connectorID))
}
