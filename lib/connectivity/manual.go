package connectivity

import (
	"sync"
	"sync/atomic"
)

// Manual is an IOracle whose state is set explicitly.
// Applications feed it from platform callbacks, tests use it to simulate network changes.
type Manual struct {
	online  atomic.Bool
	quality atomic.Int32

	mu    sync.RWMutex
	conds Conditions

	subs *subscribers
}

// NewManual creates a manual oracle. An online oracle starts with QualityGood.
func NewManual(online bool) *Manual {
	m := &Manual{subs: newSubscribers()}
	m.online.Store(online)
	m.quality.Store(int32(QualityGood))
	return m
}

// SetOnline changes the online state. Going from offline to online runs the
// OnReconnect callbacks before SetOnline returns.
func (m *Manual) SetOnline(online bool) {
	was := m.online.Swap(online)
	if online && !was {
		m.subs.fire()
	}
}

// SetQuality sets the quality reported while online.
func (m *Manual) SetQuality(q Quality) {
	m.quality.Store(int32(q))
}

// SetConditions sets the device conditions.
func (m *Manual) SetConditions(c Conditions) {
	m.mu.Lock()
	m.conds = c
	m.mu.Unlock()
}

func (m *Manual) IsOnline() bool {
	return m.online.Load()
}

func (m *Manual) Quality() Quality {
	if !m.IsOnline() {
		return QualityUnknown
	}
	return Quality(m.quality.Load())
}

func (m *Manual) OnReconnect(fn func()) (cancel func()) {
	return m.subs.add(fn)
}

func (m *Manual) Conditions() Conditions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conds
}
