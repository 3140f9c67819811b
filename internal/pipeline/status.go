package pipeline

import (
	"sync"
	"time"

	"github.com/sairaghu538/cross-exchange-liquidity-engine/internal/exchange/common"
)

// ConnState is the last reported connection state of one feed.
type ConnState struct {
	Status common.Status `json:"status"`
	At     time.Time     `json:"at"`
}

// StatusBoard holds per-exchange connection state for polling by the API
// and the lifecycle coordinator. The processor is the only writer; readers
// get copies.
type StatusBoard struct {
	mu     sync.RWMutex
	states map[string]ConnState
}

// NewStatusBoard seeds every exchange as connecting, the state a feed is in
// before its first dial resolves.
func NewStatusBoard(exchanges ...string) *StatusBoard {
	now := time.Now().UTC()
	states := make(map[string]ConnState, len(exchanges))
	for _, ex := range exchanges {
		states[ex] = ConnState{Status: common.StatusConnecting, At: now}
	}
	return &StatusBoard{states: states}
}

func (b *StatusBoard) Set(exchange string, status common.Status, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[exchange] = ConnState{Status: status, At: at}
}

func (b *StatusBoard) Get(exchange string) (ConnState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[exchange]
	return st, ok
}

// All returns a copy of every feed's state.
func (b *StatusBoard) All() map[string]ConnState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]ConnState, len(b.states))
	for ex, st := range b.states {
		out[ex] = st
	}
	return out
}
