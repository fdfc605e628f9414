package infra

import (
	"context"
	"sync"

	"reservation-gateway/reservation/domain"
)

type Counters struct {
	OK       int64 `json:"ok"`
	Rejected int64 `json:"rejected"`
}

// StatsSnapshot é a leitura agregada comum aos stores de estatística.
type StatsSnapshot struct {
	ByOp     map[domain.Op]Counters  `json:"byOp"`
	ByReason map[domain.Reason]int64 `json:"byReason"`
}

func newStatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		ByOp:     make(map[domain.Op]Counters),
		ByReason: make(map[domain.Reason]int64),
	}
}

// add soma n ao resultado "ok" ou a um motivo de rejeição.
func (s StatsSnapshot) add(op domain.Op, outcome string, n int64) {
	c := s.ByOp[op]
	if outcome == "ok" {
		c.OK += n
	} else {
		c.Rejected += n
		s.ByReason[domain.Reason(outcome)] += n
	}
	s.ByOp[op] = c
}

// MemoryStatsStore conta resultados de reserve/cancel em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	byOp       map[domain.Op]Counters
	byReason   map[domain.Reason]int64
	byResource map[domain.ResourceID]Counters

	trackResources bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackResources liga a contagem por recurso (cuidado com cardinalidade).
func WithTrackResources(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackResources = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byOp:       make(map[domain.Op]Counters),
		byReason:   make(map[domain.Reason]int64),
		byResource: make(map[domain.ResourceID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.OutcomeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byOp[ev.Op]
	r := s.byResource[ev.ResourceID]
	if ev.OK {
		c.OK++
		r.OK++
	} else {
		c.Rejected++
		r.Rejected++
		s.byReason[ev.Reason]++
	}
	s.byOp[ev.Op] = c
	if s.trackResources {
		s.byResource[ev.ResourceID] = r
	}
	return nil
}

func (s *MemoryStatsStore) ByOp(op domain.Op) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOp[op]
}

func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByResource() map[domain.ResourceID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ResourceID]Counters, len(s.byResource))
	for k, v := range s.byResource {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) Snapshot(context.Context) (StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := newStatsSnapshot()
	for op, c := range s.byOp {
		snap.ByOp[op] = c
	}
	for reason, n := range s.byReason {
		snap.ByReason[reason] = n
	}
	return snap, nil
}
