package session

import (
	"sync"

	"github.com/google/uuid"
)

// InMemoryResumptionStore is a ResumptionStore backed by a mutex-guarded
// map, the default for a single merchant process (a restart loses
// in-flight resumable sessions, matching spec.md's silence on persisting
// the handshake pair itself -- only channel state is durable).
type InMemoryResumptionStore struct {
	mu   sync.Mutex
	byID map[string]string
}

func NewInMemoryResumptionStore() *InMemoryResumptionStore {
	return &InMemoryResumptionStore{byID: make(map[string]string)}
}

var _ ResumptionStore = (*InMemoryResumptionStore)(nil)

func (s *InMemoryResumptionStore) Lookup(clientUUID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serverUUID, ok := s.byID[clientUUID]
	return serverUUID, ok
}

func (s *InMemoryResumptionStore) Register(clientUUID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	serverUUID := uuid.NewString()
	s.byID[clientUUID] = serverUUID
	return serverUUID
}
