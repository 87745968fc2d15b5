package hap

import (
	"sync"

	"github.com/google/uuid"
)

// Device is the accessory long-term identity. Loaded once per handshake
// step, never mutated by the handlers.
type Device struct {
	ID         string // MAC-like, ex. 77:75:87:A0:7D:F4
	PublicKey  []byte // 32 bytes Ed25519
	PrivateKey []byte // 64 bytes Ed25519 (seed + public)
	PIN        string // setup code with dashes, ex. 123-45-678
}

// Pairing is a persisted trust record for one controller, created by
// Pair-Setup and read back by Pair-Verify.
type Pairing struct {
	ID          uuid.UUID
	Permissions byte
	PublicKey   []byte // 32 bytes Ed25519
}

func (p *Pairing) Admin() bool {
	return p.Permissions == PermissionAdmin
}

// Store is what the handshake handlers need from the outside world. Pairing
// returns ErrNotFound for unknown controllers. CountPairings and SavePairing
// must be consistent under concurrent handshakes so that a max-peers ceiling
// can be enforced.
type Store interface {
	Device() (*Device, error)
	Pairing(id uuid.UUID) (*Pairing, error)
	SavePairing(p *Pairing) error
	DeletePairing(id uuid.UUID) error
	CountPairings() (int, error)
}

// MemoryStore keeps everything in a mutex-guarded map. Good enough for tests
// and as the base for persistent wrappers.
type MemoryStore struct {
	device *Device

	mu       sync.Mutex
	pairings map[uuid.UUID]*Pairing
}

func NewMemoryStore(device *Device) *MemoryStore {
	return &MemoryStore{
		device:   device,
		pairings: map[uuid.UUID]*Pairing{},
	}
}

func (s *MemoryStore) Device() (*Device, error) {
	return s.device, nil
}

func (s *MemoryStore) Pairing(id uuid.UUID) (*Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) SavePairing(p *Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairings[p.ID] = p
	return nil
}

func (s *MemoryStore) DeletePairing(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pairings, id)
	return nil
}

func (s *MemoryStore) CountPairings() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pairings), nil
}

// Pairings returns a snapshot, used by the pairings list method and by the
// mDNS status flag.
func (s *MemoryStore) Pairings() []*Pairing {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*Pairing, 0, len(s.pairings))
	for _, p := range s.pairings {
		list = append(list, p)
	}
	return list
}
