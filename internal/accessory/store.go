package accessory

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/openhap/hapd/internal/app/store"
	"github.com/openhap/hapd/pkg/hap"
)

// diskStore keeps pairings in memory and mirrors every change to the JSON
// store, so controllers stay trusted across restarts.
type diskStore struct {
	*hap.MemoryStore
	onChange func(paired bool)
}

func newDiskStore(device *hap.Device, onChange func(paired bool)) *diskStore {
	s := &diskStore{hap.NewMemoryStore(device), onChange}

	for id, raw := range store.GetDict("pairings") {
		uid, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		public, _ := item["public"].(string)
		perm, _ := item["permissions"].(float64)
		_ = s.MemoryStore.SavePairing(&hap.Pairing{
			ID:          uid,
			Permissions: byte(perm),
			PublicKey:   hap.DecodeKey(public),
		})
	}

	return s
}

func (s *diskStore) SavePairing(p *hap.Pairing) error {
	if err := s.MemoryStore.SavePairing(p); err != nil {
		return err
	}
	return s.flush()
}

func (s *diskStore) DeletePairing(id uuid.UUID) error {
	if err := s.MemoryStore.DeletePairing(id); err != nil {
		return err
	}
	return s.flush()
}

func (s *diskStore) flush() error {
	list := s.Pairings()

	dict := make(map[string]any, len(list))
	for _, p := range list {
		dict[p.ID.String()] = map[string]any{
			"public":      hex.EncodeToString(p.PublicKey),
			"permissions": int(p.Permissions),
		}
	}

	if s.onChange != nil {
		s.onChange(len(list) > 0)
	}

	return store.Set("pairings", dict)
}
