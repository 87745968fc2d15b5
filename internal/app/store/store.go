// Package store persists small pieces of state (device identity, pairings)
// to a JSON file next to the binary.
package store

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

const name = "hapd.json"

var (
	mu    sync.Mutex
	store map[string]any
)

func load() {
	data, _ := os.ReadFile(name)
	if data != nil {
		if err := json.Unmarshal(data, &store); err != nil {
			log.Warn().Err(err).Msg("[store] read")
		}
	}

	if store == nil {
		store = make(map[string]any)
	}
}

func save() error {
	data, err := json.Marshal(store)
	if err != nil {
		return err
	}

	return os.WriteFile(name, data, 0644)
}

func GetRaw(key string) any {
	mu.Lock()
	defer mu.Unlock()

	if store == nil {
		load()
	}

	return store[key]
}

func GetDict(key string) map[string]any {
	raw := GetRaw(key)
	if raw != nil {
		return raw.(map[string]any)
	}

	return make(map[string]any)
}

func Set(key string, v any) error {
	mu.Lock()
	defer mu.Unlock()

	if store == nil {
		load()
	}

	store[key] = v

	return save()
}
