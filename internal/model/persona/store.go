package persona

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

type catalogue struct {
	Personas []Persona `toml:"persona"`
}

// LoadFile 从 TOML 文件读取角色目录，文件中的同名角色覆盖内置角色。
//
//	[[persona]]
//	id = "einstein"
//	context = "..."
//	[persona.voices]
//	elevenlabs = "pNInz6obpgDQGcFmaJgB"
func LoadFile(path string, base []Persona) ([]Persona, error) {
	var cat catalogue
	if _, err := toml.DecodeFile(path, &cat); err != nil {
		return nil, fmt.Errorf("decode persona file %s: %w", path, err)
	}

	merged := append([]Persona(nil), base...)
	for _, p := range cat.Personas {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("persona file %s: entry without id", path)
		}
		replaced := false
		for i := range merged {
			if merged[i].ID == p.ID {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	return merged, nil
}
