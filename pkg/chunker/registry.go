package chunker

import "fmt"

// DefaultAlias resolves to the token-like chunker.
const DefaultAlias = "default"

// Registry resolves chunker ids (optionally through an alias table) to
// chunker implementations. Read-only after construction — safe for
// concurrent use across requests.
type Registry struct {
	chunkers map[string]Chunker
	aliases  map[string]string
}

// NewRegistry creates a registry with the built-in strategies registered and
// the "default" alias pointing at the token-like chunker.
func NewRegistry() *Registry {
	tokenLike := NewSimpleTokenLikeChunker()
	char := NewSimpleCharChunker()
	return &Registry{
		chunkers: map[string]Chunker{
			tokenLike.ID(): tokenLike,
			char.ID():      char,
		},
		aliases: map[string]string{
			DefaultAlias: tokenLike.ID(),
		},
	}
}

// Get resolves id through the alias table and returns the chunker.
func (r *Registry) Get(id string) (Chunker, error) {
	resolved := id
	if target, ok := r.aliases[id]; ok {
		resolved = target
	}
	c, ok := r.chunkers[resolved]
	if !ok {
		return nil, fmt.Errorf("chunker not found: %s", id)
	}
	return c, nil
}

// Has reports whether id (or its alias target) is registered.
func (r *Registry) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

// IDs returns all registered chunker ids and aliases.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.chunkers)+len(r.aliases))
	for id := range r.chunkers {
		ids = append(ids, id)
	}
	for alias := range r.aliases {
		ids = append(ids, alias)
	}
	return ids
}
