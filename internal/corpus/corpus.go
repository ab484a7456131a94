// Package corpus reads the searchable population of entities from the host
// application's database. The corpus is owned by another system; this package
// only ever reads it.
package corpus

import "context"

// Entity is one registered person in the host application, as far as matching
// is concerned: a stable id, display fields for result rows, and the photo
// the descriptor is extracted from.
type Entity struct {
	ID       string
	Name     string
	Phone    string
	Status   string
	PhotoURL string
}

// Source lists the entities eligible for matching.
type Source interface {
	// ListRegistered returns every registered entity that has a photo, in a
	// stable order.
	ListRegistered(ctx context.Context) ([]Entity, error)

	// Get returns one entity by id, or (nil, nil) when it does not exist or
	// has no photo.
	Get(ctx context.Context, id string) (*Entity, error)
}
