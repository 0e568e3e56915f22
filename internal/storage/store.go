package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"kakeibo/internal/core"
)

// Store loads and saves the whole record collection as one document.
// Load on a store that was never written returns an empty collection.
type Store interface {
	Load(ctx context.Context) (core.Collection, error)
	Save(ctx context.Context, c core.Collection) error
	Close() error
}

// encode renders the collection the way it is persisted: an indented JSON
// array, "[]" when empty.
func encode(c core.Collection) ([]byte, error) {
	if c == nil {
		c = core.Collection{}
	}
	return json.MarshalIndent(c, "", "  ")
}

// ErrCorrupt is returned when a persisted document cannot be parsed. The
// parse error is flattened so record validation errors never leak out of
// the storage layer as client errors.
var ErrCorrupt = errors.New("corrupt record document")

func decode(data []byte) (core.Collection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return core.Collection{}, nil
	}
	var c core.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c == nil {
		c = core.Collection{}
	}
	return c, nil
}
