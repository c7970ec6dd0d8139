package objectinfo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no record exists for a key.
var ErrNotFound = errors.New("objectinfo: not found")

// Provider supplies a full object-info table. The conversion core only ever
// asks for the whole table and treats it as read-only.
type Provider interface {
	Fetch(ctx context.Context) (*Table, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*Table, error)

// Fetch calls f(ctx).
func (f ProviderFunc) Fetch(ctx context.Context) (*Table, error) {
	return f(ctx)
}

type staticProvider struct {
	table *Table
}

// Static returns a Provider that always yields table.
func Static(table *Table) Provider {
	return staticProvider{table: table}
}

func (s staticProvider) Fetch(context.Context) (*Table, error) {
	return s.table, nil
}
