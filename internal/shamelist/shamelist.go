// Package shamelist is a thin read projection over the store's shame
// entries, giving the HTTP API a single call instead of reaching into the
// store's ordering rules directly.
package shamelist

import (
	"context"

	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/store"
)

// List exposes the public shame list.
type List struct {
	store store.Store
}

// New builds a List over store.
func New(st store.Store) *List { return &List{store: st} }

// Top returns the first limit shame entries, ordered displayOrder ASC,
// bot DESC, createdAt DESC (spec.md §3).
func (l *List) Top(ctx context.Context, limit int) ([]domain.ShameEntry, error) {
	return l.store.ListShame(ctx, limit)
}
