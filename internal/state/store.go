// Package state persists the last-applied attributes of every resource
// instance. The store is a local ledger, never authoritative: the
// remote system owns the truth and the engine tolerates discovering
// drift on the next plan.
//
// Records are read and written one key at a time so a crash mid-apply
// leaves state consistent with reality for every instance that already
// completed.
package state

import (
	"context"

	"github.com/strata-io/strata/internal/ir"
)

// Store is the durable record keeper. Put and Delete are atomic per
// key; calls for different keys must not block one another while calls
// for the same key are serialized.
type Store interface {
	// Get returns the record for key, or ok=false when absent.
	Get(ctx context.Context, key string) (rec *ir.Record, ok bool, err error)

	// Put atomically writes the record for rec.Key.
	Put(ctx context.Context, rec *ir.Record) error

	// Delete atomically removes the record for key. Deleting an absent
	// key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored record in unspecified order.
	List(ctx context.Context) ([]*ir.Record, error)

	Close() error
}
