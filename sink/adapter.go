package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/vtt-scp/ccom-logger/internal/record"
)

// Adapter is the store client. The drain worker is its only caller: Copy
// stages a batch inside a transaction and Commit makes it durable. A failed
// Copy or Commit leaves no transaction open, so the batch can be retried.
type Adapter interface {
	Configure(ctx context.Context, cfg any) error // driver-specific config; opens the connection
	Copy(ctx context.Context, recs []record.Record) (int64, error)
	Commit(ctx context.Context) error
	Close(ctx context.Context) error // idempotent; rolls back anything uncommitted
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	names := make([]string, 0, len(reg))
	for n := range reg {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown sink %q (have %v)", name, names)
}
