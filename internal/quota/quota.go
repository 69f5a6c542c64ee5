package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/mouseland/aistudio/internal/identity"
)

var ErrExceeded = errors.New("quota exceeded")

// Unlimited is the sentinel returned for tiers exempt from accounting.
const Unlimited = 1<<31 - 1

// Ledger tracks remaining generation allowance per (identity key, kind)
// for guests. Member and admin tiers short-circuit to Unlimited and
// Consume never decrements for them.
type Ledger interface {
	Remaining(ctx context.Context, ident identity.Identity, kind string) (int, error)
	// Consume atomically decrements and returns the new remaining count,
	// or ErrExceeded when nothing is left.
	Consume(ctx context.Context, ident identity.Identity, kind string) (int, error)
}

// MemoryLedger keeps counters in process memory. Used in tests and as a
// fallback when redis is not configured; counters reset on restart.
type MemoryLedger struct {
	mu        sync.Mutex
	allotment int
	remaining map[string]int
}

func NewMemoryLedger(allotment int) *MemoryLedger {
	return &MemoryLedger{
		allotment: allotment,
		remaining: make(map[string]int),
	}
}

func counterKey(identKey, kind string) string {
	return identKey + ":" + kind
}

func (l *MemoryLedger) Remaining(ctx context.Context, ident identity.Identity, kind string) (int, error) {
	_ = ctx
	if ident.Unlimited() {
		return Unlimited, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.remaining[counterKey(ident.Key, kind)]; ok {
		return v, nil
	}
	return l.allotment, nil
}

func (l *MemoryLedger) Consume(ctx context.Context, ident identity.Identity, kind string) (int, error) {
	_ = ctx
	if ident.Unlimited() {
		return Unlimited, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := counterKey(ident.Key, kind)
	v, ok := l.remaining[key]
	if !ok {
		v = l.allotment
	}
	if v <= 0 {
		return 0, ErrExceeded
	}
	v--
	l.remaining[key] = v
	return v, nil
}
