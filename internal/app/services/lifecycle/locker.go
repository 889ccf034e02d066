package lifecycle

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker hands out per-domain busy tokens. Acquire never blocks waiting for a
// holder: it reports ok=false when the token is taken.
type Locker interface {
	Acquire(ctx context.Context, domain string) (token string, ok bool, err error)
	Release(ctx context.Context, domain, token string) error
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{tokens: make(map[string]string)}
}

func (l *MemoryLocker) Acquire(_ context.Context, domain string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.tokens[domain]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	l.tokens[domain] = token
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, domain, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens[domain] == token {
		delete(l.tokens, domain)
	}
	return nil
}

// Held reports whether a token is outstanding for domain.
func (l *MemoryLocker) Held(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.tokens[domain]
	return held
}
