package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Registry holds one bucket per rate class key, with a default bucket for
// requests whose keys match nothing.
type Registry struct {
	mu      sync.RWMutex
	def     *Bucket
	buckets map[string]*Bucket
}

// NewRegistry creates a registry around the default bucket.
func NewRegistry(def *Bucket) *Registry {
	return &Registry{
		def:     def,
		buckets: make(map[string]*Bucket),
	}
}

// Set registers the bucket for key.
func (r *Registry) Set(key string, b *Bucket) {
	r.mu.Lock()
	r.buckets[key] = b
	r.mu.Unlock()
}

// Get returns the bucket for key or the default bucket.
func (r *Registry) Get(key string) *Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.buckets[key]; ok {
		return b
	}
	return r.def
}

// Default returns the default bucket.
func (r *Registry) Default() *Bucket {
	return r.def
}

// resolve maps keys to distinct buckets, falling back to the default bucket.
func (r *Registry) resolve(keys []string) []*Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bucket, 0, len(keys)+1)
	seen := make(map[*Bucket]struct{}, len(keys)+1)
	for _, key := range keys {
		b, ok := r.buckets[key]
		if !ok {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	if len(out) == 0 && r.def != nil {
		out = append(out, r.def)
	}
	return out
}

// AcquireKeys waits on every bucket matched by keys. Tokens taken from earlier
// buckets are not refunded if a later wait is canceled.
func (r *Registry) AcquireKeys(ctx context.Context, keys []string, weight uint32) error {
	for _, b := range r.resolve(keys) {
		if err := b.Acquire(ctx, weight); err != nil {
			return err
		}
	}
	return nil
}

// DebitExtra debits every bucket matched by keys.
func (r *Registry) DebitExtra(keys []string, n uint32) {
	for _, b := range r.resolve(keys) {
		b.DebitExtra(n)
	}
}

// ApplyCooldown pauses every bucket matched by keys.
func (r *Registry) ApplyCooldown(keys []string, d time.Duration) {
	for _, b := range r.resolve(keys) {
		b.ApplyCooldown(d)
	}
}

// SyncUsed reconciles every bucket matched by keys with a reported used weight.
func (r *Registry) SyncUsed(keys []string, used uint32) {
	for _, b := range r.resolve(keys) {
		b.SyncUsed(used)
	}
}
