package cache

import "github.com/boddenberg/fenix-agent-go/internal/port"

// HitRecorder counts lookups per cache name.
type HitRecorder interface {
	IncrCacheHit(cache string)
	IncrCacheMiss(cache string)
}

// Metered reports hits and misses of an underlying cache.
type Metered[T any] struct {
	inner    port.Cache[T]
	name     string
	recorder HitRecorder
}

// NewMetered wraps inner under name.
func NewMetered[T any](inner port.Cache[T], name string, recorder HitRecorder) *Metered[T] {
	return &Metered[T]{inner: inner, name: name, recorder: recorder}
}

func (m *Metered[T]) Get(key string) (T, bool) {
	v, ok := m.inner.Get(key)
	if ok {
		m.recorder.IncrCacheHit(m.name)
	} else {
		m.recorder.IncrCacheMiss(m.name)
	}
	return v, ok
}

func (m *Metered[T]) Set(key string, value T) { m.inner.Set(key, value) }

func (m *Metered[T]) Delete(key string) { m.inner.Delete(key) }
