package query

import (
	"context"
	"fmt"
	"time"
)

// Result is a typed view of a Snapshot.
type Result[T any] struct {
	State      State
	Value      T
	Err        error
	UpdatedAt  time.Time
	Refreshing bool
}

// IsLoaded reports whether Value holds a fetched value.
func (r Result[T]) IsLoaded() bool {
	return r.State == Loaded
}

// IsPending reports whether no outcome is known yet.
func (r Result[T]) IsPending() bool {
	return r.State == NotLoaded || r.State == Loading
}

func typed[T any](s Snapshot) Result[T] {
	r := Result[T]{
		State:      s.State,
		Err:        s.Err,
		UpdatedAt:  s.UpdatedAt,
		Refreshing: s.Refreshing,
	}
	if s.Value != nil {
		v, ok := s.Value.(T)
		if !ok && s.State == Loaded {
			r.State = Failed
			r.Err = fmt.Errorf("query %s: value has type %T", s.Key, s.Value)
			return r
		}
		r.Value = v
	}
	return r
}

func erase[T any](fetch func(ctx context.Context) (T, error)) FetchFunc {
	if fetch == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

// Get returns the typed result of key, starting a fetch when needed.
func Get[T any](c *Client, key string, fetch func(ctx context.Context) (T, error)) Result[T] {
	return typed[T](c.Get(key, erase(fetch)))
}

// Peek returns the typed result of key without fetching.
func Peek[T any](c *Client, key string) Result[T] {
	return typed[T](c.Peek(key))
}

// Fetch requests key and waits for the outcome.
func Fetch[T any](ctx context.Context, c *Client, key string, fetch func(ctx context.Context) (T, error)) (Result[T], error) {
	c.Get(key, erase(fetch))
	snap, err := c.Await(ctx, key)
	if err != nil {
		return typed[T](snap), err
	}
	return typed[T](snap), nil
}
