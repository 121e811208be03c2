// Package registry keeps the bidirectional channel/subscriber index.
//
// Both maps are mutated under one lock, so a reader never observes a pair
// present in one index and missing from the other.
package registry

import (
	"sort"
	"sync"
)

// Stats summarizes the registry contents.
type Stats struct {
	Channels      int `json:"channels"`
	Subscribers   int `json:"subscribers"`
	Subscriptions int `json:"subscriptions"`
}

// Registry maps channel -> subscribers and subscriber -> channels.
type Registry[S comparable] struct {
	mu        sync.RWMutex
	byChannel map[string]map[S]struct{}
	bySub     map[S]map[string]struct{}
}

func New[S comparable]() *Registry[S] {
	return &Registry[S]{
		byChannel: make(map[string]map[S]struct{}),
		bySub:     make(map[S]map[string]struct{}),
	}
}

// Subscribe adds the pair. It reports whether the pair was new.
func (r *Registry[S]) Subscribe(sub S, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byChannel[channel]
	if _, ok := subs[sub]; ok {
		return false
	}
	if subs == nil {
		subs = make(map[S]struct{})
		r.byChannel[channel] = subs
	}
	subs[sub] = struct{}{}

	channels := r.bySub[sub]
	if channels == nil {
		channels = make(map[string]struct{})
		r.bySub[sub] = channels
	}
	channels[channel] = struct{}{}
	return true
}

// Unsubscribe removes the pair. It reports whether the pair existed.
func (r *Registry[S]) Unsubscribe(sub S, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byChannel[channel]
	if !ok {
		return false
	}
	if _, ok := subs[sub]; !ok {
		return false
	}
	r.removeLocked(sub, channel)
	return true
}

// SubscribersOf returns a snapshot of the channel's subscribers.
func (r *Registry[S]) SubscribersOf(channel string) []S {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byChannel[channel]
	out := make([]S, 0, len(subs))
	for s := range subs {
		out = append(out, s)
	}
	return out
}

// ChannelsOf returns the sorted channel names the subscriber holds.
func (r *Registry[S]) ChannelsOf(sub S) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := r.bySub[sub]
	out := make([]string, 0, len(channels))
	for ch := range channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// IsSubscribed reports whether the pair exists.
func (r *Registry[S]) IsSubscribed(sub S, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byChannel[channel][sub]
	return ok
}

// Cleanup drops every membership of sub and returns the channels it left.
// Calling it again for the same subscriber is a no-op.
func (r *Registry[S]) Cleanup(sub S) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := r.bySub[sub]
	if len(channels) == 0 {
		delete(r.bySub, sub)
		return nil
	}
	left := make([]string, 0, len(channels))
	for ch := range channels {
		left = append(left, ch)
	}
	for _, ch := range left {
		r.removeLocked(sub, ch)
	}
	sort.Strings(left)
	return left
}

// Stats returns counts for diagnostics.
func (r *Registry[S]) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subs := range r.byChannel {
		total += len(subs)
	}
	return Stats{
		Channels:      len(r.byChannel),
		Subscribers:   len(r.bySub),
		Subscriptions: total,
	}
}

// caller holds r.mu
func (r *Registry[S]) removeLocked(sub S, channel string) {
	if subs := r.byChannel[channel]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.byChannel, channel)
		}
	}
	if channels := r.bySub[sub]; channels != nil {
		delete(channels, channel)
		if len(channels) == 0 {
			delete(r.bySub, sub)
		}
	}
}
