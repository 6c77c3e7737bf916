// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package registry merges per-transport discovery snapshots with trust and
// blacklist state into one de-duplicated device list.
//
// A Registry is owned by a single goroutine (the engine loop); only Current
// may be called from elsewhere. This keeps mutation lock-free: the
// serialization the pairing engine needs lives per identity in the pairing
// package, not here.
package registry

import (
	"reflect"
	"sort"
	"sync/atomic"
	"time"

	"github.com/toeirei/pairmaster/internal/crypto/keys"
	"github.com/toeirei/pairmaster/internal/model"
)

// Registry holds the inputs of the projection and its latest result.
type Registry struct {
	snapshots map[model.TransportKind]model.Snapshot
	trusted   map[model.DeviceIdentity]model.TrustRecord
	blocked   map[model.DeviceIdentity]bool
	// bound maps a provisional candidate key to the identity learned by a
	// successful key exchange over that candidate.
	bound map[string]model.DeviceIdentity

	view atomic.Pointer[[]model.RegistryEntry]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{
		snapshots: make(map[model.TransportKind]model.Snapshot),
		trusted:   make(map[model.DeviceIdentity]model.TrustRecord),
		blocked:   make(map[model.DeviceIdentity]bool),
		bound:     make(map[string]model.DeviceIdentity),
	}
	empty := []model.RegistryEntry{}
	r.view.Store(&empty)
	return r
}

// Current returns the latest projection. It is safe for concurrent use.
func (r *Registry) Current() []model.RegistryEntry {
	v := *r.view.Load()
	out := make([]model.RegistryEntry, len(v))
	copy(out, v)
	return out
}

// Lookup finds an entry by its key.
func (r *Registry) Lookup(key string) (model.RegistryEntry, bool) {
	for _, e := range *r.view.Load() {
		if e.Key == key {
			return e, true
		}
	}
	return model.RegistryEntry{}, false
}

// Apply replaces the snapshot of one transport and reports whether the
// visible state changed. Applying the same snapshot twice is a no-op.
func (r *Registry) Apply(s model.Snapshot) bool {
	r.snapshots[s.Transport] = s
	return r.rebuild()
}

// SetTrust replaces the set of trusted records.
func (r *Registry) SetTrust(records []model.TrustRecord) bool {
	r.trusted = make(map[model.DeviceIdentity]model.TrustRecord, len(records))
	for _, rec := range records {
		if rec.State == model.TrustPaired {
			r.trusted[rec.Identity] = rec
		}
	}
	return r.rebuild()
}

// PutTrust records one pairing outcome.
func (r *Registry) PutTrust(rec model.TrustRecord) bool {
	if rec.State == model.TrustPaired {
		r.trusted[rec.Identity] = rec
	} else {
		delete(r.trusted, rec.Identity)
	}
	return r.rebuild()
}

// RemoveTrust forgets a revoked identity.
func (r *Registry) RemoveTrust(id model.DeviceIdentity) bool {
	delete(r.trusted, id)
	return r.rebuild()
}

// SetBlacklist replaces the blocked identities.
func (r *Registry) SetBlacklist(ids []model.DeviceIdentity) bool {
	r.blocked = make(map[model.DeviceIdentity]bool, len(ids))
	for _, id := range ids {
		r.blocked[id] = true
	}
	return r.rebuild()
}

// Bind merges the provisional entry for candidateKey into id.
func (r *Registry) Bind(candidateKey string, id model.DeviceIdentity) bool {
	if r.bound[candidateKey] == id {
		return false
	}
	r.bound[candidateKey] = id
	return r.rebuild()
}

// Candidate picks the transport to pair over for an entry. Transports are
// tried in model.AllTransports order.
func (r *Registry) Candidate(key string) (model.DeviceCandidate, bool) {
	e, ok := r.Lookup(key)
	if !ok {
		return model.DeviceCandidate{}, false
	}
	for _, kind := range model.AllTransports {
		if reach, ok := e.Via(kind); ok {
			return model.DeviceCandidate{
				Transport:          kind,
				Address:            reach.Address,
				Name:               e.Name,
				PublicID:           e.PublicID,
				SeenAt:             reach.SeenAt,
				NeedsAuthorization: reach.NeedsAuthorization,
				App:                reach.App,
			}, true
		}
	}
	return model.DeviceCandidate{}, false
}

// resolve returns the identity a candidate belongs to, if one is known.
// A public ID alone is unauthenticated, so it only merges into identities a
// key exchange has already produced.
func (r *Registry) resolve(c model.DeviceCandidate) (model.DeviceIdentity, bool) {
	if id, ok := r.bound[c.Key()]; ok {
		return id, true
	}
	if len(c.PublicID) == 0 {
		return "", false
	}
	id := keys.DeriveIdentity(c.PublicID, nil)
	if _, ok := r.trusted[id]; ok {
		return id, true
	}
	for _, b := range r.bound {
		if b == id {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) rebuild() bool {
	entries := make(map[string]*model.RegistryEntry)
	get := func(key string, id model.DeviceIdentity) *model.RegistryEntry {
		e, ok := entries[key]
		if !ok {
			e = &model.RegistryEntry{Key: key, Identity: id}
			entries[key] = e
		}
		return e
	}

	for _, kind := range model.AllTransports {
		for _, c := range r.snapshots[kind].Candidates {
			key := c.Key()
			id, known := r.resolve(c)
			if known {
				key = string(id)
			}
			e := get(key, id)
			if e.Name == "" {
				e.Name = c.Name
			}
			if len(e.PublicID) == 0 {
				e.PublicID = c.PublicID
			}
			if _, dup := e.Via(c.Transport); dup {
				continue
			}
			e.Reachability = append(e.Reachability, model.Reachability{
				Transport:          c.Transport,
				Address:            c.Address,
				SeenAt:             c.SeenAt,
				NeedsAuthorization: c.NeedsAuthorization,
				App:                c.App,
			})
		}
	}
	for id := range r.trusted {
		get(string(id), id)
	}
	for _, id := range r.bound {
		get(string(id), id)
	}

	out := make([]model.RegistryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Identity != "" {
			if rec, ok := r.trusted[e.Identity]; ok {
				e.Trusted = true
				if e.Name == "" {
					e.Name = rec.FriendlyName
				}
			}
			e.Blacklisted = r.blocked[e.Identity]
		} else if len(e.PublicID) > 0 {
			// Not merged, but a device announcing a blocked public ID is
			// shown as blacklisted rather than as pairable.
			e.Blacklisted = r.blocked[keys.DeriveIdentity(e.PublicID, nil)]
		}
		e.Status = DeriveStatus(*e)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	prev := *r.view.Load()
	r.view.Store(&out)
	return !sameView(prev, out)
}

// DeriveStatus applies the status precedence to one entry.
func DeriveStatus(e model.RegistryEntry) model.Status {
	if e.Blacklisted {
		return model.StatusBlacklisted
	}
	for _, reach := range e.Reachability {
		if reach.Transport == model.TransportUSB && reach.App == model.AppMissing {
			return model.StatusAppNotInstalled
		}
	}
	for _, reach := range e.Reachability {
		if reach.NeedsAuthorization {
			return model.StatusNeedsAuthorization
		}
	}
	switch {
	case e.Reachable() && !e.Trusted:
		return model.StatusNeedsPairing
	case e.Trusted && e.Reachable():
		return model.StatusOnline
	case e.Trusted:
		return model.StatusOffline
	default:
		return model.StatusNotPaired
	}
}

// sameView compares two projections ignoring sighting timestamps, which
// move on every tick.
func sameView(a, b []model.RegistryEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := stripSeen(a[i]), stripSeen(b[i])
		if !reflect.DeepEqual(x, y) {
			return false
		}
	}
	return true
}

func stripSeen(e model.RegistryEntry) model.RegistryEntry {
	reach := make([]model.Reachability, len(e.Reachability))
	for i, r := range e.Reachability {
		r.SeenAt = time.Time{}
		reach[i] = r
	}
	e.Reachability = reach
	return e
}
