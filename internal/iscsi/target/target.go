// Package target implements the TargetRegistry (C3): the name -> (alias,
// BlockStore) map every Login and SendTargets text request resolves
// against, plus the Target value that pairs a name with its backing
// blockstore.Store.
//
// Grounded on dittofs's metadata-registry shape used by its volume/share
// tables: a name-keyed map behind one sync.RWMutex, sentinel errors for
// duplicate/not-found, and a deterministic List() ordering for anything
// that walks the whole set (here, SendTargets responses).
package target

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/istgtd/istgtd/pkg/blockstore"
)

// Target pairs an iqn.* name with its optional alias and backing store,
// per spec.md section 3's Target data model.
type Target struct {
	Name  string
	Alias string
	Store blockstore.Store
}

// ErrDuplicateTarget is returned by Add when Name is already registered.
var ErrDuplicateTarget = errors.New("target: name already registered")

// ErrNotFound is returned by Lookup/Remove when no target by that name
// is registered.
var ErrNotFound = errors.New("target: not found")

// ErrInUse is returned by Remove when InUseChecker reports the target
// still has a live session referencing it.
var ErrInUse = errors.New("target: in use by a live session")

// InUseChecker reports whether any live session still references the
// named target, so Remove can refuse to drop a target out from under a
// connection. session.Registry.HasSessionForTarget satisfies this.
type InUseChecker func(targetName string) bool

// Registry is the process-wide target name -> Target map (C3).
// Read-mostly: lookups used on every Login and SendTargets request
// take the shared lock; Add/Remove take the exclusive one.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Target
	inUse   InUseChecker
}

// NewRegistry creates an empty Registry. inUse may be nil, in which case
// Remove never refuses for being in-use (suitable for tests and for
// configurations where targets are never removed at runtime).
func NewRegistry(inUse InUseChecker) *Registry {
	return &Registry{
		targets: make(map[string]*Target),
		inUse:   inUse,
	}
}

// Add registers t. Fails with ErrDuplicateTarget if t.Name is already
// registered.
func (r *Registry) Add(t *Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, t.Name)
	}
	r.targets[t.Name] = t
	return nil
}

// Lookup returns the target registered under name, or ErrNotFound.
func (r *Registry) Lookup(name string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// Remove unregisters the target named name, refusing (ErrInUse) if the
// registry's InUseChecker reports a live session still references it,
// per spec.md section 3: "removal permitted only when no session
// references it".
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if r.inUse != nil && r.inUse(name) {
		return fmt.Errorf("%w: %s", ErrInUse, name)
	}
	delete(r.targets, name)
	return nil
}

// List returns every registered target, sorted by name for a
// deterministic SendTargets response order.
func (r *Registry) List() []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every registered target's backing store, aggregating any
// close failures with errors.Join rather than stopping at the first one,
// matching dittofs's own registry-teardown style.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, t := range r.targets {
		if t.Store == nil {
			continue
		}
		if err := t.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
