// Package scene owns the authoritative, ordered collection of scene objects
// and keeps it in step with the durable store.
package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"scenehub/server/internal/store"
	"scenehub/server/logging"
	loggingscene "scenehub/server/logging/scene"
)

// ErrNotFound is returned by Remove when no entry is structurally equal to
// the requested object.
var ErrNotFound = errors.New("object not found")

// PersistenceError reports a mutation that was rolled back because the
// snapshot could not be written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist scene after %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Scene is the persisted document shape: {"objects": [...]}.
type Scene struct {
	Objects []Object `json:"objects"`
}

// Len reports the number of entries.
func (s Scene) Len() int {
	return len(s.Objects)
}

type document struct {
	Objects *[]json.RawMessage `json:"objects"`
}

// Options tunes a Registry.
type Options struct {
	// PersistTimeout bounds each store write. Zero means no deadline beyond
	// the caller's context.
	PersistTimeout time.Duration
	Publisher      logging.Publisher
}

// Registry is the single owner of the Scene. Every mutation is applied to a
// copy, written to the store, and only then made visible; a failed write
// leaves the in-memory scene exactly as it was.
//
// Add does not reject duplicate ids. Two entries with the same id coexist
// until a Remove or Update touches one of them.
type Registry struct {
	mu        sync.RWMutex
	objects   []Object
	revision  uint64
	store     store.Store
	timeout   time.Duration
	publisher logging.Publisher
}

func NewRegistry(s store.Store, opts Options) *Registry {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Registry{
		objects:   make([]Object, 0),
		store:     s,
		timeout:   opts.PersistTimeout,
		publisher: publisher,
	}
}

// Load replaces the in-memory scene with the persisted one. A missing
// snapshot yields an empty scene; an undecodable one is a
// *store.CorruptStateError.
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.store.Read(ctx)
	if errors.Is(err, store.ErrNotExist) {
		r.mu.Lock()
		r.objects = make([]Object, 0)
		r.mu.Unlock()
		loggingscene.SceneLoaded(ctx, r.publisher, loggingscene.LoadedPayload{Fresh: true})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}

	objects, err := decodeDocument(data)
	if err != nil {
		return &store.CorruptStateError{Backend: r.store.Backend(), Location: storeLocation(r.store), Err: err}
	}

	r.mu.Lock()
	r.objects = objects
	r.mu.Unlock()
	loggingscene.SceneLoaded(ctx, r.publisher, loggingscene.LoadedPayload{Objects: len(objects)})
	return nil
}

// Add appends obj and persists. It returns the new scene.
func (r *Registry) Add(ctx context.Context, obj Object) (Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Object, len(r.objects), len(r.objects)+1)
	copy(next, r.objects)
	next = append(next, obj.Clone())
	if err := r.commitLocked(ctx, "add", next); err != nil {
		return Scene{}, err
	}
	return r.snapshotLocked(), nil
}

// Remove deletes the first entry structurally equal to obj. A same-id entry
// with different fields does not match.
func (r *Registry) Remove(ctx context.Context, obj Object) (Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := -1
	for i, existing := range r.objects {
		if existing.Equal(obj) {
			index = i
			break
		}
	}
	if index < 0 {
		return Scene{}, fmt.Errorf("remove %s: %w", obj.ID, ErrNotFound)
	}

	next := make([]Object, 0, len(r.objects)-1)
	next = append(next, r.objects[:index]...)
	next = append(next, r.objects[index+1:]...)
	if err := r.commitLocked(ctx, "remove", next); err != nil {
		return Scene{}, err
	}
	return r.snapshotLocked(), nil
}

// Update replaces the first entry whose id matches obj with obj itself;
// fields are not merged. When no entry matches the call is a no-op: the
// scene is untouched, nothing is persisted, and matched is false.
func (r *Registry) Update(ctx context.Context, obj Object) (scene Scene, matched bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := -1
	for i, existing := range r.objects {
		if existing.ID.Equal(obj.ID) {
			index = i
			break
		}
	}
	if index < 0 {
		return r.snapshotLocked(), false, nil
	}

	next := make([]Object, len(r.objects))
	copy(next, r.objects)
	next[index] = obj.Clone()
	if err := r.commitLocked(ctx, "update", next); err != nil {
		return Scene{}, false, err
	}
	return r.snapshotLocked(), true, nil
}

// Snapshot returns the current scene. The returned objects share field maps
// with the registry and must be treated as read-only.
func (r *Registry) Snapshot() Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Revision counts committed mutations since the registry was created.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Len reports the number of entries in the scene.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Backend names the durable store in use.
func (r *Registry) Backend() string {
	return r.store.Backend()
}

func (r *Registry) snapshotLocked() Scene {
	objects := make([]Object, len(r.objects))
	copy(objects, r.objects)
	return Scene{Objects: objects}
}

func (r *Registry) commitLocked(ctx context.Context, op string, next []Object) error {
	data, err := encodeDocument(next)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	writeCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.store.Write(writeCtx, data); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	r.objects = next
	r.revision++
	return nil
}

func encodeDocument(objects []Object) ([]byte, error) {
	if objects == nil {
		objects = make([]Object, 0)
	}
	return json.Marshal(Scene{Objects: objects})
}

func decodeDocument(data []byte) ([]Object, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Objects == nil {
		return nil, errors.New(`missing "objects" array`)
	}
	objects := make([]Object, 0, len(*doc.Objects))
	for i, raw := range *doc.Objects {
		obj, err := ParseObject(raw)
		if err != nil {
			return nil, fmt.Errorf("objects[%d]: %w", i, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func storeLocation(s store.Store) string {
	if located, ok := s.(interface{ Path() string }); ok {
		return located.Path()
	}
	return s.Backend()
}
