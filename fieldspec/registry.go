package fieldspec

import "sync/atomic"

// Spec bundles the field tables for one packet role family plus the shared
// extended field table, the unit that Registry swaps atomically.
type Spec struct {
	Request  *FieldTable
	Response *FieldTable
	Extended *ExtendedFieldTable
}

// Registry holds the currently active Spec behind an atomic pointer so a
// reload is visible to all readers as a single atomic swap: no reader ever
// observes a half-updated table.
type Registry struct {
	current atomic.Pointer[Spec]
}

// NewRegistry creates a Registry pre-populated with spec.
func NewRegistry(spec *Spec) *Registry {
	r := &Registry{}
	r.current.Store(spec)
	return r
}

// Current returns the active Spec. It is safe to call concurrently with
// Reload from any number of goroutines.
func (r *Registry) Current() *Spec {
	return r.current.Load()
}

// Reload atomically replaces the active Spec. The caller is responsible for
// having already validated spec (e.g. via LoadFile/LoadExtendedFile, which
// reject malformed tables before they are ever returned).
func (r *Registry) Reload(spec *Spec) {
	r.current.Store(spec)
}

// LoadSpecFiles loads request/response/extended field tables from disk and
// returns them as one Spec, ready to hand to NewRegistry or Reload. Any
// parse or validation failure leaves the previously active Spec (if any)
// completely untouched, since the new Spec only becomes visible once this
// call returns successfully and the caller swaps it in.
func LoadSpecFiles(requestPath, responsePath, extendedPath string, maxFileBytes int64) (*Spec, error) {
	request, err := LoadFile(requestPath, maxFileBytes)
	if err != nil {
		return nil, err
	}
	response, err := LoadFile(responsePath, maxFileBytes)
	if err != nil {
		return nil, err
	}
	extended, err := LoadExtendedFile(extendedPath, maxFileBytes)
	if err != nil {
		return nil, err
	}
	return &Spec{Request: request, Response: response, Extended: extended}, nil
}
