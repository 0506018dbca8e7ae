package service

import (
	"sync"

	"github.com/foomo/geocat-mcp/service/vo"
)

// Registry keeps track of the active pickers, edit sessions finishing a new
// shared object insert into a picker found here.
type Registry struct {
	mu      sync.RWMutex
	pickers []*Picker
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(p *Picker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.pickers {
		if existing.ID() == p.ID() {
			r.pickers[i] = p
			return
		}
	}
	r.pickers = append(r.pickers, p)
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pickers {
		if p.ID() == id {
			r.pickers = append(r.pickers[:i], r.pickers[i+1:]...)
			return
		}
	}
}

func (r *Registry) Get(id string) *Picker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pickers {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// First returns the earliest registered picker of the given kind
func (r *Registry) First(kind vo.Kind) *Picker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pickers {
		if p.Kind() == kind {
			return p
		}
	}
	return nil
}

func (r *Registry) List() []*Picker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Picker(nil), r.pickers...)
}
