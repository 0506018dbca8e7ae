package layers

import (
	"github.com/foomo/geocat-mcp/service/vo"
)

// Filter decides which layers the manager lists
type Filter func(layer *vo.Layer) bool

// Selected lists everything but background layers
func Selected(layer *vo.Layer) bool {
	return !layer.Background
}

type Manager struct {
	layers *Collection
	filter Filter
}

func NewManager(layers *Collection, filter Filter) *Manager {
	return &Manager{
		layers: layers,
		filter: filter,
	}
}

func (m *Manager) Layers() *Collection {
	return m.layers
}

func (m *Manager) RemoveLayerFromMap(layer *vo.Layer) {
	m.layers.Remove(layer)
}

// MoveLayer moves the layer by delta positions in map order. A move leaving
// [0, len-1] returns ErrMoveOutOfRange and changes nothing.
func (m *Manager) MoveLayer(layer *vo.Layer, delta int) error {
	return m.layers.move(layer, delta)
}

// CanMove is used to disable move controls at the boundaries
func (m *Manager) CanMove(layer *vo.Layer, delta int) bool {
	i := m.layers.IndexOf(layer)
	if i < 0 {
		return false
	}
	target := i + delta
	return target >= 0 && target < m.layers.Len()
}

// Display returns the layers top most first, the reverse of map order
func (m *Manager) Display() []*vo.Layer {
	layers := m.layers.Array()
	display := make([]*vo.Layer, 0, len(layers))
	for i := len(layers) - 1; i >= 0; i-- {
		if m.filter != nil && !m.filter(layers[i]) {
			continue
		}
		display = append(display, layers[i])
	}
	return display
}

// Find looks a layer up by name
func (m *Manager) Find(name string) *vo.Layer {
	for _, l := range m.layers.Array() {
		if l.Name == name {
			return l
		}
	}
	return nil
}
