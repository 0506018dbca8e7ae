// Package layers keeps the ordered layer list of a map and the layer manager
// operating on it.
package layers

import (
	"errors"
	"sync"

	"github.com/foomo/geocat-mcp/service/vo"
)

var (
	ErrMoveOutOfRange  = errors.New("layer move out of range")
	ErrIndexOutOfRange = errors.New("layer index out of range")
)

// Collection is the ordered layer collection of a map, index 0 is rendered first
type Collection struct {
	mu     sync.RWMutex
	layers []*vo.Layer
}

func NewCollection(layers ...*vo.Layer) *Collection {
	return &Collection{layers: append([]*vo.Layer(nil), layers...)}
}

// Array returns a snapshot of the layers
func (c *Collection) Array() []*vo.Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*vo.Layer(nil), c.layers...)
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layers)
}

func (c *Collection) Push(layer *vo.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = append(c.layers, layer)
}

func (c *Collection) IndexOf(layer *vo.Layer) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(layer)
}

func (c *Collection) indexOf(layer *vo.Layer) int {
	for i, l := range c.layers {
		if l == layer {
			return i
		}
	}
	return -1
}

func (c *Collection) RemoveAt(i int) *vo.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeAt(i)
}

func (c *Collection) removeAt(i int) *vo.Layer {
	if i < 0 || i >= len(c.layers) {
		return nil
	}
	l := c.layers[i]
	c.layers = append(c.layers[:i], c.layers[i+1:]...)
	return l
}

// InsertAt places layer at index i, len is a valid index
func (c *Collection) InsertAt(i int, layer *vo.Layer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i > len(c.layers) {
		return ErrIndexOutOfRange
	}
	c.insertAt(i, layer)
	return nil
}

func (c *Collection) insertAt(i int, layer *vo.Layer) {
	c.layers = append(c.layers, nil)
	copy(c.layers[i+1:], c.layers[i:])
	c.layers[i] = layer
}

// Remove drops the layer, it reports whether the layer was part of the collection
func (c *Collection) Remove(layer *vo.Layer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(layer)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	return true
}

// move is atomic, readers never see the layer missing
func (c *Collection) move(layer *vo.Layer, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(layer)
	if i < 0 {
		return errors.New("layer not found")
	}
	target := i + delta
	if target < 0 || target >= len(c.layers) {
		return ErrMoveOutOfRange
	}
	c.removeAt(i)
	c.insertAt(target, layer)
	return nil
}
