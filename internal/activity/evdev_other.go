//go:build !linux

package activity

import "context"

// Subscribe is not available outside Linux.
func (e *Evdev) Subscribe(context.Context) (<-chan Event, error) {
	return nil, ErrUnsupported
}
