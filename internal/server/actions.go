package server

import (
	"context"
	"errors"
	"sort"

	"github.com/danmuck/radlink/internal/device"
)

var ErrActionNotFound = errors.New("server: action not found")

// Action is a one-shot device operation reachable at POST /actions/:action.
type Action func(ctx context.Context, dev *device.Device) error

func defaultActions() map[string]Action {
	return map[string]Action{
		"dose-reset": func(ctx context.Context, dev *device.Device) error {
			return dev.DoseReset(ctx)
		},
		"spectrum-reset": func(ctx context.Context, dev *device.Device) error {
			return dev.SpectrumReset(ctx)
		},
	}
}

func (s *Server) ActionNames() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteAction runs the named action on the live device.
func (s *Server) ExecuteAction(ctx context.Context, name string) error {
	action, ok := s.actions[name]
	if !ok {
		return ErrActionNotFound
	}
	return s.sess.Apply(ctx, func(dev *device.Device) error {
		return action(ctx, dev)
	})
}
