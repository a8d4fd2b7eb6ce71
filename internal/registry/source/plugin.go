// Package source is the registry for remote source backends. A backend
// owns connection, authentication, and wire details and exposes the
// capability interface in internal/source; it registers here from init().
package source

import (
	"context"
	"fmt"

	enginesource "github.com/telvault/telvault/internal/source"
)

// Loader creates a connection to the remote service from config carried
// in ctx.
type Loader func(ctx context.Context) (enginesource.Conn, error)

// Plugin represents a source backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a source backend.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered backend names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named backend.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q; valid: %v", name, Names())
}
