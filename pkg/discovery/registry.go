// Package discovery lists live services from a service registry so the
// reconciliation worker can mirror them into the module catalog.
package discovery

import (
	"context"
	"strings"
)

// Service is a live service instance as seen by the registry
type Service struct {
	Name string
	Tags []string
	Meta map[string]string
}

// ModuleName returns the module the service belongs to. A Module metadata
// entry overrides the service name, letting several services register under
// one module.
func (s Service) ModuleName() string {
	if name, ok := s.Meta["Module"]; ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return s.Name
}

// Registry lists healthy services from a service discovery backend
type Registry interface {
	// ListHealthyServices returns one entry per healthy service, with
	// registry and self entries already filtered out.
	ListHealthyServices(ctx context.Context) ([]Service, error)
}
