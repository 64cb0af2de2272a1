package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/platinummonkey/idhub/pkg/observability"
)

// consulReservedName is the registry's own catalog entry, never a module
const consulReservedName = "consul"

// ConsulRegistry lists healthy services from a consul catalog
type ConsulRegistry struct {
	client *api.Client
	// selfName is this service's own registration, excluded from listings
	selfName string
	timeout  time.Duration
	logger   *observability.Logger
}

// NewConsulRegistry creates a consul-backed registry
func NewConsulRegistry(address, selfName string, timeout time.Duration, logger *observability.Logger) (*ConsulRegistry, error) {
	client, err := api.NewClient(&api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulRegistry{
		client:   client,
		selfName: selfName,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// ListHealthyServices returns one Service per healthy catalog entry,
// excluding consul itself and this service's own registration.
func (r *ConsulRegistry) ListHealthyServices(ctx context.Context) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := (&api.QueryOptions{}).WithContext(ctx)

	names, _, err := r.client.Catalog().Services(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list consul services: %w", err)
	}

	var services []Service
	for name := range names {
		if r.excluded(name) {
			continue
		}

		entries, _, err := r.client.Health().Service(name, "", true, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to check health of %s: %w", name, err)
		}
		if len(entries) == 0 {
			r.logger.WithField("service", name).Debug("skipping service with no passing instances")
			continue
		}

		// All instances of a service share one catalog identity; take
		// tags and metadata from the first passing instance.
		entry := entries[0].Service
		services = append(services, Service{
			Name: name,
			Tags: entry.Tags,
			Meta: entry.Meta,
		})
	}

	return services, nil
}

func (r *ConsulRegistry) excluded(name string) bool {
	return strings.EqualFold(name, consulReservedName) ||
		strings.EqualFold(name, r.selfName)
}
