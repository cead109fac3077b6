package healthprobe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/isectech/routing-core/pkg/registry"
)

// Prober issues a single liveness probe against an instance. A nil return
// means the instance answered within the probe budget.
type Prober interface {
	Probe(ctx context.Context, instance *registry.ServiceInstance) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, instance *registry.ServiceInstance) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, instance *registry.ServiceInstance) error {
	return f(ctx, instance)
}

// HTTPProber probes instances over HTTP. Any 2xx response counts as alive.
type HTTPProber struct {
	// Path is appended to the instance address, default "/health".
	Path   string
	client *http.Client
}

// NewHTTPProber creates an HTTP prober. The per-probe timeout is enforced by
// the probe loop's context; the client itself carries no timeout.
func NewHTTPProber(path string) *HTTPProber {
	if path == "" {
		path = "/health"
	}

	return &HTTPProber{
		Path:   path,
		client: &http.Client{},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, instance *registry.ServiceInstance) error {
	url := fmt.Sprintf("http://%s%s", instance.Address, p.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request for %s: %w", instance.ID, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("instance %s is unreachable: %w", instance.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("instance %s returned status %d", instance.ID, resp.StatusCode)
	}

	return nil
}
