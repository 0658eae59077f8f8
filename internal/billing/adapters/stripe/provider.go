package stripe

import (
	"sync"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/resilience"
)

var _ ports.GatewayFactory = (*Provider)(nil)

// Provider hands out one client per distinct credential set. Every client
// gets its own circuit breaker so one failing account cannot trip another.
type Provider struct {
	defaults billing.Credentials
	opts     Options
	breakers *resilience.CircuitBreakerRegistry

	mu      sync.Mutex
	clients map[string]*Client
}

// NewProvider builds a provider. A nil registry disables circuit breaking.
func NewProvider(defaults billing.Credentials, opts Options, breakers *resilience.CircuitBreakerRegistry) *Provider {
	return &Provider{
		defaults: defaults,
		opts:     opts,
		breakers: breakers,
		clients:  make(map[string]*Client),
	}
}

// BreakerConfig returns cfg with the failure rule gateway clients rely on.
func BreakerConfig(cfg resilience.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || !countsAsFailure(err)
	}
	return cfg
}

// ForSubject resolves the subject's credentials and returns the matching client.
func (p *Provider) ForSubject(b billing.Billable) (ports.Gateway, error) {
	return p.Client(billing.ResolveCredentials(b, p.defaults))
}

func (p *Provider) Client(creds billing.Credentials) (*Client, error) {
	key := creds.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	opts := p.opts
	if p.breakers != nil {
		opts.Breaker = p.breakers.Get("stripe:" + key)
	}
	c, err := NewClient(creds, opts)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}
