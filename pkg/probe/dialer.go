package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultDialTimeout is the default per-attempt connection timeout.
	DefaultDialTimeout = 5 * time.Second

	// DefaultResolveTimeout is the default timeout for resolving the
	// endpoint hostname before dialing.
	DefaultResolveTimeout = 3 * time.Second
)

// EndpointDialer opens one timed connection attempt to an endpoint. It is
// the seam between the probers and the network; Dialer is the production
// implementation.
type EndpointDialer interface {
	Dial(ctx context.Context, endpoint string) (time.Duration, error)
}

// Dialer opens timed TCP connections to region endpoints. When a resolver
// address is configured, hostnames are resolved with a direct DNS query
// against it so that resolution failures are reported distinctly from dial
// failures; otherwise the system resolver is used.
//
// Every attempt is bounded by the dial timeout. A Dialer is safe for
// concurrent use.
type Dialer struct {
	timeout        time.Duration
	resolveTimeout time.Duration
	resolver       string // host:port of a DNS server, empty for system resolver
	dnsClient      *dns.Client
}

// DialerOption is a functional option for configuring a Dialer.
type DialerOption func(*Dialer) error

// WithDialTimeout sets the per-attempt connection timeout.
func WithDialTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) error {
		if d <= 0 {
			return fmt.Errorf("dial timeout must be positive, got %v", d)
		}
		dl.timeout = d
		return nil
	}
}

// WithResolver sets a DNS server (host:port) used to resolve endpoint
// hostnames instead of the system resolver.
func WithResolver(server string) DialerOption {
	return func(dl *Dialer) error {
		if server == "" {
			return fmt.Errorf("resolver must not be empty")
		}
		dl.resolver = server
		return nil
	}
}

// WithResolveTimeout sets the DNS resolution timeout.
func WithResolveTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) error {
		if d <= 0 {
			return fmt.Errorf("resolve timeout must be positive, got %v", d)
		}
		dl.resolveTimeout = d
		return nil
	}
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts ...DialerOption) (*Dialer, error) {
	d := &Dialer{
		timeout:        DefaultDialTimeout,
		resolveTimeout: DefaultResolveTimeout,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("dialer: %w", err)
		}
	}

	d.dnsClient = &dns.Client{
		Timeout: d.resolveTimeout,
	}

	return d, nil
}

// Dial opens one TCP connection to the endpoint, closes it, and returns the
// time the dial took. Resolution time is not included in the reported
// latency. All failure modes are returned as errors for the caller to
// capture into a Result.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (time.Duration, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	addr := endpoint
	if d.resolver != "" && net.ParseIP(host) == nil {
		ip, err := d.resolve(ctx, host)
		if err != nil {
			return 0, fmt.Errorf("resolve %s: %w", host, err)
		}
		addr = net.JoinHostPort(ip, port)
	}

	dialer := net.Dialer{Timeout: d.timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.Close()

	return elapsed, nil
}

// resolve queries the configured DNS server for an A record and returns the
// first address in the answer.
func (d *Dialer) resolve(ctx context.Context, host string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := d.dnsClient.ExchangeContext(ctx, msg, d.resolver)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record in answer")
}
