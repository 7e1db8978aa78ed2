package module

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/AlexKimmel/ScanGate/internal/target"
)

const (
	EventIPAddress   = "IP_ADDRESS"
	EventIPv6Address = "IPV6_ADDRESS"
	EventHostname    = "INTERNET_NAME"
	EventDomainName  = "DOMAIN_NAME"
)

// Resolver is the subset of *net.Resolver the DNS probe needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// DNS resolves domains to addresses and addresses back to names.
type DNS struct {
	resolver Resolver
}

func NewDNS(r Resolver) *DNS {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNS{resolver: r}
}

func (*DNS) Name() string        { return "dns" }
func (*DNS) Description() string { return "Performs DNS resolutions" }

func (*DNS) TargetKinds() []target.Kind {
	return []target.Kind{target.Domain, target.IPAddr, target.Email, target.URL}
}

func (*DNS) Produces() []string {
	return []string{EventIPAddress, EventIPv6Address, EventHostname, EventDomainName}
}

func (d *DNS) Run(ctx context.Context, t target.Target, env Env) error {
	host := t.Host()
	if host == "" {
		return fmt.Errorf("dns %s: %w", t, ErrUnsupportedTarget)
	}
	if env.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Options.Timeout)
		defer cancel()
	}
	if err := env.Gate.Wait(ctx, host); err != nil {
		return err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		names, err := d.resolver.LookupAddr(ctx, addr.String())
		if err != nil {
			return fmt.Errorf("reverse lookup %s: %w", host, err)
		}
		for _, name := range names {
			env.Emitter.Emit(Event{
				Type:       EventHostname,
				Module:     d.Name(),
				Target:     t,
				Data:       strings.TrimSuffix(name, "."),
				Confidence: 1,
			})
		}
		return nil
	}

	addrs, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", host, err)
	}
	if parent := t.RegistrableDomain(); parent != "" && parent != host {
		env.Emitter.Emit(Event{
			Type:       EventDomainName,
			Module:     d.Name(),
			Target:     t,
			Data:       parent,
			Confidence: 1,
		})
	}
	for _, a := range addrs {
		typ := EventIPAddress
		if ip, err := netip.ParseAddr(a); err == nil && ip.Is6() && !ip.Is4In6() {
			typ = EventIPv6Address
		}
		env.Emitter.Emit(Event{
			Type:       typ,
			Module:     d.Name(),
			Target:     t,
			Data:       a,
			Confidence: 1,
		})
	}
	return nil
}
