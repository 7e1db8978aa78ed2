// Package target classifies the things a scan investigates.
package target

import (
	"errors"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jpillora/go-tld"
)

type Kind string

const (
	Domain         Kind = "DOMAIN"
	IPAddr         Kind = "IP-ADDR"
	Email          Kind = "EMAIL-ADDR"
	Username       Kind = "USERNAME"
	Hash           Kind = "HASH"
	Phone          Kind = "PHONE-NUMBER"
	URL            Kind = "URL"
	BitcoinAddress Kind = "BTC-ADDRESS"
)

var ErrEmpty = errors.New("target: empty value")

type Target struct {
	kind  Kind
	value string
}

// New builds a target of an explicit kind. Any non-empty label is accepted so
// callers can carry kinds this package does not know about.
func New(kind Kind, value string) Target {
	return Target{kind: kind, value: strings.TrimSpace(value)}
}

func (t Target) Kind() Kind     { return t.kind }
func (t Target) Value() string  { return t.value }
func (t Target) String() string { return string(t.kind) + ":" + t.value }

// Host is the network host requests about this target go to, and so the key
// they are rate limited under. Empty for kinds with no host.
func (t Target) Host() string {
	switch t.kind {
	case Domain:
		return strings.ToLower(strings.TrimSuffix(t.value, "."))
	case IPAddr:
		return t.value
	case Email:
		_, domain, _ := strings.Cut(t.value, "@")
		return strings.ToLower(domain)
	case URL:
		u, err := url.Parse(t.value)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	return ""
}

// RegistrableDomain is the public-suffix-plus-one domain of the target's
// host, e.g. "example.co.uk" for "www.example.co.uk". Empty for IPs, hosts
// under no known suffix and kinds with no host.
func (t Target) RegistrableDomain() string {
	host := t.Host()
	if host == "" || isIP(host) {
		return ""
	}
	u, err := tld.Parse("http://" + host)
	if err != nil || u.Domain == "" || u.TLD == "" {
		return ""
	}
	return u.Domain + "." + u.TLD
}

// Parse guesses the kind of raw. Anything unrecognised is a username.
func Parse(raw string) (Target, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Target{}, ErrEmpty
	}

	switch {
	case isIP(v):
		return New(IPAddr, v), nil
	case isURL(v):
		return New(URL, v), nil
	case valid(v, "email"):
		return New(Email, v), nil
	case isHash(v):
		return New(Hash, strings.ToLower(v)), nil
	case isPhone(v):
		return New(Phone, v), nil
	case valid(v, "btc_addr|btc_addr_bech32"):
		return New(BitcoinAddress, v), nil
	case valid(v, "fqdn"):
		return New(Domain, strings.ToLower(v)), nil
	}
	return New(Username, v), nil
}

var validate = validator.New()

func valid(v, tag string) bool {
	return validate.Var(v, tag) == nil
}

func isIP(v string) bool {
	return valid(v, "ip")
}

// isURL also wants a host: "user:secret" parses as an opaque URL.
func isURL(v string) bool {
	if !valid(v, "url") {
		return false
	}
	u, err := url.Parse(v)
	return err == nil && u.Host != ""
}

func isHash(v string) bool {
	v = strings.ToLower(v)
	return valid(v, "md5|sha256") || valid(v, "len=40,startsnotwith=0x,hexadecimal")
}

// isPhone accepts E.164 numbers written with the usual separators, such as
// "+1 (555) 010-9999".
func isPhone(v string) bool {
	digits := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(v)
	return valid(digits, "e164,excludes=+0")
}
