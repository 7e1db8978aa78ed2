package module

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cregex "github.com/mingrammer/commonregex"

	"github.com/AlexKimmel/ScanGate/internal/target"
)

const (
	EventHTTPStatus      = "HTTP_STATUS"
	EventWebserverBanner = "WEBSERVER_BANNER"
	EventEmailAddress    = "EMAILADDR"
	EventPhoneNumber     = "PHONE_NUMBER"
	EventBitcoinAddress  = "BITCOIN_ADDRESS"
)

const maxBody = 1 << 20

// NewHTTPTransport returns the transport used by the HTTP probe. Many probes
// hit the same hosts, so idle connections are kept per host.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// HTTP fetches the target's front page and reports status, server banner and
// any emails, phone numbers or bitcoin addresses found in the body.
type HTTP struct {
	client *http.Client
}

func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{
			Transport: NewHTTPTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTP{client: client}
}

func (*HTTP) Name() string        { return "http" }
func (*HTTP) Description() string { return "Fetches the front page and records status and banner" }

func (*HTTP) TargetKinds() []target.Kind {
	return []target.Kind{target.Domain, target.IPAddr, target.URL}
}

func (*HTTP) Produces() []string {
	return []string{EventHTTPStatus, EventWebserverBanner, EventEmailAddress, EventPhoneNumber, EventBitcoinAddress}
}

// frontPage is the https root of host. The default port is left out so the
// Host header carries the bare name.
func frontPage(host string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return (&url.URL{Scheme: "https", Host: host, Path: "/"}).String()
}

func (h *HTTP) Run(ctx context.Context, t target.Target, env Env) error {
	host := t.Host()
	if host == "" {
		return fmt.Errorf("http %s: %w", t, ErrUnsupportedTarget)
	}

	endpoint := t.Value()
	if t.Kind() != target.URL {
		endpoint = frontPage(host)
	}

	if env.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Options.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", endpoint, err)
	}
	if env.Options.UserAgent != "" {
		req.Header.Set("User-Agent", env.Options.UserAgent)
	}

	if err := env.Gate.Wait(ctx, host); err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s: %w", endpoint, err)
	}

	env.Emitter.Emit(Event{
		Type:       EventHTTPStatus,
		Module:     h.Name(),
		Target:     t,
		Data:       strconv.Itoa(resp.StatusCode),
		Confidence: 1,
	})
	if banner := resp.Header.Get("Server"); banner != "" {
		env.Emitter.Emit(Event{
			Type:       EventWebserverBanner,
			Module:     h.Name(),
			Target:     t,
			Data:       banner,
			Confidence: 0.8,
		})
	}

	text := string(body)
	h.emitAll(env, t, EventEmailAddress, cregex.Emails(text))
	h.emitAll(env, t, EventPhoneNumber, cregex.Phones(text))
	h.emitAll(env, t, EventBitcoinAddress, cregex.BtcAddresses(text))
	return nil
}

// emitAll emits one event per distinct value, in first-seen order.
func (h *HTTP) emitAll(env Env, t target.Target, typ string, values []string) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		env.Emitter.Emit(Event{
			Type:       typ,
			Module:     h.Name(),
			Target:     t,
			Data:       v,
			Confidence: 0.5,
		})
	}
}
