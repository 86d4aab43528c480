// Package dispatch is the core request router: a reverse-proxy rule
// match wins outright, otherwise the request is routed to a site
// version (by sticky cookie if present, else by the strategy policy),
// logged for analytics, and forwarded upstream.
package dispatch

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/metrics"
	"github.com/qpackt/qpackt/internal/registry"
	"github.com/qpackt/qpackt/internal/reverseproxy"
	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/visitor"
)

// CookieName is the sticky-session cookie recording which version a
// visitor was served, so repeat visits keep landing on the same one.
const CookieName = "QPACKT_VERSION"

// cookieTTL is how long a version assignment sticks once made.
const cookieTTL = 7 * 24 * time.Hour

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RequestLogSaver is the subset of writer.RequestLogWriter a dispatcher
// needs.
type RequestLogSaver interface {
	Save(store.RequestLog)
}

// Dispatcher forwards client requests to reverse-proxy targets or site
// versions, recording a request log entry for every version-served hit.
type Dispatcher struct {
	registry  *registry.Registry
	logWriter RequestLogSaver
	transport *http.Transport
}

// New builds a dispatcher over the given registry, logging served
// requests through logWriter.
func New(reg *registry.Registry, logWriter RequestLogSaver) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		logWriter: logWriter,
		transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			DisableCompression:    true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if rule, destination, ok := reverseproxy.Match(r.URL.Path, r.URL.RawQuery); ok {
		applog.Debug("matched reverse-proxy rule %s -> %s", rule.Prefix, rule.Target)
		status := d.forward(w, r, destination)
		metrics.ObserveDispatch(r.Method, status, "", time.Since(start))
		return
	}

	upstream, version, freshPick := d.resolveVersion(r)
	if upstream == "" {
		http.Error(w, "no version available to serve this request", http.StatusInternalServerError)
		metrics.ObserveDispatch(r.Method, http.StatusInternalServerError, "", time.Since(start))
		return
	}
	if freshPick {
		http.SetCookie(w, &http.Cookie{
			Name:    CookieName,
			Value:   version,
			Expires: time.Now().Add(cookieTTL),
			Path:    "/",
		})
		metrics.VersionPickedInc(version)
	}

	hash := visitorHash(r)
	d.logWriter.Save(store.RequestLog{
		Time:    start.Unix(),
		Visitor: hash,
		Version: version,
		URI:     r.URL.Path,
	})

	destination := upstream + r.URL.Path
	if r.URL.RawQuery != "" {
		destination += "?" + r.URL.RawQuery
	}
	status := d.forward(w, r, destination)
	metrics.ObserveDispatch(r.Method, status, version, time.Since(start))
}

// resolveVersion returns the upstream base URL and version name to
// serve this request, preferring the sticky cookie. freshPick is true
// when the strategy policy was consulted (no valid cookie), meaning the
// caller should set a new cookie.
func (d *Dispatcher) resolveVersion(r *http.Request) (upstream, version string, freshPick bool) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if up, ok := d.registry.UpstreamForCookie(cookie.Value); ok {
			return up, cookie.Value, false
		}
	}
	up, name, err := d.registry.PickUpstream(r.URL.RawQuery)
	if err != nil {
		applog.Error("picking upstream version: %v", err)
		return "", "", true
	}
	return up, name, true
}

// forward proxies the client request to destination and streams the
// upstream response back, returning the status code written.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, destination string) int {
	dest, err := url.Parse(destination)
	if err != nil {
		http.Error(w, "bad upstream destination", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	outReq := r.Clone(r.Context())
	outReq.URL = dest
	outReq.RequestURI = ""
	outReq.Host = dest.Host
	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && clientIP != "" {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	outReq.Header.Set("X-Forwarded-Proto", schemeOf(r))
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := d.transport.RoundTrip(outReq)
	if err != nil {
		applog.Error("forwarding request to %s: %v", destination, err)
		http.Error(w, "upstream error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		if strings.EqualFold(k, "connection") {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		applog.Error("streaming upstream response from %s: %v", destination, err)
	}
	return resp.StatusCode
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if sch := r.Header.Get("X-Forwarded-Proto"); sch != "" {
		return sch
	}
	return "http"
}

func visitorHash(r *http.Request) visitor.Hash {
	ip := net.ParseIP(clientIP(r))
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	ua := []byte(r.Header.Get("User-Agent"))
	return visitor.Create(ip, ua)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
