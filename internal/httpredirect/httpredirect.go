// Package httpredirect wraps an http.Handler so that, once a TLS
// certificate has come online, plain HTTP requests are redirected to
// their HTTPS equivalent instead of being served in the clear.
package httpredirect

import (
	"net/http"
	"strings"
)

// acmeChallengePrefix must stay reachable over plain HTTP even after
// force flips true, or a certificate renewal can never complete: the
// ACME server fetches the token over HTTP-01 before any redirect logic
// should apply.
const acmeChallengePrefix = "/.well-known/acme-challenge/"

// Middleware redirects to HTTPS with a 301 whenever force returns true
// and the request arrived over plain HTTP. force is read on every
// request, so passing an atomic.Bool's Load method lets the redirect
// turn on the moment a certificate becomes available without the
// caller needing to rebuild the handler chain.
func Middleware(next http.Handler, force func() bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
			next.ServeHTTP(w, r)
			return
		}
		if force() && r.TLS == nil {
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}
