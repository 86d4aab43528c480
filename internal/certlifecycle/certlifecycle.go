// Package certlifecycle loads an existing TLS certificate from the run
// directory or obtains a fresh one from Let's Encrypt via ACME HTTP-01,
// and exposes a tls.Config GetCertificate resolver for the HTTPS
// listener. Once a certificate is live it flips the process-wide
// ForceHTTPSRedirect flag so the HTTP listener starts redirecting.
package certlifecycle

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/challenge"
	"github.com/qpackt/qpackt/internal/metrics"
)

const (
	certFileName         = "cert.pem"
	keyFileName          = "key.pem"
	accountFile          = "account_key.pem"
	intermediateCertFile = "lets-encrypt-r3.der"
	directoryURL         = "https://acme-v02.api.letsencrypt.org/directory"

	// renewBefore is how close to expiry a certificate must be before a
	// refresh tick calls EnsureCertificate. EnsureCertificate keeps the
	// disk certificate while it has more than one full day left, so a
	// new certificate is only obtained once fewer than two days remain.
	renewBefore = 30 * 24 * time.Hour
)

// ForceHTTPSRedirect is flipped to true the first time a certificate
// becomes available, telling the HTTP listener to start redirecting to
// HTTPS. It starts false so plain HTTP still works before any cert
// exists.
var ForceHTTPSRedirect atomic.Bool

// Manager owns the live certificate and serves it to the HTTPS
// listener's tls.Config.GetCertificate hook.
type Manager struct {
	domain  string
	runDir  string
	chal    *challenge.Store
	current atomic.Pointer[tls.Certificate]
}

// NewManager returns a manager for domain, persisting certs and the ACME
// account key under runDir.
func NewManager(domain, runDir string, chal *challenge.Store) *Manager {
	return &Manager{domain: domain, runDir: runDir, chal: chal}
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (m *Manager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := m.current.Load()
	if cert == nil {
		return nil, fmt.Errorf("certlifecycle: no certificate loaded yet")
	}
	return cert, nil
}

// EnsureCertificate loads an existing certificate from disk if it still
// has more than one full day left, otherwise obtains a new one from
// Let's Encrypt and persists it. On success it flips ForceHTTPSRedirect.
func (m *Manager) EnsureCertificate(ctx context.Context) error {
	applog.Debug("loading TLS certificate for %s", m.domain)
	if cert, daysLeft, ok := m.loadFromDisk(); ok && daysLeft > 1 {
		applog.Debug("using existing certificate (%d days left)", daysLeft)
		m.current.Store(cert)
		ForceHTTPSRedirect.Store(true)
		return nil
	}

	applog.Info("requesting new TLS certificate for %s", m.domain)
	cert, err := m.obtain(ctx)
	if err != nil {
		return fmt.Errorf("certlifecycle: obtaining certificate: %w", err)
	}
	m.current.Store(cert)
	ForceHTTPSRedirect.Store(true)
	applog.Info("received new TLS certificate for %s", m.domain)
	return nil
}

// RefreshLoop periodically checks whether the live certificate is within
// renewBefore of expiry and, if so, calls EnsureCertificate (which only
// obtains a new certificate once fewer than two days remain), until ctx
// is cancelled.
func (m *Manager) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cert := m.current.Load()
			if cert == nil {
				continue
			}
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				applog.Error("parsing live certificate: %v", err)
				continue
			}
			daysLeft := time.Until(leaf.NotAfter).Hours() / 24
			metrics.CertDaysUntilExpirySet(daysLeft)
			if time.Until(leaf.NotAfter) > renewBefore {
				continue
			}
			applog.Info("renewing TLS certificate for %s", m.domain)
			if err := m.EnsureCertificate(ctx); err != nil {
				applog.Error("renewing certificate: %v", err)
				metrics.CertRenewalsInc("failure")
				continue
			}
			metrics.CertRenewalsInc("success")
		}
	}
}

func (m *Manager) certPath() string         { return filepath.Join(m.runDir, certFileName) }
func (m *Manager) keyPath() string          { return filepath.Join(m.runDir, keyFileName) }
func (m *Manager) intermediatePath() string { return filepath.Join(m.runDir, intermediateCertFile) }

// appendIntermediate extends cert's chain with the DER-encoded
// intermediate at lets-encrypt-r3.der in the run directory, when the
// operator has placed one there. Its absence is not an error: ACME
// already returns a full chain, and this is only needed for older
// disk certificates issued without one bundled in.
func (m *Manager) appendIntermediate(cert *tls.Certificate) {
	der, err := os.ReadFile(m.intermediatePath())
	if err != nil {
		return
	}
	cert.Certificate = append(cert.Certificate, der)
}

func (m *Manager) loadFromDisk() (*tls.Certificate, int, bool) {
	cert, err := tls.LoadX509KeyPair(m.certPath(), m.keyPath())
	if err != nil {
		return nil, 0, false
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, 0, false
	}
	daysLeft := int(time.Until(leaf.NotAfter) / (24 * time.Hour))
	m.appendIntermediate(&cert)
	return &cert, daysLeft, true
}

// httpSolver satisfies acmez.Solver by writing the key authorization
// into the shared challenge store the HTTP listener serves at
// /.well-known/acme-challenge/{token}.
type httpSolver struct{ chal *challenge.Store }

func (s httpSolver) Present(_ context.Context, c acme.Challenge) error {
	s.chal.Set(c.Token, c.KeyAuthorization)
	return nil
}

func (s httpSolver) CleanUp(_ context.Context, c acme.Challenge) error {
	s.chal.Clear()
	return nil
}

func (m *Manager) obtain(ctx context.Context) (*tls.Certificate, error) {
	accountKey, err := m.loadOrCreateAccountKey()
	if err != nil {
		return nil, fmt.Errorf("loading account key: %w", err)
	}

	client := acmez.Client{
		Client: &acme.Client{
			Directory: directoryURL,
		},
		ChallengeSolvers: map[string]acmez.Solver{
			acme.ChallengeTypeHTTP01: httpSolver{chal: m.chal},
		},
	}

	account := acme.Account{
		Contact:              []string{"mailto:admin@" + m.domain},
		TermsOfServiceAgreed: true,
		PrivateKey:           accountKey,
	}
	account, err = client.NewAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("registering ACME account: %w", err)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating certificate key: %w", err)
	}

	certs, err := client.ObtainCertificateForSANs(ctx, account, certKey, []string{m.domain})
	if err != nil {
		return nil, fmt.Errorf("ACME order: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("ACME order returned no certificates")
	}

	if err := os.WriteFile(m.certPath(), certs[0].ChainPEM, 0o644); err != nil {
		return nil, fmt.Errorf("writing certificate: %w", err)
	}
	keyPEM, err := encodeECKey(certKey)
	if err != nil {
		return nil, fmt.Errorf("encoding certificate key: %w", err)
	}
	if err := os.WriteFile(m.keyPath(), keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("writing certificate key: %w", err)
	}

	cert, err := tls.X509KeyPair(certs[0].ChainPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing obtained certificate: %w", err)
	}
	m.appendIntermediate(&cert)
	return &cert, nil
}

func (m *Manager) loadOrCreateAccountKey() (*ecdsa.PrivateKey, error) {
	path := filepath.Join(m.runDir, accountFile)
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("malformed account key file")
		}
		return x509.ParseECPrivateKey(block.Bytes)
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	pemBytes, err := encodeECKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func encodeECKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
