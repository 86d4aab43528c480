// Command qpackt is the qpackt web & analytics server: a TLS-terminating
// reverse proxy that splits traffic across deployed site versions and an
// admin API for managing them.
//
// Run with a config file path as the only argument. With no argument, it
// runs an interactive setup prompt that writes qpackt.yaml and exits.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/qpackt/qpackt/internal/admin"
	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/certlifecycle"
	"github.com/qpackt/qpackt/internal/challenge"
	"github.com/qpackt/qpackt/internal/config"
	"github.com/qpackt/qpackt/internal/dispatch"
	"github.com/qpackt/qpackt/internal/event"
	"github.com/qpackt/qpackt/internal/httpredirect"
	"github.com/qpackt/qpackt/internal/registry"
	"github.com/qpackt/qpackt/internal/reverseproxy"
	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/visitor"
	"github.com/qpackt/qpackt/internal/writer"
)

// panelHTTPAddr and panelHTTPSAddr are the admin panel's fixed listen
// addresses, separate from the operator-configured public proxy ports.
const (
	panelHTTPAddr  = "0.0.0.0:9080"
	panelHTTPSAddr = "0.0.0.0:9443"

	certRefreshInterval = 12 * time.Hour
	shutdownGrace       = 5 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	if len(os.Args) < 2 {
		if _, err := config.CreateInteractive(bufio.NewReader(os.Stdin)); err != nil {
			log.Fatalf("creating config: %v", err)
		}
		return
	}

	cfg, err := config.Read(os.Args[1])
	if err != nil {
		log.Fatalf("reading config %s: %v", os.Args[1], err)
	}
	applog.Configure(cfg.LogDebug, cfg.LogInfo, cfg.LogWarn, cfg.LogError)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.VersionsDir(), 0o755); err != nil {
		log.Fatalf("creating versions directory: %v", err)
	}

	st, err := store.Open(ctx, cfg.StorePath())
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	if err := visitor.Init(ctx, st); err != nil {
		log.Fatalf("initializing visitor hash seed: %v", err)
	}

	versions, err := st.ListVersions(ctx)
	if err != nil {
		log.Fatalf("listing versions: %v", err)
	}
	liveVersions := make([]registry.Version, len(versions))
	for i, v := range versions {
		liveVersions[i] = registry.Version{Name: v.Name, WebRoot: v.WebRoot, Strategy: v.Strategy}
	}
	reg := registry.Start(liveVersions, cfg.RunDir)

	rules, err := st.ListReverseProxyRules(ctx)
	if err != nil {
		log.Fatalf("listing reverse proxy rules: %v", err)
	}
	liveRules := make([]reverseproxy.Rule, len(rules))
	for i, r := range rules {
		liveRules[i] = reverseproxy.Rule{ID: r.ID, Prefix: r.Prefix, Target: r.Target}
	}
	reverseproxy.Publish(liveRules)

	reqLogWriter := writer.NewRequestLogWriter(ctx, st)
	eventWriter := writer.NewEventWriter(ctx, st)
	eventHandler := event.New(eventWriter)
	disp := dispatch.New(reg, reqLogWriter)
	chal := challenge.New()

	proxyMux := http.NewServeMux()
	proxyMux.HandleFunc(event.URI, eventHandler.CollectEvent)
	proxyMux.HandleFunc(event.ScriptURI, eventHandler.ServeScript)
	proxyMux.HandleFunc("GET /.well-known/acme-challenge/{token}", challengeHandler(chal))
	proxyMux.Handle("/", disp)
	publicHandler := httpredirect.Middleware(proxyMux, certlifecycle.ForceHTTPSRedirect.Load)

	adminHandler := admin.New(cfg, st, reg)

	var servers []*http.Server
	servers = append(servers, startServer(ctx, "public HTTP", cfg.HTTPProxy, publicHandler, nil))
	servers = append(servers, startServer(ctx, "admin HTTP", panelHTTPAddr, adminHandler, nil))

	if cfg.HTTPSProxy != "" {
		certMgr := certlifecycle.NewManager(cfg.Domain, cfg.RunDir, chal)
		if err := certMgr.EnsureCertificate(ctx); err != nil {
			log.Fatalf("obtaining TLS certificate: %v", err)
		}
		chal.Clear()
		go certMgr.RefreshLoop(ctx, certRefreshInterval)

		tlsConfig := &tls.Config{GetCertificate: certMgr.GetCertificate}
		servers = append(servers, startServer(ctx, "public HTTPS", cfg.HTTPSProxy, publicHandler, tlsConfig))
		servers = append(servers, startServer(ctx, "admin HTTPS", panelHTTPSAddr, adminHandler, tlsConfig))
	}

	<-ctx.Done()
	applog.Info("received shutdown signal, exiting...")
	shutdownAll(servers)
}

func challengeHandler(chal *challenge.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		applog.Debug("checking ACME challenge for token %s", token)
		proof, ok := chal.Get(token)
		if !ok {
			applog.Warn("no ACME proof found for token %s", token)
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(proof))
	}
}

func startServer(ctx context.Context, label, addr string, handler http.Handler, tlsConfig *tls.Config) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler, TLSConfig: tlsConfig}
	go func() {
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			applog.Error("%s server on %s stopped: %v", label, addr, err)
		}
	}()
	applog.Info("%s listening on %s", label, addr)
	return srv
}

func shutdownAll(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			applog.Error("shutting down server %s: %v", srv.Addr, err)
		}
	}
}
