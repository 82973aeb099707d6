// Package server builds the HTTP router with its middleware chain and runs
// the HTTP or HTTPS listener.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bunrouter"
	"golang.org/x/crypto/acme/autocert"
)

const shutdownTimeout = 15 * time.Second

// RouterOptions configures the middleware chain.
type RouterOptions struct {
	Rate        string   // limiter rate, e.g. 100-S
	CORSOrigins []string // allowed origins, "*" for any
	BodyLimit   int64    // request body limit in bytes, 0 disables it
}

// NewRouter returns a net/http handler routing with bunrouter. The request
// id, logging, rate limit and body limit middlewares run on every route and
// CORS wraps the router. register adds the application routes.
func NewRouter(opts RouterOptions, logger *log.Entry, register func(*bunrouter.CompatRouter)) (http.Handler, error) {
	lm, err := newLimiter(opts.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid limiter rate %q: %w", opts.Rate, err)
	}
	logger.WithField("rate", opts.Rate).Debug("[Server] Limiter configured")

	router := bunrouter.New(
		bunrouter.Use(requestIDMiddleware),
		bunrouter.Use(loggingMiddleware(logger)),
		bunrouter.Use(limitMiddleware(lm)),
		bunrouter.Use(bodyLimitMiddleware(opts.BodyLimit)),
	).Compat()
	register(router)
	return enableCORS(opts.CORSOrigins, router), nil
}

// Config selects the listener Run starts.
type Config struct {
	Addr        string   // listen address for HTTP or cert/key HTTPS
	ServerCrt   string   // server certificate
	ServerKey   string   // server key
	DomainNames []string // LetsEncrypt domain names, takes precedence
	CertCache   string   // autocert cache directory
}

// Run serves handler until ctx is cancelled, then shuts down gracefully.
// With domain names it serves HTTPS through LetsEncrypt, with a certificate
// and key it serves HTTPS, otherwise plain HTTP.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *log.Entry) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var serve func() error
	switch {
	case len(cfg.DomainNames) > 0:
		cache := cfg.CertCache
		if cache == "" {
			cache = "certs"
		}
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.DomainNames...),
			Cache:      autocert.DirCache(cache),
		}
		srv.Addr = ":https"
		srv.TLSConfig = &tls.Config{
			GetCertificate: certManager.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		}
		go func() {
			if err := http.ListenAndServe(":http", certManager.HTTPHandler(nil)); err != nil {
				logger.WithError(err).Error("[Server] ACME challenge listener stopped")
			}
		}()
		logger.WithField("domains", cfg.DomainNames).Info("[Server] Start HTTPs server with LetsEncrypt")
		serve = func() error { return srv.ListenAndServeTLS("", "") }
	case cfg.ServerCrt != "" && cfg.ServerKey != "":
		logger.WithFields(log.Fields{
			"addr": cfg.Addr,
			"cert": cfg.ServerCrt,
		}).Info("[Server] Start HTTPs server")
		serve = func() error { return srv.ListenAndServeTLS(cfg.ServerCrt, cfg.ServerKey) }
	default:
		logger.WithField("addr", cfg.Addr).Info("[Server] Start HTTP server")
		serve = srv.ListenAndServe
	}

	errc := make(chan error, 1)
	go func() {
		errc <- serve()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
