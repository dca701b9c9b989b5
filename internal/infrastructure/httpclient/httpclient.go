// Package httpclient builds the single pooled *http.Client every backend
// connector shares. The transport settings are lifted as-is from the
// teacher's three provider New() constructors (openai, anthropic, gemini),
// which each built an identical transport inline; centralizing it here
// means a future tuning change only happens once.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Options configures the shared transport. Zero values fall back to the
// teacher's defaults.
type Options struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// DefaultOptions mirrors the transport every teacher provider built inline.
func DefaultOptions() Options {
	return Options{
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}
}

// New builds an *http.Client with a pooled transport per Options.
func New(opts Options) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		IdleConnTimeout:       opts.IdleConnTimeout,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}
