package httpclient

import "testing"

func TestDefaultOptions_PositiveTimeouts(t *testing.T) {
	opts := DefaultOptions()
	if opts.DialTimeout <= 0 || opts.TLSHandshakeTimeout <= 0 || opts.ResponseHeaderTimeout <= 0 || opts.IdleConnTimeout <= 0 {
		t.Fatalf("expected all timeouts to be positive, got %+v", opts)
	}
	if opts.MaxIdleConns <= 0 || opts.MaxIdleConnsPerHost <= 0 {
		t.Fatalf("expected positive pool sizes, got %+v", opts)
	}
}

func TestNew_ReturnsUsableClient(t *testing.T) {
	client := New(DefaultOptions())
	if client == nil {
		t.Fatal("expected non-nil client")
	}
	if client.Transport == nil {
		t.Fatal("expected a configured transport")
	}
}

func TestNew_DistinctClientsDoNotShareTransport(t *testing.T) {
	a := New(DefaultOptions())
	b := New(DefaultOptions())
	if a.Transport == b.Transport {
		t.Fatal("expected independent transports across New() calls")
	}
}
