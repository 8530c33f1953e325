package transport

import (
	"net/http"
	"testing"
	"time"

	utls "github.com/refraction-networking/utls"
)

func TestChromeSpec_HTTP1Only(t *testing.T) {
	spec, err := chromeSpec()
	if err != nil {
		t.Fatalf("chromeSpec: %v", err)
	}
	found := false
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			found = true
			if len(alpn.AlpnProtocols) != 1 || alpn.AlpnProtocols[0] != "http/1.1" {
				t.Fatalf("ALPN = %v", alpn.AlpnProtocols)
			}
		}
	}
	if !found {
		t.Fatal("chrome spec has no ALPN extension")
	}
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient(ImpersonateChrome, "", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	tr := c.Transport.(*http.Transport)
	if tr.DialTLSContext == nil || tr.Proxy != nil || c.Timeout != 5*time.Second {
		t.Fatalf("chrome transport not configured: %+v", tr)
	}

	c, err = NewHTTPClient("none", "http://127.0.0.1:8080", 0)
	if err != nil {
		t.Fatalf("NewHTTPClient http proxy: %v", err)
	}
	tr = c.Transport.(*http.Transport)
	if tr.Proxy == nil || tr.DialTLSContext != nil {
		t.Fatal("http proxy transport not configured")
	}

	c, err = NewHTTPClient(ImpersonateChrome, "socks5://127.0.0.1:1080", 0)
	if err != nil {
		t.Fatalf("NewHTTPClient socks5: %v", err)
	}
	tr = c.Transport.(*http.Transport)
	if tr.Proxy != nil || tr.DialContext == nil || tr.DialTLSContext == nil {
		t.Fatal("socks5 transport not configured")
	}

	if _, err := NewHTTPClient("none", "://bad", 0); err == nil {
		t.Fatal("expected error for invalid proxy url")
	}
}
