// Package transport builds HTTP clients for platform backends, optionally
// with a browser TLS fingerprint and a SOCKS5 or HTTP proxy.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"

	"github.com/xiaopang/geoprobe/internal/logger"
)

// ImpersonateChrome 使用 Chrome 的 TLS ClientHello
const ImpersonateChrome = "chrome"

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewHTTPClient 创建访问平台的 HTTP 客户端
//
// impersonate 为 chrome 时 TLS 握手使用 Chrome 指纹（仅直连和 SOCKS5 代理生效）。
// timeout 为 0 时不设整体超时，由调用方的 context 控制。
func NewHTTPClient(impersonate, proxyURL string, timeout time.Duration) (*http.Client, error) {
	var dial dialFunc = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			d, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			if cd, ok := d.(proxy.ContextDialer); ok {
				dial = cd.DialContext
			} else {
				dial = func(_ context.Context, network, addr string) (net.Conn, error) {
					return d.Dial(network, addr)
				}
			}
		default:
			transport.Proxy = http.ProxyURL(u)
		}
	}
	transport.DialContext = dial

	if impersonate == ImpersonateChrome {
		if transport.Proxy != nil {
			logger.Warn("tls impersonation is not applied through http proxies", "proxy", proxyURL)
		}
		transport.DialTLSContext = chromeDialer(dial)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func chromeDialer(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		spec, err := chromeSpec()
		if err != nil {
			return nil, err
		}
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
		if err := conn.ApplyPreset(&spec); err != nil {
			raw.Close()
			return nil, fmt.Errorf("apply tls preset: %w", err)
		}
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return conn, nil
	}
}

// chromeSpec Chrome 指纹，ALPN 限定为 http/1.1（Transport 不会在自定义 TLS 连接上协商 h2）
func chromeSpec() (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return spec, fmt.Errorf("chrome tls spec: %w", err)
	}
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			e.SupportedProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}
