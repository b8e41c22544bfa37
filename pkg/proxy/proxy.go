package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultCheckURL answers 200 through any working proxy.
const DefaultCheckURL = "https://check.torproject.org/api/ip"

// NewClient returns an HTTP client that dials through the SOCKS5 proxy at
// addr. Empty username means no authentication.
func NewClient(addr, username, password string, timeout time.Duration) (*http.Client, error) {
	var auth *proxy.Auth
	if username != "" {
		auth = &proxy.Auth{User: username, Password: password}
	}

	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return dialer.Dial(network, address)
	}

	transport := &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// Check fetches checkURL through client and expects a 200.
func Check(ctx context.Context, client *http.Client, checkURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy check returned status %d", resp.StatusCode)
	}
	return nil
}

// ChromeFlag is the --proxy-server value for a SOCKS5 proxy at addr.
func ChromeFlag(addr string) string {
	return "socks5://" + addr
}
