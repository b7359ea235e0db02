package llm

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// proxyFunc routes provider traffic through the configured proxies.
// NoProxy is a comma-separated host list; ".example.com" also matches subdomains.
// Without explicit proxies the standard environment variables apply.
func proxyFunc(config Config) func(*http.Request) (*url.URL, error) {
	if config.HTTPProxy == "" && config.HTTPSProxy == "" {
		return http.ProxyFromEnvironment
	}

	bypass := strings.Split(config.NoProxy, ",")
	return func(req *http.Request) (*url.URL, error) {
		host := req.URL.Hostname()
		for _, h := range bypass {
			h = strings.TrimSpace(h)
			if h != "" && (host == strings.TrimPrefix(h, ".") || strings.HasSuffix(host, "."+strings.TrimPrefix(h, "."))) {
				return nil, nil
			}
		}
		if req.URL.Scheme == "https" && config.HTTPSProxy != "" {
			return url.Parse(config.HTTPSProxy)
		}
		if config.HTTPProxy != "" {
			return url.Parse(config.HTTPProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

// newHTTPClient builds the client every provider talks through.
// The client timeout backs up the per-call context deadline set by Client.
func newHTTPClient(config Config, fallback time.Duration) *http.Client {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = fallback
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFunc(config)
	return &http.Client{Timeout: timeout, Transport: transport}
}
