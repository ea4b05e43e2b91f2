// Package router forwards requests to the capability service named by the
// first path segment.
package router

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"incredoc/internal/middleware"
)

// strippedResponseHeaders never reach the client; the body is re-streamed.
var strippedResponseHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"}

type Router struct {
	proxies map[string]*httputil.ReverseProxy
}

// New builds a router over routes, which maps capability class to upstream
// base URL. timeout bounds the wait for upstream response headers.
func New(routes map[string]string, timeout time.Duration) (*Router, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext

	r := &Router{proxies: make(map[string]*httputil.ReverseProxy, len(routes))}
	for class, raw := range routes {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream for %q: %q", class, raw)
		}
		r.proxies[class] = newProxy(class, target, transport)
	}
	return r, nil
}

func newProxy(class string, target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
			// Let the transport negotiate and decode compression, so the
			// body handed back is always plain.
			pr.Out.Header.Del("Accept-Encoding")
			if id, ok := pr.In.Context().Value(middleware.CorrelationKey).(string); ok && id != "" {
				pr.Out.Header.Set(middleware.CorrelationHeader, id)
			}
		},
		Transport:     transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			for _, h := range strippedResponseHeaders {
				resp.Header.Del(h)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			slog.ErrorContext(req.Context(), "downstream service connection error", "service", class, "path", req.URL.Path, "error", err)
			http.Error(w, "Downstream service connection error", http.StatusBadGateway)
		},
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	class := firstSegment(req.URL.Path)
	proxy, ok := r.proxies[class]
	if !ok {
		slog.WarnContext(req.Context(), "service not found", "path", req.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		http.Error(w, "Service not found", http.StatusNotFound)
		return
	}

	slog.InfoContext(req.Context(), "proxying request", "service", class, "method", req.Method, "path", req.URL.Path) // #nosec G706
	proxy.ServeHTTP(w, req)
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
