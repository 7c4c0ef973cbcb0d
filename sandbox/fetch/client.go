package fetch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is the wire shape of an outbound call, shared by Sandbox.Fetch,
// the curl interceptor, and the guest fetch bridge's JSON schema.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is the wire shape of a completed call.
type Response struct {
	Status  uint16
	OK      bool
	Body    []byte
	Headers map[string]string
}

// Client is a policy-gated HTTP client. Every request, and every redirect
// hop it follows, is re-validated against the same Policy.
type Client struct {
	policy *Policy
	http   *http.Client
}

// New builds a Client enforcing policy. policy must not be nil; callers
// decide whether networking is permitted at all before reaching this point.
func New(policy *Policy) *Client {
	c := &Client{policy: policy}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, &TransportError{Reason: "dial address", Err: err}
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, &TransportError{Reason: "dns lookup", Err: err}
			}
			var lastErr error
			for _, ip := range ips {
				if err := policy.checkIP(ip); err != nil {
					lastErr = err
					continue
				}
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				lastErr = &TransportError{Reason: "connect", Err: err}
			}
			if lastErr == nil {
				lastErr = &TransportError{Reason: "no addresses resolved", Err: nil}
			}
			return nil, lastErr
		},
	}

	c.http = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > policy.maxRedirects() {
				return &PolicyError{Reason: "too many redirects", Host: req.URL.Host}
			}
			return policy.checkDomain(hostOnly(req.URL.Host))
		},
	}
	return c
}

// Do validates req against the policy, performs it, and returns a Response.
// The returned error, when non-nil, is always a *PolicyError or
// *TransportError so callers can categorize the failure per spec.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, &TransportError{Reason: "malformed url", Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &PolicyError{Reason: "unsupported scheme", Host: parsed.Scheme}
	}
	if err := c.policy.checkDomain(hostOnly(parsed.Host)); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	timeout := time.Duration(c.policy.requestTimeoutMS()) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &TransportError{Reason: "building request", Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if pe, ok := asPolicyError(err); ok {
			return nil, pe
		}
		return nil, &TransportError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Reason: "reading body", Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Response{
		Status:  uint16(resp.StatusCode),
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:    body,
		Headers: headers,
	}, nil
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return strings.ToLower(hostport)
}

// asPolicyError unwraps the *url.Error http.Client wraps redirect/dial
// failures in, recovering the underlying *PolicyError if that's what the
// CheckRedirect or DialContext hook produced.
func asPolicyError(err error) (*PolicyError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if pe, ok := err.(*PolicyError); ok {
			return pe, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
