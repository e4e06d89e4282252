// Package httpc builds the outbound HTTP clients used to reach detection
// servers. Clients always carry a timeout.
package httpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 3 * time.Second

	// MaxResponseBytes bounds a buffered response body.
	MaxResponseBytes = 4 << 20
)

// NewClient returns a client for a single backend host. A non-positive
// timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// Response is a fully read reply.
type Response struct {
	Status int
	Body   []byte
}

// Post sends body to url and reads at most MaxResponseBytes of the reply.
// Non-2xx statuses are returned as a Response, not an error.
func Post(ctx context.Context, client *http.Client, url, contentType string, body []byte, header http.Header) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}
