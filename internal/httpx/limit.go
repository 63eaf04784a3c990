// Package httpx holds the http.RoundTripper layers shared by the outbound
// clients.
package httpx

import (
	"errors"
	"io"
	"net/http"
)

var ErrBodyTooLarge = errors.New("httpx: response body exceeds limit")

type limitTransport struct {
	next http.RoundTripper
	max  int64
}

// LimitBody caps every response body read through the returned transport at
// max bytes. Reading past the cap fails with ErrBodyTooLarge instead of
// silently truncating.
func LimitBody(next http.RoundTripper, max int64) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &limitTransport{next: next, max: max}
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedBody{
		r:   io.LimitReader(resp.Body, t.max+1),
		c:   resp.Body,
		max: t.max,
	}
	return resp, nil
}

type limitedBody struct {
	r    io.Reader
	c    io.Closer
	read int64
	max  int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if over := b.read - b.max; over > 0 {
		return n - int(over), ErrBodyTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.c.Close()
}
