package httpx_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"itinerary-service/internal/httpx"
)

func serve(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func get(t *testing.T, url string, max int64) ([]byte, error) {
	t.Helper()
	client := &http.Client{Transport: httpx.LimitBody(nil, max)}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func TestLimitBody_WithinLimit(t *testing.T) {
	url := serve(t, strings.Repeat("a", 1024))

	data, err := get(t, url, 1024)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(data) != 1024 {
		t.Fatalf("expected 1024 bytes, got %d", len(data))
	}
}

func TestLimitBody_Oversized(t *testing.T) {
	url := serve(t, strings.Repeat("a", 4096))

	data, err := get(t, url, 1024)
	if !errors.Is(err, httpx.ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if len(data) > 1024 {
		t.Fatalf("read %d bytes past the limit", len(data))
	}
}
