package httpsnap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func contextBG() context.Context { return context.Background() }

func rangeServer(t *testing.T, data []byte, etag *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Accept-Encoding"); enc != "identity" {
			t.Errorf("expected Accept-Encoding: identity, got %q", enc)
		}
		w.Header().Set("ETag", *etag)
		w.Header().Set("Accept-Ranges", "bytes")
		rng := r.Header.Get("Range")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.WriteHeader(http.StatusOK)
			return
		}
		if rng == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		var start, end int
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		if end >= len(data) {
			end = len(data) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

func TestReadAtHonorsRange(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	etag := `"v1"`
	srv := rangeServer(t, data, &etag)
	defer srv.Close()

	s := New(srv.URL)
	sz, err := s.Size(contextBG())
	if err != nil {
		t.Fatal(err)
	}
	if sz != uint64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), sz)
	}

	buf := make([]byte, 100)
	n, err := s.ReadAt(contextBG(), buf, 500)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Fatalf("expected 100 bytes, got %d", n)
	}
	for i, b := range buf {
		if b != data[500+i] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestReadAtDetectsETagChange(t *testing.T) {
	data := make([]byte, 1000)
	etag := `"v1"`
	srv := rangeServer(t, data, &etag)
	defer srv.Close()

	s := New(srv.URL)
	if _, err := s.Size(contextBG()); err != nil {
		t.Fatal(err)
	}
	etag = `"v2"`
	buf := make([]byte, 10)
	_, err := s.ReadAt(contextBG(), buf, 0)
	if err == nil {
		t.Fatalf("expected HTTP_RESOURCE_CHANGED error")
	}
}
