package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nightscout-easyview/internal/model"
)

func TestInfluxMirrorWritesPoints(t *testing.T) {
	var body, bucket string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		bucket = r.URL.Query().Get("bucket")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewInfluxMirror(srv.URL, "token", "home", "cgm", "", 2*time.Second, testLogger())
	defer m.Close(context.Background())

	res, err := m.Upload(context.Background(), sampleEntries(2))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Accepted != 2 {
		t.Fatalf("expected 2 points accepted, got %d", res.Accepted)
	}
	if bucket != "cgm" {
		t.Fatalf("unexpected bucket %q", bucket)
	}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 line protocol rows, got %q", body)
	}
	if !strings.HasPrefix(lines[0], "glucose,") || !strings.Contains(lines[0], "direction=Flat") || !strings.Contains(lines[0], "sgv=120i") {
		t.Fatalf("unexpected first row %q", lines[0])
	}
}

func TestInfluxMirrorWriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"code":"internal error","message":"disk full"}`)
	}))
	defer srv.Close()

	m := NewInfluxMirror(srv.URL, "token", "home", "cgm", "glucose", time.Second, testLogger())
	defer m.Close(context.Background())

	if _, err := m.Upload(context.Background(), sampleEntries(1)); !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
