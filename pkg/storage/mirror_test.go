package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type memoryStore struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryStore) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return "mem://" + key, nil
}

func TestMirrorCopiesIntoStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("OggS..."))
	}))
	defer srv.Close()

	store := &memoryStore{}
	ref, err := NewMirror(store, 5*time.Second).Copy(context.Background(), srv.URL+"/media/voice", "chat/wa-main", "")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if !strings.HasPrefix(ref, "mem://chat/wa-main/") || !strings.HasSuffix(ref, "-voice.ogg") {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(store.objects))
	}
}

func TestMirrorWithoutStoreKeepsURL(t *testing.T) {
	ref, err := NewMirror(nil, time.Second).Copy(context.Background(), "https://cdn.example/x.jpg", "chat", "image/jpeg")
	if err != nil || ref != "https://cdn.example/x.jpg" {
		t.Fatalf("expected passthrough, got %q err=%v", ref, err)
	}
}

func TestMirrorRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewMirror(&memoryStore{}, time.Second).Copy(context.Background(), srv.URL+"/gone.jpg", "chat", ""); err == nil {
		t.Fatalf("expected error for 404 media")
	}
}
