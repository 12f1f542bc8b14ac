package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"commhub-backend/pkg/errs"

	"github.com/go-resty/resty/v2"
)

const defaultMaxMediaBytes = 25 << 20

// Mirror copies provider-hosted files into the object store.
// Without a store it returns the original URL unchanged.
type Mirror struct {
	store    ObjectStore
	http     *resty.Client
	maxBytes int
}

func NewMirror(store ObjectStore, timeout time.Duration) *Mirror {
	return &Mirror{
		store:    store,
		http:     resty.New().SetTimeout(timeout),
		maxBytes: defaultMaxMediaBytes,
	}
}

// WithBasicAuth returns a copy that authenticates downloads, e.g. for Twilio media URLs
func (m *Mirror) WithBasicAuth(user, pass string) *Mirror {
	if m == nil {
		return nil
	}
	cp := *m
	cp.http = resty.New().SetTimeout(m.http.GetClient().Timeout).SetBasicAuth(user, pass)
	return &cp
}

// Copy downloads sourceURL and stores it under prefix. It returns the reference to persist.
func (m *Mirror) Copy(ctx context.Context, sourceURL, prefix, contentType string) (string, error) {
	if m == nil || m.store == nil || sourceURL == "" {
		return sourceURL, nil
	}

	resp, err := m.http.R().SetContext(ctx).Get(sourceURL)
	if err != nil {
		return "", errs.Transient(fmt.Errorf("download media: %w", err))
	}
	if classified := errs.FromStatus(resp.StatusCode(), ""); classified != nil {
		return "", fmt.Errorf("download media: %w", classified)
	}
	body := resp.Body()
	if len(body) > m.maxBytes {
		return "", fmt.Errorf("media too large: %d bytes", len(body))
	}
	if contentType == "" {
		contentType = resp.Header().Get("Content-Type")
	}

	key := path.Join(prefix, time.Now().UTC().Format("2006/01/02"), objectName(sourceURL, contentType))
	ref, err := m.store.Put(ctx, key, contentType, body)
	if err != nil {
		return "", errs.Transient(err)
	}
	return ref, nil
}

// Save stores data that was already downloaded, e.g. an email attachment
func (m *Mirror) Save(ctx context.Context, name, prefix, contentType string, data []byte) (string, error) {
	if m == nil || m.store == nil || len(data) == 0 {
		return "", nil
	}
	if len(data) > m.maxBytes {
		return "", fmt.Errorf("media too large: %d bytes", len(data))
	}
	key := path.Join(prefix, time.Now().UTC().Format("2006/01/02"), objectName(name, contentType))
	ref, err := m.store.Put(ctx, key, contentType, data)
	if err != nil {
		return "", errs.Transient(err)
	}
	return ref, nil
}

// Enabled reports whether media is copied to an object store
func (m *Mirror) Enabled() bool {
	return m != nil && m.store != nil
}

func objectName(sourceURL, contentType string) string {
	name := path.Base(strings.SplitN(sourceURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	if path.Ext(name) == "" {
		if ext := extensionFor(contentType); ext != "" {
			name += ext
		}
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), name)
}

func extensionFor(contentType string) string {
	switch strings.SplitN(contentType, ";", 2)[0] {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}
