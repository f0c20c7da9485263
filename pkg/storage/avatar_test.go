package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
)

type fakeObjectStore struct {
	key         string
	data        []byte
	contentType string
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.key, f.data, f.contentType = key, data, contentType
	return nil
}

func (f *fakeObjectStore) URL(key string) string {
	return objectURL("https://cdn.example.com/avatars-bucket", key)
}

func TestAvatarUploaderUpload(t *testing.T) {
	store := &fakeObjectStore{}
	png := []byte("\x89PNG\r\n\x1a\nfake")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	url, err := NewAvatarUploader(store, 0).Upload(context.Background(), "user_1", dataURL)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(store.key, "avatars/user_1/") || !strings.HasSuffix(store.key, ".png") {
		t.Fatalf("unexpected key %q", store.key)
	}
	if !bytes.Equal(store.data, png) || store.contentType != "image/png" {
		t.Fatalf("stored object mismatch: %q %q", store.data, store.contentType)
	}
	if url != "https://cdn.example.com/avatars-bucket/"+store.key {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestAvatarUploaderRejects(t *testing.T) {
	store := &fakeObjectStore{}
	uploader := NewAvatarUploader(store, 4)
	cases := []string{
		"data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte("<svg/>")),
		"data:image/png;base64,###",
		"data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("too large")),
		"https://example.com/me.png",
	}
	for _, in := range cases {
		if _, err := uploader.Upload(context.Background(), "user_1", in); !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("input %q: expected ErrInvalidImage, got %v", in, err)
		}
	}
	if store.key != "" {
		t.Fatalf("rejected images must not be stored")
	}
}

func TestIsImageDataURL(t *testing.T) {
	if !IsImageDataURL("data:image/jpeg;base64,AAAA") {
		t.Fatalf("expected jpeg data url to match")
	}
	if IsImageDataURL("https://example.com/a.png") || IsImageDataURL("") {
		t.Fatalf("plain urls are stored verbatim")
	}
}

func TestPublicBaseURL(t *testing.T) {
	if got := publicBaseURL(MinioConfig{Endpoint: "minio:9000", Bucket: "avatars"}); got != "http://minio:9000/avatars" {
		t.Fatalf("derived base url = %q", got)
	}
	if got := publicBaseURL(MinioConfig{Endpoint: "minio:9000", Bucket: "avatars", UseSSL: true, PublicBaseURL: "https://cdn.example.com/a/"}); got != "https://cdn.example.com/a" {
		t.Fatalf("explicit base url = %q", got)
	}
	if got := objectURL("https://cdn.example.com", "avatars/user 1/x.png"); got != "https://cdn.example.com/avatars/user%201/x.png" {
		t.Fatalf("object url = %q", got)
	}
}
