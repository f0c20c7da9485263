package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"wellnest/internal/util"
)

const defaultMaxAvatarBytes = 5 << 20

// ErrInvalidImage is returned for data URLs that are not a supported,
// well-formed base64 image within the size limit.
var ErrInvalidImage = errors.New("invalid profile picture")

var avatarExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// IsImageDataURL reports whether s looks like an inline base64 image.
func IsImageDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/") && strings.Contains(s, ";base64,")
}

// DecodeImageDataURL splits a data:image/...;base64, URL into its bytes
// and content type.
func DecodeImageDataURL(s string) ([]byte, string, error) {
	if !IsImageDataURL(s) {
		return nil, "", ErrInvalidImage
	}
	header, payload, _ := strings.Cut(strings.TrimPrefix(s, "data:"), ";base64,")
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if _, ok := avatarExtensions[contentType]; !ok {
		return nil, "", fmt.Errorf("%w: unsupported type %q", ErrInvalidImage, contentType)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return data, contentType, nil
}

// AvatarUploader moves inline profile pictures into object storage.
type AvatarUploader struct {
	store    ObjectStore
	maxBytes int
}

// NewAvatarUploader builds an uploader. maxBytes <= 0 selects 5 MiB.
func NewAvatarUploader(store ObjectStore, maxBytes int) *AvatarUploader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAvatarBytes
	}
	return &AvatarUploader{store: store, maxBytes: maxBytes}
}

// Upload stores the image under avatars/<userID>/ and returns its URL.
func (u *AvatarUploader) Upload(ctx context.Context, userID, dataURL string) (string, error) {
	data, contentType, err := DecodeImageDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if len(data) > u.maxBytes {
		return "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, u.maxBytes)
	}
	key := fmt.Sprintf("avatars/%s/%s.%s", userID, util.NewID(), avatarExtensions[contentType])
	if err := u.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return u.store.URL(key), nil
}
