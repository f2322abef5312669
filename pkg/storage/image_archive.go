package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"novachat/pkg/ai"
)

// maxPresignExpiry is the S3 ceiling for presigned URL lifetimes.
const maxPresignExpiry = 7 * 24 * time.Hour

// ImageArchive uploads generated images and hands back a URL for them.
// With a public base URL the link is permanent; otherwise it is presigned.
type ImageArchive struct {
	store         ObjectStore
	prefix        string
	publicBaseURL string
	expiry        time.Duration
	now           func() time.Time
}

func NewImageArchive(store ObjectStore, prefix, publicBaseURL string, expiry time.Duration) *ImageArchive {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "generated"
	}
	if expiry <= 0 || expiry > maxPresignExpiry {
		expiry = maxPresignExpiry
	}
	return &ImageArchive{
		store:         store,
		prefix:        prefix,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		expiry:        expiry,
		now:           time.Now,
	}
}

// Save stores img under the account's prefix and returns its URL.
func (a *ImageArchive) Save(ctx context.Context, accountID string, img ai.Image) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("image archive not configured")
	}
	if len(img.Data) == 0 {
		return "", errors.New("empty image")
	}
	key := a.objectKey(accountID, img)
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	if err := a.store.Put(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), mime); err != nil {
		return "", err
	}
	if a.publicBaseURL != "" {
		return a.publicBaseURL + "/" + key, nil
	}
	url, err := a.store.PresignGet(ctx, key, a.expiry)
	if err != nil {
		// unreachable without a link
		if delErr := a.store.Delete(ctx, key); delErr != nil {
			return "", errors.Join(err, delErr)
		}
		return "", err
	}
	return url, nil
}

func (a *ImageArchive) objectKey(accountID string, img ai.Image) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	accountID = strings.NewReplacer("/", "_", "..", "_").Replace(strings.TrimSpace(accountID))
	if accountID == "" {
		accountID = "anonymous"
	}
	return fmt.Sprintf("%s/%s/%s/%s%s", a.prefix, accountID, a.now().UTC().Format("2006/01/02"), hex.EncodeToString(b[:]), img.Extension())
}
