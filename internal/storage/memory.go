package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. It enforces bucket policy like the
// real service and signs URLs with HMAC-SHA256.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	secret  []byte
	buckets map[string]Bucket
	objects map[string]map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStore(baseURL, secret string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		buckets: make(map[string]Bucket),
		objects: make(map[string]map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *MemoryStore) GetBucket(_ context.Context, name string) (*Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[name]
	if !ok {
		return nil, newError("get bucket", ErrNotFound, "bucket not found")
	}
	return &b, nil
}

func (m *MemoryStore) CreateBucket(_ context.Context, bucket Bucket) error {
	if bucket.Name == "" {
		return newError("create bucket", ErrRejected, "bucket name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket.Name]; ok {
		return newError("create bucket", ErrAlreadyExists, "bucket already exists")
	}
	if bucket.ID == "" {
		bucket.ID = bucket.Name
	}
	m.buckets[bucket.Name] = bucket
	m.objects[bucket.Name] = make(map[string]memoryObject)
	return nil
}

func (m *MemoryStore) Upload(_ context.Context, bucket, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return newError("upload", ErrNotFound, "bucket not found")
	}
	if b.FileSizeLimit > 0 && int64(len(data)) > b.FileSizeLimit {
		return &Error{Op: "upload", StatusCode: 413, Kind: ErrRejected, Message: "payload too large"}
	}
	if len(b.AllowedMIMETypes) > 0 && !mimeAllowed(b.AllowedMIMETypes, contentType) {
		return &Error{Op: "upload", StatusCode: 415, Kind: ErrRejected, Message: "mime type " + contentType + " is not supported"}
	}
	if _, exists := m.objects[bucket][path]; exists {
		return newError("upload", ErrAlreadyExists, "the resource already exists")
	}
	m.objects[bucket][path] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryStore) Download(_ context.Context, bucket, path string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket][path]
	if !ok {
		return nil, "", newError("download", ErrNotFound, "object not found")
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (m *MemoryStore) CreateSignedURL(_ context.Context, bucket, path string, expiresIn int) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[bucket][path]
	m.mu.RUnlock()
	if !ok {
		return "", newError("sign", ErrNotFound, "object not found")
	}

	expires := m.now().Add(time.Duration(expiresIn) * time.Second).Unix()
	sig := m.sign(bucket, path, expires)
	return fmt.Sprintf("%s/object/sign/%s/%s?expires=%d&token=%s",
		m.baseURL, url.PathEscape(bucket), escapePath(path), expires, sig), nil
}

func (m *MemoryStore) Delete(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[bucket][path]; !ok {
		return newError("delete", ErrNotFound, "object not found")
	}
	delete(m.objects[bucket], path)
	return nil
}

// ObjectCount reports how many objects a bucket holds.
func (m *MemoryStore) ObjectCount(bucket string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects[bucket])
}

// VerifySignedURL checks a token and expiry produced by CreateSignedURL.
func (m *MemoryStore) VerifySignedURL(bucket, path, expires, token string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || m.now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(token), []byte(m.sign(bucket, path, exp)))
}

func (m *MemoryStore) sign(bucket, path string, expires int64) string {
	mac := hmac.New(sha256.New, m.secret)
	fmt.Fprintf(mac, "%s/%s:%d", bucket, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func mimeAllowed(allowed []string, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == ct {
			return true
		}
		if strings.HasSuffix(a, "/*") && strings.HasPrefix(ct, strings.TrimSuffix(a, "*")) {
			return true
		}
	}
	return false
}
