package storage

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryFileStorage(t *testing.T) (*FileStorage, *MemoryStore) {
	t.Helper()
	cfg := config.DefaultConfig().Storage
	cfg.Bucket = "application-documents"
	mem := NewMemoryStore("http://localhost:8080/storage/v1", "test-secret")
	fs := NewFileStorage(mem, &cfg)
	require.NoError(t, fs.EnsureBucketExists(context.Background()))
	return fs, mem
}

func TestEnsureBucketExists_Idempotent(t *testing.T) {
	fs, mem := newMemoryFileStorage(t)

	require.NoError(t, fs.EnsureBucketExists(context.Background()))

	b, err := mem.GetBucket(context.Background(), "application-documents")
	require.NoError(t, err)
	assert.False(t, b.Public)
	assert.Equal(t, config.DefaultMaxFileSize, b.FileSizeLimit)
	assert.Contains(t, b.AllowedMIMETypes, "application/pdf")
}

// racingStore reports the bucket missing but another replica creates it first.
type racingStore struct {
	*MemoryStore
}

func (r racingStore) GetBucket(ctx context.Context, name string) (*Bucket, error) {
	return nil, newError("get bucket", ErrNotFound, "bucket not found")
}

func TestEnsureBucketExists_AlreadyExistsIsSuccess(t *testing.T) {
	mem := NewMemoryStore("http://x", "s")
	require.NoError(t, mem.CreateBucket(context.Background(), Bucket{Name: "docs"}))

	cfg := config.DefaultConfig().Storage
	cfg.Bucket = "docs"
	fs := NewFileStorage(racingStore{mem}, &cfg)

	assert.NoError(t, fs.EnsureBucketExists(context.Background()))
}

func TestUploadFile_PathAndSignedURL(t *testing.T) {
	fs, mem := newMemoryFileStorage(t)
	fixed := time.UnixMilli(1700000000000)
	fs.now = func() time.Time { return fixed }

	stored, err := fs.UploadFile(context.Background(), &FileUpload{
		FieldName:   "insurance certificate",
		FileName:    "Cert.PDF",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7"),
	}, "applications/7")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^applications/7/insurance_certificate-1700000000000-[0-9a-f]{12}\.pdf$`)
	assert.Regexp(t, pattern, stored.Path)
	assert.Equal(t, "application/pdf", stored.ContentType)
	assert.Equal(t, int64(8), stored.Size)
	assert.Equal(t, fixed.Add(365*24*time.Hour), stored.ExpiresAt)

	u, err := url.Parse(stored.SignedURL)
	require.NoError(t, err)
	q := u.Query()
	assert.True(t, mem.VerifySignedURL("application-documents", stored.Path, q.Get("expires"), q.Get("token")))
	assert.False(t, mem.VerifySignedURL("application-documents", stored.Path, q.Get("expires"), "forged"))
}

func TestUploadFile_UniquePaths(t *testing.T) {
	fs, _ := newMemoryFileStorage(t)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		stored, err := fs.UploadFile(context.Background(), &FileUpload{
			FieldName: "photo", FileName: "a.png", ContentType: "image/png", Data: []byte("png"),
		}, "f")
		require.NoError(t, err)
		assert.False(t, seen[stored.Path], "duplicate path %s", stored.Path)
		seen[stored.Path] = true
	}
}

func TestUploadFile_Validation(t *testing.T) {
	fs, _ := newMemoryFileStorage(t)
	ctx := context.Background()

	_, err := fs.UploadFile(ctx, &FileUpload{FileName: "a.pdf"}, "f")
	assert.True(t, errors.Is(err, response.ErrValidation))

	big := make([]byte, config.DefaultMaxFileSize+1)
	_, err = fs.UploadFile(ctx, &FileUpload{FileName: "a.pdf", ContentType: "application/pdf", Data: big}, "f")
	assert.True(t, errors.Is(err, response.ErrValidation))

	_, err = fs.UploadFile(ctx, &FileUpload{FileName: "run.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")}, "f")
	assert.True(t, errors.Is(err, response.ErrValidation))
}

func TestUploadFile_DetectsTypeFromExtension(t *testing.T) {
	fs, _ := newMemoryFileStorage(t)

	stored, err := fs.UploadFile(context.Background(), &FileUpload{
		FieldName: "doc", FileName: "notes.txt", ContentType: "application/octet-stream", Data: []byte("hello"),
	}, "f")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", stored.ContentType)
}

func TestGetSignedURL_DefaultExpiry(t *testing.T) {
	fs, mem := newMemoryFileStorage(t)
	fixed := time.Unix(1700000000, 0)
	mem.now = func() time.Time { return fixed }

	stored, err := fs.UploadFile(context.Background(), &FileUpload{
		FieldName: "doc", FileName: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF"),
	}, "f")
	require.NoError(t, err)

	signed, err := fs.GetSignedURL(context.Background(), stored.Path, 0)
	require.NoError(t, err)
	assert.True(t, strings.Contains(signed, "expires=1700003600"), signed)

	_, err = fs.GetSignedURL(context.Background(), "f/missing.pdf", 60)
	assert.True(t, errors.Is(err, response.ErrNotFound))
}

func TestDownloadAndDeleteFile(t *testing.T) {
	fs, _ := newMemoryFileStorage(t)
	ctx := context.Background()

	stored, err := fs.UploadFile(ctx, &FileUpload{
		FieldName: "doc", FileName: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF"),
	}, "f")
	require.NoError(t, err)

	data, ct, err := fs.DownloadFile(ctx, stored.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.Equal(t, "application/pdf", ct)

	require.NoError(t, fs.DeleteFile(ctx, stored.Path))

	_, _, err = fs.DownloadFile(ctx, stored.Path)
	assert.True(t, errors.Is(err, response.ErrNotFound))
	err = fs.DeleteFile(ctx, stored.Path)
	assert.True(t, errors.Is(err, response.ErrNotFound))
}

func TestFileStorage_UnavailableIsRetryable(t *testing.T) {
	store, fake := newTestSupabase(t)
	cfg := config.DefaultConfig().Storage
	cfg.Bucket = "docs"
	fs := NewFileStorage(store, &cfg)
	fake.failNext = 1

	err := fs.EnsureBucketExists(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, response.ErrExternal))

	var appErr *response.AppError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.Retryable)
	assert.NotContains(t, appErr.Message, "upstream down")
}

func TestFileStorage_SupabaseEndToEnd(t *testing.T) {
	store, _ := newTestSupabase(t)
	cfg := config.DefaultConfig().Storage
	cfg.Bucket = "docs"
	fs := NewFileStorage(store, &cfg)
	ctx := context.Background()

	require.NoError(t, fs.EnsureBucketExists(ctx))
	require.NoError(t, fs.EnsureBucketExists(ctx))

	stored, err := fs.UploadFile(ctx, &FileUpload{
		FieldName: "permit", FileName: "p.png", ContentType: "image/png", Data: []byte("png"),
	}, "applications/3")
	require.NoError(t, err)
	assert.Contains(t, stored.SignedURL, "/storage/v1/object/sign/docs/applications/3/permit-")

	data, _, err := fs.DownloadFile(ctx, stored.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestNewStore(t *testing.T) {
	cfg := config.DefaultConfig().Storage

	store, err := NewStore(&cfg, "http://localhost:8080")
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok)

	cfg.Driver = "supabase"
	_, err = NewStore(&cfg, "")
	assert.Error(t, err)

	cfg.URL = "https://x.supabase.co"
	cfg.ServiceKey = "k"
	store, err = NewStore(&cfg, "")
	require.NoError(t, err)
	_, ok = store.(*SupabaseStore)
	assert.True(t, ok)

	cfg.Driver = "ftp"
	_, err = NewStore(&cfg, "")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	fs, _ := newMemoryFileStorage(t)
	require.NoError(t, fs.Ping(context.Background()))

	cfg := config.DefaultConfig().Storage
	cfg.Bucket = "never-created"
	missing := NewFileStorage(NewMemoryStore("http://localhost:8080/storage/v1", "test-secret"), &cfg)
	err := missing.Ping(context.Background())
	assert.True(t, errors.Is(err, response.ErrNotFound))
}
