package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

const (
	// DefaultSignedURLSeconds is the lifetime of on-demand signed URLs.
	DefaultSignedURLSeconds = 3600
	// UploadSignedURLSeconds is the lifetime of the URL returned with an upload.
	UploadSignedURLSeconds = 365 * 24 * 3600
)

// FileUpload is one multipart file part.
type FileUpload struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// StoredFile is the result of a successful upload.
type StoredFile struct {
	Path         string    `json:"path"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	SignedURL    string    `json:"signed_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileStorage applies bucket policy, unique naming and error mapping on top
// of an ObjectStore. All methods return *response.AppError kinds.
type FileStorage struct {
	store       ObjectStore
	bucket      string
	maxFileSize int64
	allowed     []string
	timeout     time.Duration
	now         func() time.Time
}

func NewFileStorage(store ObjectStore, cfg *config.StorageConfig) *FileStorage {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = config.DefaultMaxFileSize
	}
	allowed := cfg.AllowedMIMETypes
	if len(allowed) == 0 {
		allowed = config.DefaultAllowedMIMETypes
	}
	return &FileStorage{
		store:       store,
		bucket:      cfg.Bucket,
		maxFileSize: maxSize,
		allowed:     allowed,
		timeout:     timeout,
		now:         time.Now,
	}
}

// NewStore builds the ObjectStore selected by configuration.
func NewStore(cfg *config.StorageConfig, apiURL string) (ObjectStore, error) {
	switch cfg.Driver {
	case "supabase":
		if cfg.URL == "" || cfg.ServiceKey == "" {
			return nil, errors.New("supabase storage requires url and service_key")
		}
		return NewSupabaseStore(cfg.URL, cfg.ServiceKey, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case "memory", "":
		return NewMemoryStore(strings.TrimRight(apiURL, "/")+"/storage/v1", cfg.SigningSecret), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func (f *FileStorage) Bucket() string { return f.bucket }

// EnsureBucketExists creates the private bucket if missing. A concurrent
// creation reported as "already exists" counts as success.
func (f *FileStorage) EnsureBucketExists(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	_, err := f.store.GetBucket(ctx, f.bucket)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return f.mapError("ensure bucket", err)
	}

	err = f.store.CreateBucket(ctx, Bucket{
		ID:               f.bucket,
		Name:             f.bucket,
		Public:           false,
		FileSizeLimit:    f.maxFileSize,
		AllowedMIMETypes: f.allowed,
	})
	if err != nil && !IsAlreadyExists(err) {
		return f.mapError("create bucket", err)
	}
	logger.Info().Str("bucket", f.bucket).Msg("storage bucket ready")
	return nil
}

// Ping reports whether the bucket is reachable.
func (f *FileStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if _, err := f.store.GetBucket(ctx, f.bucket); err != nil {
		return f.mapError("ping", err)
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// objectPath builds folder/<field>-<unixmillis>-<12 hex><ext>.
func (f *FileStorage) objectPath(folder, fieldName, fileName string) (string, error) {
	suffix, err := utils.RandomHex(6)
	if err != nil {
		return "", err
	}
	field := unsafeNameChars.ReplaceAllString(fieldName, "_")
	if field == "" {
		field = "file"
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	name := fmt.Sprintf("%s-%d-%s%s", field, f.now().UnixMilli(), suffix, ext)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name, nil
	}
	return folder + "/" + name, nil
}

func detectContentType(up *FileUpload) string {
	ct := strings.TrimSpace(up.ContentType)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(up.FileName))); byExt != "" {
		return strings.SplitN(byExt, ";", 2)[0]
	}
	return http.DetectContentType(up.Data)
}

// UploadFile stores the file under a fresh unique path and returns a
// one-year signed URL for it.
func (f *FileStorage) UploadFile(ctx context.Context, up *FileUpload, folder string) (*StoredFile, error) {
	if up == nil || len(up.Data) == 0 {
		return nil, response.NewBadRequest("file is empty")
	}
	if int64(len(up.Data)) > f.maxFileSize {
		return nil, response.NewBadRequest(fmt.Sprintf("file %s exceeds the %d byte limit", up.FileName, f.maxFileSize))
	}
	contentType := detectContentType(up)
	if !mimeAllowed(f.allowed, contentType) {
		return nil, response.NewBadRequest(fmt.Sprintf("file type %s is not allowed", contentType))
	}

	path, err := f.objectPath(folder, up.FieldName, up.FileName)
	if err != nil {
		return nil, fmt.Errorf("generate object path: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.store.Upload(ctx, f.bucket, path, up.Data, contentType); err != nil {
		return nil, f.mapError("upload", err)
	}

	signed, err := f.store.CreateSignedURL(ctx, f.bucket, path, UploadSignedURLSeconds)
	if err != nil {
		// Do not leave an object nobody knows about.
		if delErr := f.store.Delete(context.WithoutCancel(ctx), f.bucket, path); delErr != nil {
			logger.Warn().Err(delErr).Str("path", path).Msg("failed to remove object after signing error")
		}
		return nil, f.mapError("sign", err)
	}

	return &StoredFile{
		Path:         path,
		OriginalName: up.FileName,
		ContentType:  contentType,
		Size:         int64(len(up.Data)),
		SignedURL:    signed,
		ExpiresAt:    f.now().Add(UploadSignedURLSeconds * time.Second),
	}, nil
}

// GetSignedURL returns a signed URL valid for expiresIn seconds (default 3600).
func (f *FileStorage) GetSignedURL(ctx context.Context, path string, expiresIn int) (string, error) {
	if path == "" {
		return "", response.NewBadRequest("path is required")
	}
	if expiresIn <= 0 {
		expiresIn = DefaultSignedURLSeconds
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	signed, err := f.store.CreateSignedURL(ctx, f.bucket, path, expiresIn)
	if err != nil {
		return "", f.mapError("sign", err)
	}
	return signed, nil
}

func (f *FileStorage) DownloadFile(ctx context.Context, path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", response.NewBadRequest("path is required")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	data, contentType, err := f.store.Download(ctx, f.bucket, path)
	if err != nil {
		return nil, "", f.mapError("download", err)
	}
	return data, contentType, nil
}

func (f *FileStorage) DeleteFile(ctx context.Context, path string) error {
	if path == "" {
		return response.NewBadRequest("path is required")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.store.Delete(ctx, f.bucket, path); err != nil {
		return f.mapError("delete", err)
	}
	return nil
}

// mapError converts store errors into the API error taxonomy and logs the
// detail that is not sent to clients.
func (f *FileStorage) mapError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return response.NewNotFound("file not found")
	case errors.Is(err, ErrAlreadyExists):
		return response.NewConflict("file already exists")
	case errors.Is(err, ErrRejected):
		var se *Error
		msg := "file rejected by storage"
		if errors.As(err, &se) && se.Message != "" {
			msg = "file rejected by storage: " + se.Message
		}
		return response.NewBadRequest(msg)
	}
	logger.Error().Err(err).Str("op", op).Str("bucket", f.bucket).Msg("storage request failed")
	return response.NewServiceUnavailable("file storage is temporarily unavailable", err)
}
