package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SupabaseStore talks to the Supabase Storage REST API with the service role key.
type SupabaseStore struct {
	storageURL string // <project>/storage/v1
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStore(projectURL, serviceKey string, timeout time.Duration) *SupabaseStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseStore{
		storageURL: strings.TrimRight(projectURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// escapePath escapes each segment so folder separators survive.
func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (s *SupabaseStore) request(ctx context.Context, op, method, urlStr string, body []byte, headers map[string]string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, &Error{Op: op, Kind: ErrUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Error{Op: op, Kind: ErrUnavailable, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, nil, parseError(op, respBody, resp.StatusCode)
	}
	return respBody, resp.Header, nil
}

// parseError maps a Supabase error body to an Error. Supabase reports some
// missing buckets and objects as 400 with a "not found" message, and bucket
// conflicts as 400 or 409 with "already exists".
func parseError(op string, body []byte, statusCode int) error {
	msg := strings.TrimSpace(string(body))
	var errField, codeField string
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		errField = parsed.Get("error").String()
		codeField = parsed.Get("statusCode").String()
		if m := parsed.Get("message").String(); m != "" {
			msg = m
		} else if errField != "" {
			msg = errField
		}
	}

	lower := strings.ToLower(msg + " " + errField)
	var kind error
	switch {
	case statusCode == http.StatusNotFound || codeField == "404" || strings.Contains(lower, "not found"):
		kind = ErrNotFound
	case statusCode == http.StatusConflict || codeField == "409" || strings.Contains(lower, "already exists"):
		kind = ErrAlreadyExists
	case statusCode == http.StatusBadRequest, statusCode == http.StatusRequestEntityTooLarge,
		statusCode == http.StatusUnsupportedMediaType:
		kind = ErrRejected
	default:
		kind = ErrUnavailable
	}
	return &Error{Op: op, StatusCode: statusCode, Message: msg, Kind: kind}
}

func (s *SupabaseStore) GetBucket(ctx context.Context, name string) (*Bucket, error) {
	body, _, err := s.request(ctx, "get bucket", http.MethodGet, s.storageURL+"/bucket/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, err
	}
	var bucket Bucket
	if err := json.Unmarshal(body, &bucket); err != nil {
		return nil, fmt.Errorf("unmarshal bucket: %w", err)
	}
	return &bucket, nil
}

func (s *SupabaseStore) CreateBucket(ctx context.Context, bucket Bucket) error {
	if bucket.ID == "" {
		bucket.ID = bucket.Name
	}
	body, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("marshal bucket: %w", err)
	}
	_, _, err = s.request(ctx, "create bucket", http.MethodPost, s.storageURL+"/bucket", body, nil)
	return err
}

func (s *SupabaseStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.storageURL, url.PathEscape(bucket), escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "upload", Kind: ErrUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return parseError("upload", respBody, resp.StatusCode)
	}
	return nil
}

func (s *SupabaseStore) Download(ctx context.Context, bucket, path string) ([]byte, string, error) {
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.storageURL, url.PathEscape(bucket), escapePath(path))
	body, header, err := s.request(ctx, "download", http.MethodGet, urlStr, nil, nil)
	if err != nil {
		return nil, "", err
	}
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func (s *SupabaseStore) CreateSignedURL(ctx context.Context, bucket, path string, expiresIn int) (string, error) {
	urlStr := fmt.Sprintf("%s/object/sign/%s/%s", s.storageURL, url.PathEscape(bucket), escapePath(path))
	body, err := json.Marshal(map[string]int{"expiresIn": expiresIn})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, _, err := s.request(ctx, "sign", http.MethodPost, urlStr, body, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.SignedURL == "" {
		return "", newError("sign", ErrUnavailable, "empty signed url")
	}
	if strings.HasPrefix(result.SignedURL, "http") {
		return result.SignedURL, nil
	}
	return s.storageURL + "/" + strings.TrimLeft(result.SignedURL, "/"), nil
}

// Delete removes one object. Supabase answers 200 with an empty list when the
// prefix matched nothing, which is reported as ErrNotFound.
func (s *SupabaseStore) Delete(ctx context.Context, bucket, path string) error {
	urlStr := fmt.Sprintf("%s/object/%s", s.storageURL, url.PathEscape(bucket))
	body, err := json.Marshal(map[string][]string{"prefixes": {path}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, _, err := s.request(ctx, "delete", http.MethodDelete, urlStr, body, nil)
	if err != nil {
		return err
	}

	var deleted []json.RawMessage
	if err := json.Unmarshal(respBody, &deleted); err == nil && len(deleted) == 0 {
		return newError("delete", ErrNotFound, "object not found")
	}
	return nil
}

// IsAlreadyExists reports whether err is a bucket/object conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
