package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig describes the S3 compatible bucket used by the MinIO backend.
type MinIOConfig struct {
	Endpoint  string // "minio:9000" or "http(s)://minio:9000"
	AccessKey string
	SecretKey string
	Bucket    string
}

// MinIO keeps folders as key prefixes below prefix inside one bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinIOClient connects to the configured endpoint and checks that the
// bucket exists.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}
	return client, nil
}

// NewMinIO returns a backend over bucket whose folders live below prefix.
// Several backends may share one client with different prefixes.
func NewMinIO(client *minio.Client, bucket, prefix string) *MinIO {
	return &MinIO{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// folderPrefix returns the key prefix for folder, with a trailing slash, or
// "" for the bucket root.
func (m *MinIO) folderPrefix(folder string) string {
	p := path.Join(m.prefix, folder)
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

func (m *MinIO) key(folder, name string) (string, error) {
	if err := checkFolder(folder); err != nil {
		return "", err
	}
	if err := checkElement(name); err != nil {
		return "", err
	}
	return m.folderPrefix(folder) + name, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *MinIO) List(ctx context.Context, folder string) ([]FileInfo, error) {
	if err := checkFolder(folder); err != nil {
		return nil, err
	}
	prefix := m.folderPrefix(folder)

	files := []FileInfo{}
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", folder, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.HasSuffix(name, "/") || isHidden(name) {
			continue
		}
		files = append(files, FileInfo{Name: name, Size: obj.Size, Modified: obj.LastModified})
	}
	return files, nil
}

func (m *MinIO) Put(ctx context.Context, folder, name string, r io.Reader, size int64) (int64, error) {
	key, err := m.key(folder, name)
	if err != nil {
		return 0, err
	}
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := m.client.PutObject(ctx, m.bucket, key, ctxReader{ctx: ctx, r: r}, size,
		minio.PutObjectOptions{ContentType: contentType})
	if errors.Is(err, io.ErrUnexpectedEOF) || minio.ToErrorResponse(err).Code == "UnexpectedEOF" {
		return 0, fmt.Errorf("put %q: short body: %w", name, ErrSizeMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("put %q: %w", name, err)
	}
	if size >= 0 && info.Size != size {
		_ = m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
		return info.Size, fmt.Errorf("put %q: got %d of %d bytes: %w", name, info.Size, size, ErrSizeMismatch)
	}
	return info.Size, nil
}

func (m *MinIO) Open(ctx context.Context, folder, name string) (io.ReadCloser, FileInfo, error) {
	key, err := m.key(folder, name)
	if err != nil {
		return nil, FileInfo{}, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("open %q: %w", name, err)
	}
	// Force an early error for missing object / auth issues.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, FileInfo{}, fmt.Errorf("open %q: %w", name, ErrNotExist)
		}
		return nil, FileInfo{}, fmt.Errorf("stat %q: %w", name, err)
	}
	return obj, FileInfo{Name: name, Size: st.Size, Modified: st.LastModified}, nil
}

func (m *MinIO) Delete(ctx context.Context, folder, name string) error {
	key, err := m.key(folder, name)
	if err != nil {
		return err
	}
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("delete %q: %w", name, ErrNotExist)
		}
		return fmt.Errorf("stat %q: %w", name, err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func (m *MinIO) Folders(ctx context.Context) ([]string, error) {
	prefix := m.folderPrefix("")
	var out []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list folders: %w", obj.Err)
		}
		rest := strings.TrimPrefix(obj.Key, prefix)
		if !strings.HasSuffix(rest, "/") {
			continue
		}
		name := strings.TrimSuffix(rest, "/")
		if name != "" && !isHidden(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *MinIO) FolderExists(ctx context.Context, folder string) (bool, error) {
	if err := checkFolder(folder); err != nil {
		return false, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{Prefix: m.folderPrefix(folder), Recursive: true, MaxKeys: 1}
	for obj := range m.client.ListObjects(ctx, m.bucket, opts) {
		if obj.Err != nil {
			return false, obj.Err
		}
		return true, nil
	}
	return false, nil
}

func (m *MinIO) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket does not exist: %s", m.bucket)
	}
	return nil
}
