// Package models resolves model artifact references to bytes or local files.
// A reference is a plain path, a file:// URL, an http(s):// URL, an
// s3://bucket/key object or a gs://bucket/object object.
package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/teslashibe/go-emotion/internal/httpc"
	"github.com/teslashibe/go-emotion/internal/log"
)

// DefaultMaxBytes caps the size of a fetched artifact.
const DefaultMaxBytes = 256 << 20

// Scheme is the storage backend of a reference.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeHTTP Scheme = "http"
	SchemeS3   Scheme = "s3"
	SchemeGCS  Scheme = "gs"
)

// Ref is a parsed artifact reference. For object stores Host is the bucket
// and Path the object key without a leading slash.
type Ref struct {
	Raw    string
	Scheme Scheme
	Host   string
	Path   string
}

// ParseRef parses an artifact reference.
func ParseRef(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, ErrEmptyRef
	}
	if !strings.Contains(raw, "://") {
		return Ref{Raw: raw, Scheme: SchemeFile, Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("models: parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "file":
		return Ref{Raw: raw, Scheme: SchemeFile, Path: u.Path}, nil
	case "http", "https":
		return Ref{Raw: raw, Scheme: SchemeHTTP, Host: u.Host, Path: u.Path}, nil
	case "s3", "gs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Ref{}, fmt.Errorf("models: %q needs a bucket and an object", raw)
		}
		return Ref{Raw: raw, Scheme: Scheme(u.Scheme), Host: u.Host, Path: key}, nil
	default:
		return Ref{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// Fetcher downloads artifacts. The zero value is usable; object store
// clients are created on first use from the ambient credentials.
type Fetcher struct {
	// HTTPClient serves http(s) references; httpc.Client when nil.
	HTTPClient *http.Client

	// CacheDir receives materialized remote artifacts.
	CacheDir string

	// MaxBytes caps artifact size; DefaultMaxBytes when zero.
	MaxBytes int64

	// AWSRegion overrides AWS_REGION for S3 references.
	AWSRegion string

	// S3 overrides the S3 client.
	S3 s3iface.S3API

	// GCSOptions are passed to the Cloud Storage client.
	GCSOptions []option.ClientOption

	mu  sync.Mutex
	gcs *storage.Service
}

// NewFetcher creates a fetcher that materializes into cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{CacheDir: cacheDir}
}

// Fetch returns the artifact bytes.
func (f *Fetcher) Fetch(ctx context.Context, raw string) ([]byte, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return nil, err
	}
	data, err := f.fetch(ctx, ref)
	if err != nil {
		return nil, &FetchError{Ref: raw, Err: err}
	}
	if len(data) == 0 {
		return nil, &FetchError{Ref: raw, Err: ErrEmptyArtifact}
	}
	log.Debug("model fetched", "ref", raw, "bytes", len(data))
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, ref Ref) ([]byte, error) {
	switch ref.Scheme {
	case SchemeFile:
		return f.readFile(ref.Path)
	case SchemeHTTP:
		data, err := httpc.Download(ctx, f.HTTPClient, ref.Raw, f.limit()+1)
		if err == nil && int64(len(data)) > f.limit() {
			return nil, ErrTooLarge
		}
		return data, err
	case SchemeS3:
		return f.fetchS3(ctx, ref)
	case SchemeGCS:
		return f.fetchGCS(ctx, ref)
	}
	return nil, ErrUnsupportedScheme
}

func (f *Fetcher) limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.limit()+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.limit() {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (f *Fetcher) readFile(name string) ([]byte, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return f.readAll(file)
}

func (f *Fetcher) s3Client() (s3iface.S3API, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.S3 != nil {
		return f.S3, nil
	}

	cfg := &aws.Config{}
	if region := f.AWSRegion; region != "" {
		cfg.Region = aws.String(region)
	} else if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = aws.String(region)
	}
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		cfg.Credentials = credentials.NewStaticCredentials(id, secret, os.Getenv("AWS_SESSION_TOKEN"))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	f.S3 = s3.New(sess)
	return f.S3, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, ref Ref) ([]byte, error) {
	client, err := f.s3Client()
	if err != nil {
		return nil, err
	}
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Host),
		Key:    aws.String(ref.Path),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return f.readAll(out.Body)
}

// gcsService builds the cached client on a background context: the first
// caller's context ends with its session, and token refreshes outlive it.
func (f *Fetcher) gcsService() (*storage.Service, error) {
	ctx := context.Background()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gcs != nil {
		return f.gcs, nil
	}

	opts := f.GCSOptions
	if len(opts) == 0 {
		ts, err := google.DefaultTokenSource(ctx, storage.DevstorageReadOnlyScope)
		if err != nil {
			return nil, fmt.Errorf("google credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(ts)}
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	f.gcs = svc
	return svc, nil
}

func (f *Fetcher) fetchGCS(ctx context.Context, ref Ref) ([]byte, error) {
	svc, err := f.gcsService()
	if err != nil {
		return nil, err
	}
	resp, err := svc.Objects.Get(ref.Host, ref.Path).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return f.readAll(resp.Body)
}

// Materialize returns a local path holding the artifact. Local references
// are returned as they are; remote ones are downloaded into CacheDir once
// and reused afterwards.
func (f *Fetcher) Materialize(ctx context.Context, raw string) (string, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	if ref.Scheme == SchemeFile {
		if _, err := os.Stat(ref.Path); err != nil {
			return "", &FetchError{Ref: raw, Err: err}
		}
		return ref.Path, nil
	}

	dst := filepath.Join(f.cacheDir(), cacheName(ref))
	if _, err := os.Stat(dst); err == nil {
		log.Debug("model cache hit", "ref", raw, "path", dst)
		return dst, nil
	}

	data, err := f.Fetch(ctx, raw)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(dst, data); err != nil {
		return "", &FetchError{Ref: raw, Err: err}
	}
	log.Info("model cached", "ref", raw, "path", dst, "bytes", len(data))
	return dst, nil
}

func (f *Fetcher) cacheDir() string {
	if f.CacheDir != "" {
		return f.CacheDir
	}
	return filepath.Join(os.TempDir(), "go-emotion-models")
}

// cacheName keeps the artifact's base name, so backends that sniff the
// extension still work, prefixed with a hash of the full reference.
func cacheName(ref Ref) string {
	sum := sha256.Sum256([]byte(ref.Raw))
	return hex.EncodeToString(sum[:8]) + "-" + path.Base(ref.Path)
}

func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// IsNotFound reports whether err means the artifact does not exist.
func IsNotFound(err error) bool {
	var se *httpc.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound
	}
	return errors.Is(err, os.ErrNotExist)
}
