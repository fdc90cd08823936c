// Package storage persists NDImage cells to an S3-compatible object store,
// adapted from the teacher's internal/storage/minio_store.go (camera
// snapshot upload) retargeted to cell bodies plus JSON metadata sidecars,
// keyed per SPEC_FULL.md §9 as "<ndimage>/<ch>_<z>_<t>.bin" + ".json".
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sua-org/scope-bus/internal/image"
)

// ImageStore persists and retrieves NDImage cells by their (ndimage name,
// channel, z, t) coordinate.
type ImageStore interface {
	SavePersistedCell(ctx context.Context, ndimage string, iCh, iZ, iT int, cell image.Cell) (string, error)
	LoadPersistedCell(ctx context.Context, ndimage string, iCh, iZ, iT int) (image.Cell, error)
}

type cellSidecar struct {
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Metadata map[string]interface{} `json:"metadata"`
}

type MinioStore struct {
	client  *minio.Client
	bucket  string
	prefix  string
	baseURL *url.URL
	useSSL  bool
}

// NewMinioStoreFromEnv reads SCOPEBUS_MINIO_* env vars and ensures the
// configured bucket exists, optionally applying a public-read policy,
// mirroring the teacher's NewMinioStoreFromEnv.
func NewMinioStoreFromEnv() (*MinioStore, error) {
	endpoint := getenv("SCOPEBUS_MINIO_ENDPOINT", "localhost:9000")
	accessKey := os.Getenv("SCOPEBUS_MINIO_ACCESS_KEY")
	secretKey := os.Getenv("SCOPEBUS_MINIO_SECRET_KEY")
	bucket := getenv("SCOPEBUS_MINIO_BUCKET", "scope-bus-images")
	prefix := getenv("SCOPEBUS_MINIO_PREFIX", "")
	useSSL := getenv("SCOPEBUS_MINIO_USE_SSL", "false") == "true"
	base := getenv("SCOPEBUS_MINIO_PUBLIC_BASE_URL", "")
	publicRead := getenv("SCOPEBUS_MINIO_PUBLIC_READ", "false") == "true"

	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("SCOPEBUS_MINIO_ACCESS_KEY / SCOPEBUS_MINIO_SECRET_KEY not configured")
	}

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := cli.BucketExists(ctx, bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("creating/checking bucket %s: %w", bucket, err)
		}
	}

	if publicRead {
		resource := fmt.Sprintf("arn:aws:s3:::%s/*", bucket)
		cleanPrefix := strings.Trim(prefix, "/")
		if cleanPrefix != "" {
			resource = fmt.Sprintf("arn:aws:s3:::%s/%s/*", bucket, cleanPrefix)
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["%s"]}]}`, resource)
		if err := cli.SetBucketPolicy(ctx, bucket, policy); err != nil {
			return nil, fmt.Errorf("setting public policy on bucket %s: %w", bucket, err)
		}
	}

	var u *url.URL
	if base != "" {
		u, err = url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid SCOPEBUS_MINIO_PUBLIC_BASE_URL: %w", err)
		}
	}

	log.Printf("[storage] connected to %s, bucket=%s", endpoint, bucket)

	return &MinioStore{
		client:  cli,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		baseURL: u,
		useSSL:  useSSL,
	}, nil
}

// SavePersistedCell uploads the cell's pixel data and a JSON sidecar of its
// dimensions/metadata, returning the data object's URL.
func (s *MinioStore) SavePersistedCell(ctx context.Context, ndimage string, iCh, iZ, iT int, cell image.Cell) (string, error) {
	dataKey := joinObjectKey(s.prefix, cellDataKey(ndimage, iCh, iZ, iT))
	sidecarKey := joinObjectKey(s.prefix, cellSidecarKey(ndimage, iCh, iZ, iT))

	if _, err := s.client.PutObject(ctx, s.bucket, dataKey, bytes.NewReader(cell.Data), int64(len(cell.Data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
		return "", fmt.Errorf("uploading cell data: %w", err)
	}

	sidecar, err := json.Marshal(cellSidecar{Width: cell.Width, Height: cell.Height, Metadata: cell.Metadata})
	if err != nil {
		return "", fmt.Errorf("marshaling cell sidecar: %w", err)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, sidecarKey, bytes.NewReader(sidecar), int64(len(sidecar)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("uploading cell sidecar: %w", err)
	}

	if s.baseURL != nil {
		u := *s.baseURL
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + dataKey
		} else {
			u.Path = fmt.Sprintf("%s/%s", trimSuffix(u.Path, "/"), dataKey)
		}
		return u.String(), nil
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, dataKey), nil
}

// LoadPersistedCell fetches the data object and sidecar previously written
// by SavePersistedCell.
func (s *MinioStore) LoadPersistedCell(ctx context.Context, ndimage string, iCh, iZ, iT int) (image.Cell, error) {
	dataKey := joinObjectKey(s.prefix, cellDataKey(ndimage, iCh, iZ, iT))
	sidecarKey := joinObjectKey(s.prefix, cellSidecarKey(ndimage, iCh, iZ, iT))

	dataObj, err := s.client.GetObject(ctx, s.bucket, dataKey, minio.GetObjectOptions{})
	if err != nil {
		return image.Cell{}, fmt.Errorf("fetching cell data: %w", err)
	}
	defer dataObj.Close()
	data, err := io.ReadAll(dataObj)
	if err != nil {
		return image.Cell{}, fmt.Errorf("reading cell data: %w", err)
	}

	sidecarObj, err := s.client.GetObject(ctx, s.bucket, sidecarKey, minio.GetObjectOptions{})
	if err != nil {
		return image.Cell{}, fmt.Errorf("fetching cell sidecar: %w", err)
	}
	defer sidecarObj.Close()
	sidecarBytes, err := io.ReadAll(sidecarObj)
	if err != nil {
		return image.Cell{}, fmt.Errorf("reading cell sidecar: %w", err)
	}
	var sidecar cellSidecar
	if err := json.Unmarshal(sidecarBytes, &sidecar); err != nil {
		return image.Cell{}, fmt.Errorf("unmarshaling cell sidecar: %w", err)
	}

	return image.Cell{Data: data, Width: sidecar.Width, Height: sidecar.Height, Metadata: sidecar.Metadata}, nil
}

const persistTimeout = 10 * time.Second

// PersistHook adapts SavePersistedCell into an image.AnalysisHook so a
// MinioStore can be registered on image.Manager alongside the analysis
// hooks, persisting every cell as it is produced (SPEC_FULL.md §9's key shape).
func (s *MinioStore) PersistHook() image.AnalysisHook {
	return func(img *image.NDImage, iCh, iZ, iT int, cell image.Cell) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if _, err := s.SavePersistedCell(ctx, img.Name, iCh, iZ, iT, cell); err != nil {
			log.Printf("[storage] persisting %s[%d,%d,%d]: %v", img.Name, iCh, iZ, iT, err)
		}
	}
}

func cellDataKey(ndimage string, iCh, iZ, iT int) string {
	return fmt.Sprintf("%s/%d_%d_%d.bin", ndimage, iCh, iZ, iT)
}

func cellSidecarKey(ndimage string, iCh, iZ, iT int) string {
	return fmt.Sprintf("%s/%d_%d_%d.json", ndimage, iCh, iZ, iT)
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func joinObjectKey(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimPrefix(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}
