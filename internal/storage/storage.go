// Package storage reads source images from and writes results to Azure Blob Storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/example/face-blur/internal/faces"
)

// ErrNotFound is returned when the requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the object store used by the pipeline.
type Store interface {
	Fetch(ctx context.Context, ref faces.BlobRef) ([]byte, error)
	Put(ctx context.Context, ref faces.BlobRef, data []byte, contentType string) error
}

// blobAPI is the subset of *azblob.Client the store calls.
type blobAPI interface {
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobStore implements Store on top of an azblob client. Uploads overwrite
// any existing blob, so a redelivered notification just rewrites the result.
type BlobStore struct {
	client     blobAPI
	accountURL string
	logger     *zap.Logger
}

// NewClient builds an azblob client from a connection string when given,
// otherwise from the account URL and credential.
func NewClient(accountURL, connectionString string, cred azcore.TokenCredential) (*azblob.Client, error) {
	if connectionString != "" {
		return azblob.NewClientFromConnectionString(connectionString, nil)
	}
	if accountURL == "" {
		return nil, errors.New("storage: account url is required")
	}
	if cred == nil {
		return nil, errors.New("storage: credential is required with an account url")
	}
	return azblob.NewClient(accountURL, cred, nil)
}

// NewBlobStore wraps client. accountURL is used to build URLs handed to the
// vision service and may be empty.
func NewBlobStore(client *azblob.Client, accountURL string, logger *zap.Logger) *BlobStore {
	return newBlobStore(client, accountURL, logger)
}

func newBlobStore(client blobAPI, accountURL string, logger *zap.Logger) *BlobStore {
	return &BlobStore{
		client:     client,
		accountURL: strings.TrimRight(accountURL, "/"),
		logger:     logger.Named("blob_store"),
	}
}

// Fetch downloads the whole blob into memory.
func (s *BlobStore) Fetch(ctx context.Context, ref faces.BlobRef) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, ref.Container, ref.Key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if resp.ContentLength != nil && *resp.ContentLength > 0 {
		buf.Grow(int(*resp.ContentLength))
	}
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	s.logger.Debug("blob downloaded",
		zap.String("container", ref.Container),
		zap.String("key", ref.Key),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

// Put uploads data, replacing whatever is stored under ref.
func (s *BlobStore) Put(ctx context.Context, ref faces.BlobRef, data []byte, contentType string) error {
	_, err := s.client.UploadBuffer(ctx, ref.Container, ref.Key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", ref, err)
	}
	s.logger.Debug("blob uploaded",
		zap.String("container", ref.Container),
		zap.String("key", ref.Key),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// URL returns the public URL of ref, or "" when no account URL is configured.
func (s *BlobStore) URL(ref faces.BlobRef) string {
	if s.accountURL == "" {
		return ""
	}
	return s.accountURL + "/" + url.PathEscape(ref.Container) + "/" + escapeKey(ref.Key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
