package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/example/face-blur/internal/faces"
)

type stubBlobAPI struct {
	body        string
	downloadErr error
	uploadErr   error

	uploads      int
	uploadedTo   string
	uploadedData []byte
	contentType  string
}

func (s *stubBlobAPI) DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error) {
	if s.downloadErr != nil {
		return azblob.DownloadStreamResponse{}, s.downloadErr
	}
	return azblob.DownloadStreamResponse{
		DownloadResponse: blob.DownloadResponse{Body: io.NopCloser(strings.NewReader(s.body))},
	}, nil
}

func (s *stubBlobAPI) UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	s.uploads++
	s.uploadedTo = containerName + "/" + blobName
	s.uploadedData = buffer
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		s.contentType = *o.HTTPHeaders.BlobContentType
	}
	return azblob.UploadBufferResponse{}, s.uploadErr
}

func TestFetchReadsBody(t *testing.T) {
	api := &stubBlobAPI{body: "image-bytes"}
	store := newBlobStore(api, "", zap.NewNop())

	data, err := store.Fetch(context.Background(), faces.BlobRef{Container: "face-blur-source", Key: "img.jpg"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestFetchMapsNotFound(t *testing.T) {
	api := &stubBlobAPI{downloadErr: &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: 404}}
	store := newBlobStore(api, "", zap.NewNop())

	_, err := store.Fetch(context.Background(), faces.BlobRef{Container: "c", Key: "missing.jpg"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchWrapsTransientErrors(t *testing.T) {
	cause := errors.New("connection reset")
	store := newBlobStore(&stubBlobAPI{downloadErr: cause}, "", zap.NewNop())

	_, err := store.Fetch(context.Background(), faces.BlobRef{Container: "c", Key: "k"})
	if !errors.Is(err, cause) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestPutSetsContentType(t *testing.T) {
	api := &stubBlobAPI{}
	store := newBlobStore(api, "", zap.NewNop())

	ref := faces.BlobRef{Container: "face-blur-destination", Key: "img.jpg"}
	if err := store.Put(context.Background(), ref, []byte("out"), faces.ContentTypeJPEG); err != nil {
		t.Fatalf("put: %v", err)
	}
	if api.uploads != 1 || api.uploadedTo != "face-blur-destination/img.jpg" {
		t.Fatalf("unexpected upload: %d to %s", api.uploads, api.uploadedTo)
	}
	if api.contentType != "image/jpeg" || string(api.uploadedData) != "out" {
		t.Fatalf("unexpected upload payload: %s %q", api.contentType, api.uploadedData)
	}
}

func TestPutReturnsError(t *testing.T) {
	cause := errors.New("forbidden")
	store := newBlobStore(&stubBlobAPI{uploadErr: cause}, "", zap.NewNop())
	if err := store.Put(context.Background(), faces.BlobRef{Container: "c", Key: "k"}, nil, faces.ContentTypeJPEG); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestURL(t *testing.T) {
	store := newBlobStore(&stubBlobAPI{}, "https://teststorage.blob.core.windows.net/", zap.NewNop())
	got := store.URL(faces.BlobRef{Container: "face-blur-source", Key: "2024/team photo.jpg"})
	want := "https://teststorage.blob.core.windows.net/face-blur-source/2024/team%20photo.jpg"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if newBlobStore(&stubBlobAPI{}, "", zap.NewNop()).URL(faces.BlobRef{Container: "c", Key: "k"}) != "" {
		t.Fatal("expected empty url without account url")
	}
}
