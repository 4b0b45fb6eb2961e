package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumaops/provisioner/pkg/providers/gcp"
)

// GCSStore keeps the manifest in a Cloud Storage object and uses object
// generations as the conditional write marker.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore creates a store for gs://bucket/object.
func NewGCSStore(client *storage.Client, bucket, object string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, object: object}
}

func (s *GCSStore) handle() *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.object)
}

// Read downloads the object together with its generation.
func (s *GCSStore) Read(ctx context.Context) (*Blob, error) {
	r, err := s.handle().NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, gcp.Classify("storage.objects.get", s.Location(), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, gcp.Classify("storage.objects.get", s.Location(), err)
	}

	return &Blob{Data: data, Generation: strconv.FormatInt(r.Attrs.Generation, 10)}, nil
}

// Write uploads data with a generation precondition.
func (s *GCSStore) Write(ctx context.Context, data []byte, ifGeneration string) (string, error) {
	obj := s.handle()
	if ifGeneration == "" {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		gen, err := strconv.ParseInt(ifGeneration, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid generation %q: %w", ifGeneration, err)
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = ContentType
	w.CacheControl = "no-cache"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", s.writeError(err)
	}
	if err := w.Close(); err != nil {
		return "", s.writeError(err)
	}

	return strconv.FormatInt(w.Attrs().Generation, 10), nil
}

func (s *GCSStore) writeError(err error) error {
	if isPreconditionFailed(err) {
		return ErrPreconditionFailed
	}
	return gcp.Classify("storage.objects.insert", s.Location(), err)
}

// Location returns the gs:// URI of the object.
func (s *GCSStore) Location() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusPreconditionFailed
	}
	return status.Code(err) == codes.FailedPrecondition
}
