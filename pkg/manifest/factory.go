package manifest

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Factory creates manifest stores from location URIs and owns the clients
// they share.
type Factory struct {
	log     zerolog.Logger
	s3      S3Options
	gcsOpts []option.ClientOption

	mu  sync.Mutex
	gcs *storage.Client
	mem map[string]*MemoryStore
}

// NewFactory creates a factory. gcsOpts are passed to the Cloud Storage client.
func NewFactory(logger zerolog.Logger, s3Opts S3Options, gcsOpts ...option.ClientOption) *Factory {
	return &Factory{
		log:     logger.With().Str("component", "manifest-factory").Logger(),
		s3:      s3Opts,
		gcsOpts: gcsOpts,
		mem:     make(map[string]*MemoryStore),
	}
}

// StoreFor creates a store from a location URI.
//
// Supported schemes:
//   - gs://bucket/path/clients.json - Cloud Storage, generation preconditions
//   - s3://bucket/path/clients.json?region=eu-west-1&endpoint=https://... - S3 or compatible, ETag preconditions
//   - file:///var/lib/provisioner/clients.json - local file
//   - mem://name - process memory, one store per name
func (f *Factory) StoreFor(ctx context.Context, location string) (BlobStore, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest location %q: %w", location, err)
	}

	key := strings.TrimPrefix(u.Path, "/")

	switch strings.ToLower(u.Scheme) {
	case "gs":
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("invalid manifest location %q, expected gs://bucket/object", location)
		}
		client, err := f.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		f.log.Debug().Str("bucket", u.Host).Str("object", key).Msg("using cloud storage manifest")
		return NewGCSStore(client, u.Host, key), nil

	case "s3":
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("invalid manifest location %q, expected s3://bucket/key", location)
		}
		opts := f.s3
		q := u.Query()
		if r := q.Get("region"); r != "" {
			opts.Region = r
		}
		if ep := q.Get("endpoint"); ep != "" {
			opts.Endpoint = ep
			opts.UsePathStyle = true
		}
		f.log.Debug().Str("bucket", u.Host).Str("key", key).Str("region", opts.Region).Msg("using s3 manifest")
		return NewS3Store(ctx, u.Host, key, opts)

	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/path
			path = filepath.Join(u.Host, u.Path)
		}
		if path == "" {
			return nil, fmt.Errorf("invalid manifest location %q, expected file:///path", location)
		}
		return NewFileStore(path), nil

	case "mem":
		name := u.Host + u.Path
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.mem[name]; ok {
			return s, nil
		}
		s := NewMemoryStore(name)
		f.mem[name] = s
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported manifest scheme: %s", u.Scheme)
	}
}

func (f *Factory) gcsClient(ctx context.Context) (*storage.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gcs != nil {
		return f.gcs, nil
	}
	client, err := storage.NewClient(ctx, f.gcsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	f.gcs = client
	return client, nil
}

// Close releases the clients created by the factory.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gcs != nil {
		err := f.gcs.Close()
		f.gcs = nil
		return err
	}
	return nil
}
