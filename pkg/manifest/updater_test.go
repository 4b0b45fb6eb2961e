package manifest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// jitterStore delays every call by a random amount so concurrent writers
// interleave differently on each run.
type jitterStore struct {
	BlobStore
	max time.Duration
}

func (s *jitterStore) sleep() {
	time.Sleep(time.Duration(rand.Int64N(int64(s.max))))
}

func (s *jitterStore) Read(ctx context.Context) (*Blob, error) {
	s.sleep()
	b, err := s.BlobStore.Read(ctx)
	s.sleep()
	return b, err
}

func (s *jitterStore) Write(ctx context.Context, data []byte, gen string) (string, error) {
	s.sleep()
	return s.BlobStore.Write(ctx, data, gen)
}

// conflictStore rejects every write.
type conflictStore struct {
	*MemoryStore
	writes atomic.Int32
}

func (s *conflictStore) Write(context.Context, []byte, string) (string, error) {
	s.writes.Add(1)
	return "", ErrPreconditionFailed
}

// failingStore fails every read with a plain error.
type failingStore struct{ *MemoryStore }

func (s *failingStore) Read(context.Context) (*Blob, error) {
	return nil, errors.New("connection reset")
}

func newTestUpdater(store BlobStore, attempts int) *Updater {
	return NewUpdater(store, UpdaterOptions{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
}

func TestUpdaterCreatesMissingManifest(t *testing.T) {
	store := NewMemoryStore("clients")
	u := newTestUpdater(store, 3)

	rec := &engine.ClientRecord{ID: "c1", Slug: "acme", BusinessID: "1234567890", ProjectID: "acme-123456"}
	if err := u.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	blob, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	m, err := Decode(blob.Data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m))
	}
	want := Entry{Slug: "acme", BusinessID: "1234567890", ProjectID: "acme-123456"}
	if !m[0].Equal(want) {
		t.Errorf("unexpected entry: %+v", m[0])
	}
	if !strings.Contains(string(blob.Data), `"google_ads_customer_id": null`) {
		t.Errorf("missing ads id must be written as null:\n%s", blob.Data)
	}
}

func TestUpdaterPreservesOtherEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("clients")
	seed, err := Encode(Manifest{
		{Slug: "first", BusinessID: "1"},
		{Slug: "acme", BusinessID: "2", ProjectID: "acme-old1"},
		{Slug: "last", BusinessID: "3"},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := store.Write(ctx, seed, ""); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	u := newTestUpdater(store, 3)
	if err := u.Upsert(ctx, Entry{Slug: "acme", BusinessID: "2", ProjectID: "acme-new1"}); err != nil {
		t.Fatalf("Upsert acme failed: %v", err)
	}
	if err := u.Upsert(ctx, Entry{Slug: "new", BusinessID: "4"}); err != nil {
		t.Fatalf("Upsert new failed: %v", err)
	}

	m, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := slugs(m); !reflect.DeepEqual(got, []string{"first", "acme", "last", "new"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if m[1].ProjectID != "acme-new1" {
		t.Errorf("acme not overwritten: %+v", m[1])
	}
}

func TestUpdaterSkipsWriteWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("clients")
	u := newTestUpdater(store, 3)

	e := Entry{Slug: "acme", BusinessID: "1"}
	if err := u.Upsert(ctx, e); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	before, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if err := u.Upsert(ctx, e); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	after, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if before.Generation != after.Generation {
		t.Errorf("unchanged upsert rewrote the manifest: %s -> %s", before.Generation, after.Generation)
	}
}

func TestUpdaterNeverOverwritesCorruptManifest(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{"", "not json", `{"slug":"x"}`} {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			store := NewMemoryStore("clients")
			if _, err := store.Write(ctx, []byte(raw), ""); err != nil {
				t.Fatalf("seed write failed: %v", err)
			}
			before, err := store.Read(ctx)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			u := newTestUpdater(store, 3)
			err = u.Upsert(ctx, Entry{Slug: "acme", BusinessID: "1"})
			if !engine.IsManifestCorrupt(err) {
				t.Fatalf("expected ManifestCorruptError, got %v", err)
			}

			after, err := store.Read(ctx)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if after.Generation != before.Generation || string(after.Data) != raw {
				t.Fatalf("corrupt manifest was rewritten: %q", after.Data)
			}
		})
	}
}

func TestUpdaterConflictIsBounded(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore("clients")}
	conflicts := 0
	u := NewUpdater(store, UpdaterOptions{
		MaxAttempts:     4,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		OnConflict:      func() { conflicts++ },
		Logger:          zerolog.Nop(),
	})

	err := u.Upsert(context.Background(), Entry{Slug: "acme", BusinessID: "1"})
	if !engine.IsManifestConflict(err) {
		t.Fatalf("expected ManifestConflict, got %v", err)
	}
	if engine.IsPermanent(err) {
		t.Error("manifest conflict must not be permanent")
	}
	if n := store.writes.Load(); n != 4 {
		t.Errorf("expected 4 write attempts, got %d", n)
	}
	if conflicts != 4 {
		t.Errorf("expected 4 conflict callbacks, got %d", conflicts)
	}
}

func TestUpdaterStorageErrorsAreTransient(t *testing.T) {
	u := newTestUpdater(&failingStore{NewMemoryStore("clients")}, 3)
	err := u.Upsert(context.Background(), Entry{Slug: "acme", BusinessID: "1"})
	if !engine.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestUpdaterConcurrentDistinctSlugs(t *testing.T) {
	const writers = 12

	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			ctx := context.Background()
			mem := NewMemoryStore("clients")
			store := &jitterStore{BlobStore: mem, max: 2 * time.Millisecond}

			// every rejected write means another writer succeeded, so one
			// attempt per writer always suffices
			u := newTestUpdater(store, writers)

			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- u.Upsert(ctx, Entry{Slug: fmt.Sprintf("client-%02d", i), BusinessID: fmt.Sprint(i)})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Upsert failed: %v", err)
				}
			}

			m, err := u.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(m) != writers {
				t.Fatalf("lost updates: expected %d entries, got %d", writers, len(m))
			}

			seen := map[string]bool{}
			for _, e := range m {
				if seen[e.Slug] {
					t.Errorf("duplicate slug %s", e.Slug)
				}
				seen[e.Slug] = true
			}
		})
	}
}

func TestUpdaterConcurrentSameSlug(t *testing.T) {
	const writers = 8
	ctx := context.Background()
	store := &jitterStore{BlobStore: NewMemoryStore("clients"), max: time.Millisecond}
	u := newTestUpdater(store, writers)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- u.Upsert(ctx, Entry{Slug: "acme", BusinessID: "1234567890", ProjectID: "acme-123456"})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Upsert failed: %v", err)
		}
	}

	m, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m) != 1 || m[0].Slug != "acme" {
		t.Fatalf("expected a single acme entry, got %+v", m)
	}
}
