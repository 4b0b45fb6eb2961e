package trigger

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumaops/provisioner/pkg/engine"
)

// DefaultClientsCollection is the collection onboarding writes records to.
const DefaultClientsCollection = "clients"

// FirestoreRecords reads client records from a Firestore collection.
type FirestoreRecords struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRecords creates a record source over collection.
func NewFirestoreRecords(client *firestore.Client, collection string) *FirestoreRecords {
	if collection == "" {
		collection = DefaultClientsCollection
	}
	return &FirestoreRecords{client: client, collection: collection}
}

// GetClient implements engine.RecordSource.
func (r *FirestoreRecords) GetClient(ctx context.Context, clientID string) (*engine.ClientRecord, error) {
	snap, err := r.client.Collection(r.collection).Doc(clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", engine.ErrRecordNotFound, r.collection, clientID)
		}
		return nil, fmt.Errorf("failed to read client %s: %w", clientID, err)
	}
	return RecordFromFields(snap.Ref.ID, snap.Data()), nil
}

// MemoryRecords is a map-backed record source for tests and local runs.
type MemoryRecords map[string]*engine.ClientRecord

// GetClient implements engine.RecordSource.
func (m MemoryRecords) GetClient(_ context.Context, clientID string) (*engine.ClientRecord, error) {
	rec, ok := m[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrRecordNotFound, clientID)
	}
	cp := *rec
	return &cp, nil
}

var (
	_ engine.RecordSource = (*FirestoreRecords)(nil)
	_ engine.RecordSource = MemoryRecords(nil)
)
