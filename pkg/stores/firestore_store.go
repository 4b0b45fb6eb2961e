package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumaops/provisioner/pkg/engine"
)

// DefaultStateCollection is the Firestore collection holding provisioning state.
const DefaultStateCollection = "provisioning_state"

// FirestoreStore implements engine.StateTracker on a Firestore collection.
// Each client is one document; claims and step writes run in Firestore
// transactions so concurrent instances of the service share one view.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreStore creates a store backed by the given collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultStateCollection
	}
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

type firestoreLastError struct {
	Step    string    `firestore:"step"`
	Class   string    `firestore:"class"`
	Message string    `firestore:"message"`
	At      time.Time `firestore:"at"`
}

type firestoreState struct {
	Status         string               `firestore:"status"`
	Steps          map[string]time.Time `firestore:"steps"`
	LastError      *firestoreLastError  `firestore:"last_error"`
	ClaimID        string               `firestore:"claim_id"`
	ClaimExpiresAt time.Time            `firestore:"claim_expires_at"`
	Attempts       int                  `firestore:"attempts"`
	Version        int64                `firestore:"version"`
	CreatedAt      time.Time            `firestore:"created_at"`
	UpdatedAt      time.Time            `firestore:"updated_at"`
}

func toFirestore(st *engine.ProvisioningState) *firestoreState {
	doc := &firestoreState{
		Status:    string(st.Status),
		Steps:     make(map[string]time.Time, len(st.Steps)),
		ClaimID:   st.ClaimID,
		Attempts:  st.Attempts,
		Version:   st.Version,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
	for step, flag := range st.Steps {
		if !flag.Done {
			continue
		}
		at := st.UpdatedAt
		if flag.At != nil {
			at = *flag.At
		}
		doc.Steps[string(step)] = at
	}
	if st.ClaimExpiresAt != nil {
		doc.ClaimExpiresAt = *st.ClaimExpiresAt
	}
	if le := st.LastError; le != nil {
		doc.LastError = &firestoreLastError{
			Step: string(le.Step), Class: string(le.Class), Message: le.Message, At: le.At,
		}
	}
	return doc
}

func fromFirestore(clientID string, doc *firestoreState) *engine.ProvisioningState {
	st := &engine.ProvisioningState{
		ClientID:  clientID,
		Steps:     make(map[engine.Step]engine.StepFlag, len(doc.Steps)),
		Status:    engine.Status(doc.Status),
		ClaimID:   doc.ClaimID,
		Attempts:  doc.Attempts,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for name, at := range doc.Steps {
		at := at
		st.Steps[engine.Step(name)] = engine.StepFlag{Done: true, At: &at}
	}
	if !doc.ClaimExpiresAt.IsZero() {
		exp := doc.ClaimExpiresAt
		st.ClaimExpiresAt = &exp
	}
	if le := doc.LastError; le != nil {
		st.LastError = &engine.LastError{
			Step: engine.Step(le.Step), Class: engine.ErrorClass(le.Class), Message: le.Message, At: le.At,
		}
	}
	return st
}

func (s *FirestoreStore) doc(clientID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(clientID)
}

// Get returns the state of a client.
func (s *FirestoreStore) Get(ctx context.Context, clientID string) (*engine.ProvisioningState, error) {
	snap, err := s.doc(clientID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, engine.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning state %s: %w", clientID, err)
	}
	return decodeSnapshot(clientID, snap)
}

// Claim acquires the client claim inside a transaction.
func (s *FirestoreStore) Claim(ctx context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	var out *engine.ProvisioningState
	ref := s.doc(clientID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		now := s.now()
		st, err := s.txGet(tx, ref, clientID)
		switch {
		case errors.Is(err, engine.ErrStateNotFound):
			st = engine.NewProvisioningState(clientID, now)
		case err != nil:
			return err
		}
		if st.Status == engine.StatusCompleted {
			out = st
			return nil
		}
		if err := applyClaim(st, clientID, claimID, ttl, now); err != nil {
			return err
		}
		out = st
		return tx.Set(ref, toFirestore(st))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteStep records a step outcome for the claim holder.
func (s *FirestoreStore) WriteStep(ctx context.Context, clientID, claimID string, step engine.Step, outcome engine.StepOutcome, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyWriteStep(st, claimID, step, outcome, ttl, now)
	})
}

// Renew extends the lease of the claim holder.
func (s *FirestoreStore) Renew(ctx context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyRenew(st, claimID, ttl, now)
	})
}

// Finalize marks the client completed.
func (s *FirestoreStore) Finalize(ctx context.Context, clientID, claimID string) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyFinalize(st, claimID, now)
	})
}

// Reset clears flags from the given step onward.
func (s *FirestoreStore) Reset(ctx context.Context, clientID string, from engine.Step) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyReset(st, from, now)
	})
}

// List returns client states, optionally filtered by status.
func (s *FirestoreStore) List(ctx context.Context, st engine.Status) ([]*engine.ProvisioningState, error) {
	q := s.client.Collection(s.collection).Query
	if st != "" {
		q = q.Where("status", "==", string(st))
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var states []*engine.ProvisioningState
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list provisioning state: %w", err)
		}
		state, err := decodeSnapshot(snap.Ref.ID, snap)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *FirestoreStore) mutate(ctx context.Context, clientID string, fn func(*engine.ProvisioningState, time.Time) error) (*engine.ProvisioningState, error) {
	var out *engine.ProvisioningState
	ref := s.doc(clientID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		st, err := s.txGet(tx, ref, clientID)
		if err != nil {
			return err
		}
		if err := fn(st, s.now()); err != nil {
			return err
		}
		out = st
		return tx.Set(ref, toFirestore(st))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreStore) txGet(tx *firestore.Transaction, ref *firestore.DocumentRef, clientID string) (*engine.ProvisioningState, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, engine.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning state %s: %w", clientID, err)
	}
	return decodeSnapshot(clientID, snap)
}

func decodeSnapshot(clientID string, snap *firestore.DocumentSnapshot) (*engine.ProvisioningState, error) {
	var doc firestoreState
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode provisioning state %s: %w", clientID, err)
	}
	return fromFirestore(clientID, &doc), nil
}

var _ engine.StateTracker = (*FirestoreStore)(nil)
