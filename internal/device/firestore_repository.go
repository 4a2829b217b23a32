package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokensCollection is the Firestore collection holding token documents.
const TokensCollection = "user_tokens"

// Firestore document field names used in queries.
const (
	fieldToken     = "fcm_token"
	fieldCreatedAt = "created_at"
)

type tokenDocument struct {
	UserID    string    `firestore:"user_id"`
	Token     string    `firestore:"fcm_token"`
	Platform  string    `firestore:"platform"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreRepository stores tokens in Firestore, one document per token.
// Documents are keyed by the SHA-256 of the token so that concurrent
// registrations of the same token collapse onto a single document.
type FirestoreRepository struct {
	client *firestore.Client
	col    *firestore.CollectionRef
}

// NewFirestoreRepository creates a repository backed by the user_tokens collection.
func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{
		client: client,
		col:    client.Collection(TokensCollection),
	}
}

// DocumentID returns the document ID used for token.
func DocumentID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Upsert creates or updates a token record inside a transaction. Documents
// holding the same token under auto-generated IDs are folded into the keyed
// document: the earliest created_at is kept and the duplicates are deleted.
func (r *FirestoreRepository) Upsert(ctx context.Context, d *DeviceToken) (bool, error) {
	ref := r.col.Doc(DocumentID(d.Token))

	var (
		created   bool
		createdAt time.Time
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		createdAt = d.CreatedAt

		// All reads happen before the first write.
		matches, err := tx.Documents(r.col.Where(fieldToken, "==", d.Token)).GetAll()
		if err != nil {
			return err
		}
		keyed, err := tx.Get(ref)
		keyedExists := err == nil && keyed.Exists()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var legacy []*firestore.DocumentRef
		found := keyedExists
		if keyedExists {
			if t, ok := storedCreatedAt(keyed); ok {
				createdAt = t
			}
		}
		for _, doc := range matches {
			if doc.Ref.ID == ref.ID {
				continue
			}
			legacy = append(legacy, doc.Ref)
			if t, ok := storedCreatedAt(doc); ok && (!found || t.Before(createdAt)) {
				createdAt = t
			}
			found = true
		}
		created = !found

		for _, old := range legacy {
			if err := tx.Delete(old); err != nil {
				return err
			}
		}
		return tx.Set(ref, tokenDocument{
			UserID:    d.UserID,
			Token:     d.Token,
			Platform:  string(d.Platform),
			CreatedAt: createdAt,
			UpdatedAt: d.UpdatedAt,
		})
	})
	if err != nil {
		return false, err
	}
	d.CreatedAt = createdAt
	return created, nil
}

// Find returns the record for token, falling back to documents stored under
// auto-generated IDs.
func (r *FirestoreRepository) Find(ctx context.Context, token string) (*DeviceToken, error) {
	snap, err := r.col.Doc(DocumentID(token)).Get(ctx)
	switch {
	case err == nil:
		return decodeTokenDocument(snap)
	case status.Code(err) != codes.NotFound:
		return nil, err
	}

	docs, err := r.col.Where(fieldToken, "==", token).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrTokenNotFound
	}
	return decodeTokenDocument(docs[0])
}

func decodeTokenDocument(snap *firestore.DocumentSnapshot) (*DeviceToken, error) {
	var doc tokenDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &DeviceToken{
		Token:     doc.Token,
		UserID:    doc.UserID,
		Platform:  Platform(doc.Platform),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// storedCreatedAt reads created_at, which older documents may lack or hold
// in another type.
func storedCreatedAt(snap *firestore.DocumentSnapshot) (time.Time, bool) {
	v, err := snap.DataAt(fieldCreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok && !t.IsZero()
}

// ListTokens returns every non-empty fcm_token in the collection.
func (r *FirestoreRepository) ListTokens(ctx context.Context) ([]string, error) {
	docs, err := r.col.Select(fieldToken).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(docs))
	for _, doc := range docs {
		v, err := doc.DataAt(fieldToken)
		if err != nil {
			continue
		}
		if token, ok := v.(string); ok && token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// DeleteByToken removes every document holding token, including documents
// written under auto-generated IDs.
func (r *FirestoreRepository) DeleteByToken(ctx context.Context, token string) (int, error) {
	keyed := r.col.Doc(DocumentID(token))

	var removed int
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		removed = 0

		docs, err := tx.Documents(r.col.Where(fieldToken, "==", token)).GetAll()
		if err != nil {
			return err
		}

		refs := make(map[string]*firestore.DocumentRef, len(docs)+1)
		for _, doc := range docs {
			refs[doc.Ref.ID] = doc.Ref
		}
		if _, ok := refs[keyed.ID]; !ok {
			snap, err := tx.Get(keyed)
			switch {
			case status.Code(err) == codes.NotFound:
			case err != nil:
				return err
			case snap.Exists():
				refs[keyed.ID] = keyed
			}
		}

		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		removed = len(refs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

var _ Repository = (*FirestoreRepository)(nil)
