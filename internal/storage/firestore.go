package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const documentsCollection = "documents"

// FirestoreStore keeps account documents at users/{uid}/documents/{key}.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an existing client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) userCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection(documentsCollection)
}

func (s *FirestoreStore) Load(ctx context.Context, ns Namespace, key Key) ([]byte, bool, error) {
	if ns.IsGuest() {
		return nil, false, ErrGuestNamespace
	}
	doc, err := s.userCollection(ns.UserID).Doc(string(key)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	body, err := bodyOf(doc)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (s *FirestoreStore) Save(ctx context.Context, ns Namespace, key Key, data []byte) error {
	if ns.IsGuest() {
		return ErrGuestNamespace
	}
	_, err := s.userCollection(ns.UserID).Doc(string(key)).Set(ctx, map[string]any{
		"body":       string(data),
		"updated_at": time.Now().UTC(),
	})
	return err
}

// LoadAll reads every document of the account in one query.
func (s *FirestoreStore) LoadAll(ctx context.Context, ns Namespace) (map[Key][]byte, error) {
	if ns.IsGuest() {
		return nil, ErrGuestNamespace
	}
	iter := s.userCollection(ns.UserID).Documents(ctx)
	defer iter.Stop()

	out := make(map[Key][]byte)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		body, err := bodyOf(doc)
		if err != nil {
			return nil, err
		}
		out[Key(doc.Ref.ID)] = body
	}
	return out, nil
}

func bodyOf(doc *firestore.DocumentSnapshot) ([]byte, error) {
	raw, ok := doc.Data()["body"].(string)
	if !ok {
		return nil, fmt.Errorf("document %s has no body", doc.Ref.Path)
	}
	return []byte(raw), nil
}
