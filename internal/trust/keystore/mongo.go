// Package keystore provides an optional Mongo-backed registry of peer
// agent Ed25519 public keys, loaded into a trust.Verifier's in-process
// cache. It is a collaborator-facing convenience, not part of the core's
// contract: per spec.md §6, the engine itself is memory-resident.
package keystore

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/asgard/aegis/internal/trust"
)

// PeerKeyDoc is the Mongo document shape for one registered agent key.
type PeerKeyDoc struct {
	AgentID   string    `bson:"agent_id"`
	PublicKey []byte    `bson:"public_key"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store wraps a Mongo collection of peer public keys.
type Store struct {
	collection *mongo.Collection
}

// Connect dials uri and returns a Store backed by database.collection.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("keystore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("keystore: ping: %w", err)
	}
	return &Store{collection: client.Database(database).Collection(collection)}, nil
}

// Put upserts the public key for agentID.
func (s *Store) Put(ctx context.Context, agentID string, pub []byte) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"agent_id": agentID},
		bson.M{"$set": PeerKeyDoc{AgentID: agentID, PublicKey: pub, UpdatedAt: time.Now()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// LoadAll streams every registered peer key into verifier's cache.
func (s *Store) LoadAll(ctx context.Context, verifier *trust.Verifier) error {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("keystore: find: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc PeerKeyDoc
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("keystore: decode: %w", err)
		}
		verifier.RegisterAgentKey(doc.AgentID, ed25519.PublicKey(doc.PublicKey))
	}
	return cursor.Err()
}
