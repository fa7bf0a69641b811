// Package identity persists the local player's id per match code so a restarted client
// can reconnect as the same player.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrSessionConflict is returned when a different player id is already stored for a match
	ErrSessionConflict = errors.New("a different player id is already stored for this match")
	// ErrEmptyKey is returned for blank match codes or player ids
	ErrEmptyKey = errors.New("match code and player id are required")
)

// Store is a persistent key-value store of match code -> player id
type Store interface {
	Get(ctx context.Context, matchCode string) (string, bool, error)
	Set(ctx context.Context, matchCode, playerID string) error
	Delete(ctx context.Context, matchCode string) error
}

var sessionsBucket = []byte("sessions")

var _ Store = (*BoltStore)(nil)

// BoltStore keeps sessions in a bbolt file
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the session database at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session store: %w", err)
	}
	log.Debug().Str("path", path).Msg("session store opened")
	return &BoltStore{db: db}, nil
}

// Get returns the stored player id for matchCode
func (s *BoltStore) Get(ctx context.Context, matchCode string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var playerID string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionsBucket).Get([]byte(matchCode)); v != nil {
			playerID = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("read session %s: %w", matchCode, err)
	}
	return playerID, playerID != "", nil
}

// Set stores playerID for matchCode, replacing any previous value
func (s *BoltStore) Set(ctx context.Context, matchCode, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(matchCode), []byte(playerID))
	})
	if err != nil {
		return fmt.Errorf("write session %s: %w", matchCode, err)
	}
	return nil
}

// Delete removes the session for matchCode
func (s *BoltStore) Delete(ctx context.Context, matchCode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(matchCode))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", matchCode, err)
	}
	return nil
}

// Close releases the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
