// Package secrets provides the sealed key/value store backing credential,
// token, requisition and watermark persistence.
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrNotFound indicates the key holds no value.
var ErrNotFound = errors.New("secrets: not found")

// Store is the opaque string key/value capability. Implementations make no
// transactional or concurrency guarantees; callers serialize overlapping
// writes to the same key themselves.
type Store interface {
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// RedisStore persists sealed values in Redis. Values are encrypted with
// nacl/secretbox before they leave the process.
type RedisStore struct {
	client *redis.Client
	sealKey [32]byte
}

// NewRedisStore constructs a store sealing values with a key derived from secret.
func NewRedisStore(client *redis.Client, secret string) *RedisStore {
	return &RedisStore{
		client:  client,
		sealKey: sha256.Sum256([]byte(secret)),
	}
}

// Get returns the unsealed value for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key Key) (string, error) {
	raw, err := s.client.Get(ctx, string(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", key, err)
	}
	value, err := s.open(raw)
	if err != nil {
		return "", fmt.Errorf("secrets: unseal %s: %w", key, err)
	}
	return value, nil
}

// Set seals and stores value under key.
func (s *RedisStore) Set(ctx context.Context, key Key, value string) error {
	sealed, err := s.seal(value)
	if err != nil {
		return fmt.Errorf("secrets: seal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, string(key), sealed, 0).Err(); err != nil {
		return fmt.Errorf("secrets: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, string(key)).Err(); err != nil {
		return fmt.Errorf("secrets: delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) seal(value string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.sealKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *RedisStore) open(raw string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", err
	}
	if len(sealed) < 24 {
		return "", errors.New("sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	value, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.sealKey)
	if !ok {
		return "", errors.New("seal key mismatch")
	}
	return string(value), nil
}
