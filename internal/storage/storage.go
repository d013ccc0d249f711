// Package storage is the local persistence port used by the cart: a small
// key-value contract with memory, filesystem and redis backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Storage is owned by a single consumer per key; nothing else writes to a key it did not create.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var ErrNotFound = errors.New("storage key not found")

type Options struct {
	Kind        string
	Path        string
	RedisClient *redis.Client
	TTL         time.Duration
}

// New picks a backend by kind, defaulting to memory.
func New(opts Options) (Storage, error) {
	fields := logrus.Fields{"storage": opts.Kind}
	var st Storage

	switch opts.Kind {
	case "filesystem":
		fs, err := NewFileStorage(opts.Path)
		if err != nil {
			return nil, err
		}
		fields["path"] = opts.Path
		st = fs
	case "redis":
		if opts.RedisClient == nil {
			return nil, fmt.Errorf("redis storage requires a client")
		}
		st = NewRedisStorage(opts.RedisClient, opts.TTL)
	default:
		fields["storage"] = "in-memory"
		st = NewMemoryStorage()
	}
	logrus.WithFields(fields).Info("Use cart storage")
	return st, nil
}
