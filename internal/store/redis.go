package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattendance/internal/section"
)

const deviceSectionsKey = "qrattendance:device_sections"

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// SaveSection remembers the section a device selected.
func (r *Redis) SaveSection(ctx context.Context, deviceID string, s section.Section) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.Client.HSet(ctx, deviceSectionsKey, deviceID, raw).Err()
}

// LoadSection returns the remembered section for a device, if any.
func (r *Redis) LoadSection(ctx context.Context, deviceID string) (*section.Section, error) {
	raw, err := r.Client.HGet(ctx, deviceSectionsKey, deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s section.Section
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ClearSection forgets the device's section.
func (r *Redis) ClearSection(ctx context.Context, deviceID string) error {
	return r.Client.HDel(ctx, deviceSectionsKey, deviceID).Err()
}
