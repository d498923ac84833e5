package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/userbase/userbase/internal/model"
)

const (
	userKeyPrefix    = "user:"
	versionKeySuffix = ":v"
)

var errIncompleteEntry = errors.New("incomplete cache entry")

// GetUser returns the cached public view for id.
// The boolean is false on a cache miss.
func (c *Cache) GetUser(ctx context.Context, id int64) (model.PublicUser, bool, error) {
	result, err := c.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return model.PublicUser{}, false, fmt.Errorf("redis hgetall failed: %w", err)
	}

	if len(result) == 0 {
		return model.PublicUser{}, false, nil
	}

	user, err := userFromHash(result)
	if err != nil {
		return model.PublicUser{}, false, err
	}
	return user, true, nil
}

// UserVersion returns the invalidation counter for id. Read it before loading
// the user from the store and pass it to SetUser.
func (c *Cache) UserVersion(ctx context.Context, id int64) (int64, error) {
	version, err := c.client.Get(ctx, versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return version, nil
}

// SetUser stores the public view of a user if no invalidation happened since
// version was read. Only public fields are written. The boolean reports
// whether the entry was stored.
func (c *Cache) SetUser(ctx context.Context, user model.PublicUser, version int64) (bool, error) {
	key := userKey(user.ID)
	vkey := versionKey(user.ID)

	stored := false
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, userToHash(user))
			pipe.Expire(ctx, key, c.userTTL)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, vkey)

	if errors.Is(err, redis.TxFailedErr) {
		// The version moved while the write was queued.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to cache user: %w", err)
	}
	return stored, nil
}

// DeleteUser removes a cached view and bumps its version so that reads
// already in flight cannot store what they loaded.
func (c *Cache) DeleteUser(ctx context.Context, id int64) error {
	vkey := versionKey(id)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, userKey(id))
	pipe.Incr(ctx, vkey)
	pipe.Expire(ctx, vkey, c.userTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete user from cache: %w", err)
	}
	return nil
}

func userKey(id int64) string {
	return userKeyPrefix + strconv.FormatInt(id, 10)
}

func versionKey(id int64) string {
	return userKey(id) + versionKeySuffix
}

func userToHash(user model.PublicUser) map[string]any {
	return map[string]any{
		"id":    strconv.FormatInt(user.ID, 10),
		"name":  user.Name,
		"email": user.Email,
	}
}

func userFromHash(fields map[string]string) (model.PublicUser, error) {
	rawID, ok := fields["id"]
	if !ok {
		return model.PublicUser{}, errIncompleteEntry
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("parse cached id: %w", err)
	}

	name, okName := fields["name"]
	email, okEmail := fields["email"]
	if !okName || !okEmail {
		return model.PublicUser{}, errIncompleteEntry
	}

	return model.PublicUser{ID: id, Name: name, Email: email}, nil
}
