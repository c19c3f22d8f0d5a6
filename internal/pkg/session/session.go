// Package session tracks refresh-token sessions in Redis.
//
// Each session lives under auth:refresh:<hash> where hash is the SHA-256 of
// the refresh secret; the raw secret is never stored. A per-user set at
// auth:user:sessions:<userID> indexes the hashes so sessions can be listed,
// capped and revoked in bulk.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnhub/core/internal/pkg/metrics"
	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/tokenhash"
)

const (
	// KeyPrefix is reserved for session keys. Cache keys must not use it.
	KeyPrefix = "auth:"

	refreshKeyPrefix = KeyPrefix + "refresh:"
	userIndexPrefix  = KeyPrefix + "user:sessions:"

	DefaultTTL        = 30 * 24 * time.Hour
	DefaultMaxDevices = 3
)

var (
	// ErrSessionCompromised means a refresh secret was presented after it had
	// already been rotated or revoked.
	ErrSessionCompromised = errors.New("session compromised")
	// ErrSessionExpiredOrRevoked means a presented secret has no live session.
	ErrSessionExpiredOrRevoked = errors.New("session expired or revoked")
)

// Meta describes the client that opened a session.
type Meta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// Record is the stored session payload.
type Record struct {
	UserID     string `json:"userId"`
	IP         string `json:"ip"`
	UserAgent  string `json:"userAgent"`
	DeviceID   string `json:"deviceId"`
	CreatedAt  int64  `json:"createdAt"`
	LastUsedAt int64  `json:"lastUsedAt"`
}

// Session is a live record together with its opaque identifier (the token hash).
type Session struct {
	ID string `json:"id"`
	Record
}

// Options configures a Registry.
type Options struct {
	TTL        time.Duration
	MaxDevices int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Registry manages refresh sessions. It holds no in-process locks; every
// multi-key write is one MULTI/EXEC batch.
type Registry struct {
	store      *redis.Client
	ttl        time.Duration
	maxDevices int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store *redis.Client, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = DefaultMaxDevices
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store:      store,
		ttl:        opts.TTL,
		maxDevices: opts.MaxDevices,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// TTL returns the session lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// MaxDevices returns the per-user session cap.
func (r *Registry) MaxDevices() int { return r.maxDevices }

func refreshKey(hash string) string { return refreshKeyPrefix + hash }

func userIndexKey(userID string) string { return userIndexPrefix + userID }

// Save stores a new session for userID, evicting the oldest sessions so that
// at most MaxDevices remain once the new one is added.
func (r *Registry) Save(ctx context.Context, userID, secret string, meta Meta) (Record, error) {
	if userID == "" || secret == "" {
		return Record{}, errors.New("session: user id and secret are required")
	}
	rec := r.newRecord(userID, meta)
	if err := r.commit(ctx, tokenhash.Hash(secret), "", rec); err != nil {
		return Record{}, err
	}
	r.metrics.SessionOp("save")
	return rec, nil
}

func (r *Registry) newRecord(userID string, meta Meta) Record {
	nowMs := r.now().UnixMilli()
	return Record{
		UserID:     userID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		DeviceID:   meta.DeviceID,
		CreatedAt:  nowMs,
		LastUsedAt: nowMs,
	}
}

// commit writes rec under hash in one MULTI batch guarded by WATCH on the
// user index, so concurrent saves for one user cannot all pass the cap
// check. When replacing is set, that session must still exist and is
// removed in the same batch; ErrSessionCompromised is returned otherwise.
func (r *Registry) commit(ctx context.Context, hash, replacing string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	indexKey := userIndexKey(rec.UserID)
	watched := []string{indexKey}
	if replacing != "" {
		watched = append(watched, refreshKey(replacing))
	}

	var evicted []string
	err = r.store.Watch(ctx, func(tx *redis.Tx) error {
		if replacing != "" {
			_, found, err := tx.Get(ctx, refreshKey(replacing))
			if err != nil {
				return err
			}
			if !found {
				return ErrSessionCompromised
			}
		}
		live, stale, err := r.load(ctx, tx, rec.UserID)
		if err != nil {
			return err
		}

		others := live[:0:0]
		for _, s := range live {
			if s.ID != hash && s.ID != replacing {
				others = append(others, s)
			}
		}
		evicted = evicted[:0]
		for len(others) >= r.maxDevices {
			evicted = append(evicted, others[0].ID)
			others = others[1:]
		}

		removed := append(append([]string{}, evicted...), stale...)
		if replacing != "" {
			removed = append(removed, replacing)
		}
		return tx.Batch(ctx, func(pipe goredis.Pipeliner) error {
			if replacing != "" {
				pipe.Del(ctx, refreshKey(replacing))
			}
			for _, h := range evicted {
				pipe.Del(ctx, refreshKey(h))
			}
			if len(removed) > 0 {
				pipe.SRem(ctx, indexKey, toArgs(removed)...)
			}
			pipe.Set(ctx, refreshKey(hash), payload, r.ttl)
			pipe.SAdd(ctx, indexKey, hash)
			pipe.Expire(ctx, indexKey, r.ttl)
			return nil
		})
	}, watched...)
	if err != nil {
		return err
	}

	if len(evicted) > 0 {
		r.logger.Info("session evicted by device cap",
			zap.String("userId", rec.UserID),
			zap.Int("count", len(evicted)),
		)
	}
	r.metrics.SessionEvicted(len(evicted))
	return nil
}

// Invalidate deletes the session for secret. Unknown secrets are a no-op.
func (r *Registry) Invalidate(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}
	_, err := r.InvalidateByID(ctx, "", tokenhash.Hash(secret))
	return err
}

// InvalidateByID deletes the session identified by hash and reports whether
// one was removed. When userID is set the session must belong to that user,
// otherwise nothing happens.
func (r *Registry) InvalidateByID(ctx context.Context, userID, hash string) (bool, error) {
	rec, found, err := r.lookup(ctx, hash)
	if err != nil {
		return false, err
	}
	if !found {
		if userID != "" {
			// Drop a dangling index entry left by TTL expiry.
			return false, r.store.SRem(ctx, userIndexKey(userID), hash)
		}
		return false, nil
	}
	if userID != "" && rec.UserID != userID {
		return false, nil
	}
	err = r.store.Batch(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, refreshKey(hash))
		pipe.SRem(ctx, userIndexKey(rec.UserID), hash)
		return nil
	})
	if err != nil {
		return false, err
	}
	r.metrics.SessionOp("invalidate")
	return true, nil
}

// InvalidateAll deletes every session of userID together with the index.
func (r *Registry) InvalidateAll(ctx context.Context, userID string) error {
	indexKey := userIndexKey(userID)
	hashes, err := r.store.SMembers(ctx, indexKey)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}
	err = r.store.Batch(ctx, func(pipe goredis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, refreshKey(h))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return err
	}
	r.metrics.SessionOp("invalidate_all")
	return nil
}

// LogoutOthers deletes every session of userID whose device differs from
// keepDeviceID and returns how many were removed.
func (r *Registry) LogoutOthers(ctx context.Context, userID, keepDeviceID string) (int, error) {
	live, stale, err := r.load(ctx, r.store, userID)
	if err != nil {
		return 0, err
	}
	var drop []string
	for _, s := range live {
		if s.DeviceID != keepDeviceID {
			drop = append(drop, s.ID)
		}
	}
	if len(drop) == 0 && len(stale) == 0 {
		return 0, nil
	}
	indexKey := userIndexKey(userID)
	err = r.store.Batch(ctx, func(pipe goredis.Pipeliner) error {
		// DEL on a key that expired since load is harmless.
		for _, h := range drop {
			pipe.Del(ctx, refreshKey(h))
		}
		pipe.SRem(ctx, indexKey, toArgs(append(drop, stale...))...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.SessionOp("logout_others")
	return len(drop), nil
}

// List returns the live sessions of userID, oldest first. References whose
// record already expired are skipped.
func (r *Registry) List(ctx context.Context, userID string) ([]Session, error) {
	live, _, err := r.load(ctx, r.store, userID)
	if err != nil {
		return nil, err
	}
	return live, nil
}

// Owner returns the user owning the session identified by hash.
func (r *Registry) Owner(ctx context.Context, hash string) (string, bool, error) {
	rec, found, err := r.lookup(ctx, hash)
	if err != nil || !found {
		return "", false, err
	}
	return rec.UserID, true, nil
}

// Lookup returns the session record for a raw secret.
func (r *Registry) Lookup(ctx context.Context, secret string) (Record, bool, error) {
	if secret == "" {
		return Record{}, false, nil
	}
	return r.lookup(ctx, tokenhash.Hash(secret))
}

// Exists reports whether secret maps to a live session.
func (r *Registry) Exists(ctx context.Context, secret string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	return r.store.Exists(ctx, refreshKey(tokenhash.Hash(secret)))
}

// Rotate replaces oldSecret with newSecret for the same user. Removing the
// old session and writing the new one happen in one batch guarded by WATCH
// on the old record, so of two concurrent rotations only one succeeds and a
// failed write leaves the old session usable. A secret without a live record
// is treated as reuse and returns ErrSessionCompromised.
func (r *Registry) Rotate(ctx context.Context, oldSecret, newSecret string, meta Meta) (Record, error) {
	if oldSecret == "" || newSecret == "" {
		r.metrics.TokenRefresh("compromised")
		return Record{}, ErrSessionCompromised
	}
	oldHash := tokenhash.Hash(oldSecret)
	old, found, err := r.lookup(ctx, oldHash)
	if err != nil {
		return Record{}, err
	}
	if !found || old.UserID == "" {
		r.metrics.TokenRefresh("compromised")
		return Record{}, ErrSessionCompromised
	}
	if meta.DeviceID == "" {
		meta.DeviceID = old.DeviceID
	}
	rec := r.newRecord(old.UserID, meta)
	if err := r.commit(ctx, tokenhash.Hash(newSecret), oldHash, rec); err != nil {
		if errors.Is(err, ErrSessionCompromised) {
			r.metrics.TokenRefresh("compromised")
		}
		return Record{}, err
	}
	r.metrics.SessionOp("save")
	r.metrics.TokenRefresh("rotated")
	return rec, nil
}

// Touch bumps lastUsedAt without extending the session lifetime.
func (r *Registry) Touch(ctx context.Context, secret string) error {
	hash := tokenhash.Hash(secret)
	rec, found, err := r.lookup(ctx, hash)
	if err != nil {
		return err
	}
	if !found {
		return ErrSessionExpiredOrRevoked
	}
	rec.LastUsedAt = r.now().UnixMilli()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	ok, err := r.store.Replace(ctx, refreshKey(hash), payload)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionExpiredOrRevoked
	}
	return nil
}

func (r *Registry) lookup(ctx context.Context, hash string) (Record, bool, error) {
	raw, found, err := r.store.Get(ctx, refreshKey(hash))
	if err != nil || !found {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.logger.Warn("discarding unreadable session record", zap.String("id", hash), zap.Error(err))
		return Record{}, false, nil
	}
	return rec, true, nil
}

// reader is satisfied by the plain client and by a WATCH transaction.
type reader interface {
	SMembers(ctx context.Context, key string) ([]string, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
}

// load fetches every indexed record in one MGET. It returns live sessions
// sorted by createdAt (ties by id) and the index members whose record is gone.
func (r *Registry) load(ctx context.Context, src reader, userID string) ([]Session, []string, error) {
	hashes, err := src.SMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, nil, err
	}
	if len(hashes) == 0 {
		return []Session{}, nil, nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = refreshKey(h)
	}
	values, err := src.MGet(ctx, keys...)
	if err != nil {
		return nil, nil, err
	}

	live := make([]Session, 0, len(hashes))
	var stale []string
	for i, h := range hashes {
		raw, ok := values[keys[i]]
		if !ok {
			stale = append(stale, h)
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			stale = append(stale, h)
			continue
		}
		live = append(live, Session{ID: h, Record: rec})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt != live[j].CreatedAt {
			return live[i].CreatedAt < live[j].CreatedAt
		}
		return live[i].ID < live[j].ID
	})
	return live, stale, nil
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
