package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"userAgent"`
	Location    string    `json:"location,omitempty"`
	RefreshHash string    `json:"-"`
	LoginTime   time.Time `json:"loginTime"`
	ExpiresAt   time.Time `json:"expiresAt"`
	TTLSeconds  int64     `json:"ttlSeconds"`
}

// SessionStore keeps session rows in Redis hashes plus a refresh index
// (refresh:<hash> -> session id) used for token rotation.
type SessionStore struct {
	Redis *redis.Client
}

func sessionKey(id string) string {
	return "session:" + id
}

func refreshKey(hash string) string {
	return "refresh:" + hash
}

func (s *SessionStore) Create(ctx context.Context, sess Session) error {
	data := map[string]interface{}{
		"userId":      sess.UserID,
		"role":        sess.Role,
		"ipAddress":   sess.IP,
		"userAgent":   sess.UserAgent,
		"location":    sess.Location,
		"refreshHash": sess.RefreshHash,
		"loginTime":   sess.LoginTime.Unix(),
		"expires":     sess.ExpiresAt.Unix(),
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), data)
	pipe.Expire(ctx, sessionKey(sess.ID), ttl)
	if sess.RefreshHash != "" {
		pipe.Set(ctx, refreshKey(sess.RefreshHash), sess.ID, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := s.Redis.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	expUnix, _ := strconv.ParseInt(vals["expires"], 10, 64)
	loginUnix, _ := strconv.ParseInt(vals["loginTime"], 10, 64)
	ttl, _ := s.Redis.TTL(ctx, sessionKey(id)).Result()

	sess := &Session{
		ID:          id,
		UserID:      vals["userId"],
		Role:        vals["role"],
		IP:          vals["ipAddress"],
		UserAgent:   vals["userAgent"],
		Location:    vals["location"],
		RefreshHash: vals["refreshHash"],
		LoginTime:   time.Unix(loginUnix, 0),
		ExpiresAt:   time.Unix(expUnix, 0),
		TTLSeconds:  int64(ttl.Seconds()),
	}

	if sess.ExpiresAt.Before(time.Now()) {
		_ = s.Delete(ctx, id)
		return nil, nil
	}

	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sessKey := sessionKey(id)
	hash, _ := s.Redis.HGet(ctx, sessKey, "refreshHash").Result()

	pipe := s.Redis.TxPipeline()
	pipe.Del(ctx, sessKey)
	if hash != "" {
		pipe.Del(ctx, refreshKey(hash))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.Delete(ctx, sess.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	iter := s.Redis.Scan(ctx, 0, "session:*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), "session:")
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil && sess.UserID == userID {
			sessions = append(sessions, *sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ConsumeRefresh atomically claims a refresh token. The index entry is
// removed with GETDEL, so a second presentation of the same token finds
// nothing. Returns nil when the token is unknown, expired, or stale.
func (s *SessionStore) ConsumeRefresh(ctx context.Context, rawToken string) (*Session, error) {
	hash := HashString(rawToken)

	id, err := s.Redis.GetDel(ctx, refreshKey(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	// The session hash is the source of truth; a mismatched index entry
	// means the token was already rotated.
	if !SecureCompare(sess.RefreshHash, hash) {
		return nil, nil
	}

	return sess, nil
}

// RotateRefresh binds a fresh refresh hash to an existing session.
func (s *SessionStore) RotateRefresh(ctx context.Context, sess *Session, newHash string) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), "refreshHash", newHash)
	pipe.Set(ctx, refreshKey(newHash), sess.ID, ttl)
	_, err := pipe.Exec(ctx)
	if err == nil {
		sess.RefreshHash = newHash
	}
	return err
}

func NewSessionID() string {
	return uuid.NewString()
}
