package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	Redis *redis.Client
}

const (
	loginMaxAttempts         = 5
	loginWindow              = 15 * time.Minute
	twoFAMaxAttempts         = 5
	twoFAAttemptTTL          = 10 * time.Minute
	emailCooldown            = 60 * time.Second
	EmailCooldown            = emailCooldown
	verifyMaxAttempts        = 5
	verifyAttemptTTL         = 10 * time.Minute
	resetMaxAttempts         = 5
	resetAttemptTTL          = 15 * time.Minute
	registerMaxAttemptsIP    = 10
	registerAttemptTTLIP     = 30 * time.Minute
	registerMaxAttemptsEmail = 3
	registerAttemptTTLEmail  = 30 * time.Minute
)

func (r *RateLimiter) loginIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "login_attempts_ip:" + ip
}

func (r *RateLimiter) loginUserKey(email string) string {
	if email == "" {
		return ""
	}
	return "login_attempts_user:" + strings.ToLower(email)
}

func (r *RateLimiter) twoFAKey(userID string) string {
	return "2fa_attempts:" + userID
}

func (r *RateLimiter) verifyAttemptKey(email string) string {
	return "verify_attempts:" + strings.ToLower(email)
}

func (r *RateLimiter) resetAttemptEmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "reset_attempts:" + strings.ToLower(email)
}

func (r *RateLimiter) resetAttemptIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "reset_attempts_ip:" + ip
}

func (r *RateLimiter) registerAttemptIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "register_attempts_ip:" + ip
}

func (r *RateLimiter) registerAttemptEmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "register_attempts_email:" + strings.ToLower(email)
}

// IsLoginLocked reports whether either the source IP or the target account
// has exhausted its failed-attempt window. The two counters are independent:
// rotating IPs cannot brute-force one account, and a shared IP cannot lock
// out accounts beyond its own attempt budget.
func (r *RateLimiter) IsLoginLocked(ctx context.Context, ip, email string) bool {
	for _, key := range []string{r.loginIPKey(ip), r.loginUserKey(email)} {
		if key == "" {
			continue
		}
		val, err := r.Redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		if attempts, _ := strconv.ParseInt(val, 10, 64); attempts >= loginMaxAttempts {
			return true
		}
	}
	return false
}

func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, ip, email string) error {
	for _, key := range []string{r.loginIPKey(ip), r.loginUserKey(email)} {
		if key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, key, loginWindow)
		}
	}
	return nil
}

func (r *RateLimiter) ResetLogin(ctx context.Context, ip, email string) {
	for _, key := range []string{r.loginIPKey(ip), r.loginUserKey(email)} {
		if key != "" {
			r.Redis.Del(ctx, key)
		}
	}
}

func (r *RateLimiter) Register2FAFailure(ctx context.Context, userID string) (bool, error) {
	key := r.twoFAKey(userID)
	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, twoFAAttemptTTL)
	}
	return attempts >= twoFAMaxAttempts, nil
}

func (r *RateLimiter) Reset2FA(ctx context.Context, userID string) {
	r.Redis.Del(ctx, r.twoFAKey(userID))
}

func (r *RateLimiter) RegisterVerifyAttempt(ctx context.Context, email string) (bool, time.Duration, error) {
	key := r.verifyAttemptKey(email)

	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, verifyAttemptTTL)
	}
	ttl, _ := r.Redis.TTL(ctx, key).Result()
	return attempts >= verifyMaxAttempts, ttl, nil
}

func (r *RateLimiter) ResetVerify(ctx context.Context, email string) {
	r.Redis.Del(ctx, r.verifyAttemptKey(email))
}

func (r *RateLimiter) RegisterResetAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	keys := []string{r.resetAttemptEmailKey(email), r.resetAttemptIPKey(ip)}
	locked := false
	var ttlMax time.Duration

	for _, key := range keys {
		if key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, key, resetAttemptTTL)
		}
		if attempts >= resetMaxAttempts {
			locked = true
		}
		if ttl, _ := r.Redis.TTL(ctx, key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}

	return locked, ttlMax, nil
}

func (r *RateLimiter) RegisterRegisterAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	keys := []struct {
		key       string
		max       int64
		expiryTTL time.Duration
	}{
		{r.registerAttemptIPKey(ip), int64(registerMaxAttemptsIP), registerAttemptTTLIP},
		{r.registerAttemptEmailKey(email), int64(registerMaxAttemptsEmail), registerAttemptTTLEmail},
	}

	locked := false
	var ttlMax time.Duration

	for _, k := range keys {
		if k.key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, k.key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, k.key, k.expiryTTL)
		}
		if attempts >= k.max {
			locked = true
		}
		if ttl, _ := r.Redis.TTL(ctx, k.key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}

	return locked, ttlMax, nil
}

func (r *RateLimiter) CooldownTTL(ctx context.Context, key string) time.Duration {
	ttl, err := r.Redis.TTL(ctx, key).Result()
	if err != nil {
		return 0
	}
	return ttl
}

func (r *RateLimiter) SetCooldown(ctx context.Context, key string, ttl time.Duration) {
	r.Redis.Set(ctx, key, "1", ttl)
}
