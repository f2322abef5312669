package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token ids until they would have expired anyway,
// plus per-account cutoffs that invalidate every token issued before them.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	RevokeAccount(ctx context.Context, accountID string, cutoff time.Time, ttl time.Duration) error
	AccountCutoff(ctx context.Context, accountID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revocations in-process (single instance only).
type MemoryTokenRevoker struct {
	mu       sync.Mutex
	tokens   map[string]time.Time
	accounts map[string]memoryCutoff
	now      func() time.Time
}

type memoryCutoff struct {
	cutoff  time.Time
	expires time.Time
}

func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:   make(map[string]time.Time),
		accounts: make(map[string]memoryCutoff),
		now:      time.Now,
	}
}

func (r *MemoryTokenRevoker) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

func (r *MemoryTokenRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeAccount only ever moves the cutoff forward.
func (r *MemoryTokenRevoker) RevokeAccount(_ context.Context, accountID string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.accounts[accountID]; ok && prev.cutoff.After(cutoff) {
		cutoff = prev.cutoff
	}
	r.accounts[accountID] = memoryCutoff{cutoff: cutoff.UTC(), expires: r.now().Add(ttl)}
	return nil
}

func (r *MemoryTokenRevoker) AccountCutoff(_ context.Context, accountID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.accounts[accountID]
	if !ok {
		return time.Time{}, nil
	}
	if r.now().After(entry.expires) {
		delete(r.accounts, accountID)
		return time.Time{}, nil
	}
	return entry.cutoff, nil
}

// RedisTokenRevoker shares revocations across replicas.
type RedisTokenRevoker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTokenRevoker(client redis.UniversalClient, prefix string) *RedisTokenRevoker {
	if prefix == "" {
		prefix = "chatbot:revoked"
	}
	return &RedisTokenRevoker{client: client, prefix: prefix}
}

func (r *RedisTokenRevoker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.tokenKey(tokenID), "1", ttl).Err()
}

func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cutoffs are stored as unix milliseconds; the script keeps the larger value.
var raiseCutoffScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local nxt = tonumber(ARGV[1])
if nxt > cur then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

func (r *RedisTokenRevoker) RevokeAccount(ctx context.Context, accountID string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return raiseCutoffScript.Run(ctx, r.client, []string{r.accountKey(accountID)},
		cutoff.UTC().UnixMilli(), ttl.Milliseconds()).Err()
}

func (r *RedisTokenRevoker) AccountCutoff(ctx context.Context, accountID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, r.accountKey(accountID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *RedisTokenRevoker) tokenKey(tokenID string) string {
	return r.prefix + ":token:" + tokenID
}

func (r *RedisTokenRevoker) accountKey(accountID string) string {
	return r.prefix + ":account:" + accountID
}
