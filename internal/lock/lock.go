// Package lock реализует распределённую блокировку с арендой поверх Redis.
//
// Захват — SET key owner NX PX ttl. Освобождение и продление —
// Lua-скрипты compare-and-delete / compare-and-pexpire, поэтому
// владелец не может снять или продлить чужую блокировку.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld — блокировка не принадлежит owner (истекла или перехвачена).
var ErrNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// State — наблюдаемое состояние блокировки.
//
// Held == false означает Unheld; иначе блокировку держит Owner до ExpiresAt.
type State struct {
	Held      bool
	Owner     string
	ExpiresAt time.Time
}

// Locker — распределённая блокировка на Redis.
type Locker struct {
	client redis.UniversalClient
	now    func() time.Time
}

// New создаёт Locker поверх готового клиента.
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client, now: time.Now}
}

// NewClient создаёт клиента Redis по URL вида redis://host:port/db.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Acquire пытается захватить key для owner на ttl.
// Возвращает false без ошибки, если блокировку держит кто-то другой.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release снимает блокировку, только если её держит owner.
// Истёкшую или перехваченную блокировку не трогает и возвращает ErrNotHeld.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", key, ErrNotHeld)
	}
	return nil
}

// Renew продлевает аренду, если блокировку всё ещё держит owner.
func (l *Locker) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", key, err)
	}
	return n == 1, nil
}

// State возвращает текущего владельца и время истечения аренды.
func (l *Locker) State(ctx context.Context, key string) (State, error) {
	pipe := l.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("lock state %s: %w", key, err)
	}

	owner, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("lock state %s: %w", key, err)
	}

	st := State{Held: true, Owner: owner}
	if ttl := ttlCmd.Val(); ttl > 0 {
		st.ExpiresAt = l.now().Add(ttl)
	}
	return st, nil
}

// NewOwnerToken генерирует случайный токен владельца вида "<prefix>-<hex>".
// Генерируется один раз на время жизни процесса.
func NewOwnerToken(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("lock: read random: %v", err))
	}
	return prefix + "-" + hex.EncodeToString(buf)
}
