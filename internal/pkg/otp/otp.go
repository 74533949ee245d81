package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "buildr:otp:"

// 物理 TTL 比业务过期时间多留的余量。业务上的过期判定永远走
// expires_at 时间戳比较，物理删除只是兜底清理。
const purgeGrace = 5 * time.Minute

var (
	// ErrNotFound 表示该邮箱没有待验证记录（从未注册或已被消费）。
	ErrNotFound = errors.New("otp record not found")
	// ErrInvalidOrExpired 统一表示验证码错误或已过期，两种失败不区分，
	// 避免向调用方泄露是哪个条件没满足。
	ErrInvalidOrExpired = errors.New("otp invalid or expired")
)

// consumeLua 原子地校验并消费验证码：只有哈希匹配且未过期时才删除记录。
// 并发 verify 同一邮箱时，DEL 保证恰好一个调用成功。
const consumeLua = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {0, ""}
end
local rec = cjson.decode(raw)
if rec.code_hash ~= ARGV[1] then
  return {-1, ""}
end
if tonumber(ARGV[2]) > tonumber(rec.expires_at) then
  return {-1, ""}
end
redis.call("DEL", KEYS[1])
return {1, raw}
`

// Pending 是注册时暂存、验证通过后用于落库建用户的 payload。
// 此时 Password 还是明文，哈希在建用户的写路径上做。
type Pending struct {
	Firstname string  `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
}

// Record 是单个邮箱的待验证记录。一个邮箱同一时刻至多一条，
// 重复注册/重发都是整条覆盖。
type Record struct {
	CodeHash  string  `json:"code_hash"`  // sha256(验证码) 的 hex
	ExpiresAt int64   `json:"expires_at"` // 过期时间（unix 秒）
	SentAt    int64   `json:"sent_at"`    // 最近一次发送时间（unix 秒）
	Pending   Pending `json:"pending"`
}

// Store 把 OTP 记录放在 Redis，key 即邮箱，物理 TTL 由 Redis 负责。
type Store struct {
	rdb     *redis.Client
	ttl     time.Duration
	consume *redis.Script
}

// NewStore 创建 OTP 存储。ttl 是验证码有效期（如 10 分钟）。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{
		rdb:     rdb,
		ttl:     ttl,
		consume: redis.NewScript(consumeLua),
	}
}

// Put 为邮箱写入新的验证码记录，覆盖已存在的记录。
func (s *Store) Put(ctx context.Context, email, code string, pending Pending) error {
	now := time.Now()
	rec := Record{
		CodeHash:  HashCode(code),
		ExpiresAt: now.Add(s.ttl).Unix(),
		SentAt:    now.Unix(),
		Pending:   pending,
	}
	return s.write(ctx, email, rec)
}

// Refresh 为已有记录生成新验证码和新过期时间，payload 保持不变。
// 记录不存在时返回 ErrNotFound。
func (s *Store) Refresh(ctx context.Context, email, code string) error {
	rec, err := s.Get(ctx, email)
	if err != nil {
		return err
	}
	now := time.Now()
	rec.CodeHash = HashCode(code)
	rec.ExpiresAt = now.Add(s.ttl).Unix()
	rec.SentAt = now.Unix()
	return s.write(ctx, email, rec)
}

// Get 读取邮箱的待验证记录（不消费）。
func (s *Store) Get(ctx context.Context, email string) (Record, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("otp get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("otp decode: %w", err)
	}
	return rec, nil
}

// Consume 校验验证码并在成功时原子删除记录。
//
// 返回值:
//
//	Record: 验证成功时的记录（含 pending payload）
//	error: ErrNotFound（无记录 / 已被消费）、ErrInvalidOrExpired（码错或超时）
func (s *Store) Consume(ctx context.Context, email, code string) (Record, error) {
	res, err := s.consume.Run(ctx, s.rdb, []string{keyPrefix + email},
		HashCode(code), time.Now().Unix()).Result()
	if err != nil {
		return Record{}, fmt.Errorf("otp consume: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return Record{}, fmt.Errorf("otp consume: unexpected script result %v", res)
	}

	switch status(values[0]) {
	case 1:
		raw, _ := values[1].(string)
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Record{}, fmt.Errorf("otp decode: %w", err)
		}
		return rec, nil
	case 0:
		return Record{}, ErrNotFound
	default:
		return Record{}, ErrInvalidOrExpired
	}
}

func (s *Store) write(ctx context.Context, email string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("otp encode: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+email, raw, s.ttl+purgeGrace).Err(); err != nil {
		return fmt.Errorf("otp set: %w", err)
	}
	return nil
}

func status(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	}
	return -2
}

// GenerateCode 生成 n 位随机数字验证码。
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = '0' + (buf[i] % 10)
	}
	return string(buf), nil
}

// HashCode 返回验证码的 sha256 hex，存储侧只保存哈希。
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
