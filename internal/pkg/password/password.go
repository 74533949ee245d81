package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2-sha512 参数。盐和派生密钥分开存储，均为 hex 编码。
const (
	saltBytes  = 16
	keyBytes   = 64
	iterations = 1000
)

// Derive 为明文密码生成随机盐并派生密钥。
//
// 返回值:
//
//	keyHex: 派生密钥（128 个 hex 字符）
//	saltHex: 盐（32 个 hex 字符）
func Derive(plain string) (keyHex string, saltHex string, err error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(plain), salt, iterations, keyBytes, sha512.New)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}

// Verify 用存储的盐重新派生并做常数时间比较。
func Verify(plain string, saltHex string, keyHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(plain), salt, iterations, keyBytes, sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
