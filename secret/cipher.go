// Package secret 加解密账户的只读（investor）密码。
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrMalformed 密文格式错误
var ErrMalformed = errors.New("malformed ciphertext")

// keySalt 口令派生密钥使用的固定盐；64 位十六进制密钥直接使用不经派生
const keySalt = "fundguard/investor-password"

// Cipher XChaCha20-Poly1305 加解密，密文格式为 hex(nonce):hex(sealed)
type Cipher struct {
	key []byte
}

// NewCipher 由配置的密钥创建 Cipher
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("未配置加密密钥 (security.encryption_key)")
	}

	if len(secret) == 64 {
		if key, err := hex.DecodeString(secret); err == nil {
			return &Cipher{key: key}, nil
		}
	}

	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	return &Cipher{key: key}, nil
}

// Encrypt 加密明文
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt 解密密文
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	nonceHex, sealedHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", ErrMalformed
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", ErrMalformed
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrMalformed
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plain), nil
}
