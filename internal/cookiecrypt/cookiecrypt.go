// Package cookiecrypt 加密/解密存放在服务端专属 Cookie 中的 QID 负载
// （SPEC_FULL.md §4.6/§6），对应 original_source/src/cookies.rs 的
// "private cookie"（仅服务端可读，浏览器不可篡改）语义。
package cookiecrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidCookie 表示 Cookie 值无法解密：格式错误、密钥不匹配或被篡改。
var ErrInvalidCookie = errors.New("cookiecrypt: invalid or tampered cookie value")

// KeySize 是 Seal/Open 所需的对称密钥长度（ChaCha20-Poly1305，256 位）。
const KeySize = chacha20poly1305.KeySize

// Sealer 使用单个 AEAD 密钥封装/开启 Cookie 负载。零值不可用，使用 New 构造。
type Sealer struct {
	aead cipher.AEAD
}

// New 用 32 字节密钥构造一个 Sealer；长度不对时返回错误。
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cookiecrypt: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cookiecrypt: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal 加密 plaintext，返回 URL-安全、无填充的 base64 字符串，可直接作为
// Cookie 值使用。
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cookiecrypt: generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open 解密 Seal 生成的 Cookie 值，还原明文。任何格式、篡改或密钥不匹配
// 都归一化为 ErrInvalidCookie——不向调用方泄露失败的具体原因。
func (s *Sealer) Open(value string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidCookie
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrInvalidCookie
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCookie
	}
	return plaintext, nil
}
