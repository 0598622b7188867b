package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/omnisbouncer/bouncer/internal/cookiecrypt"
)

// resolveCookieKey 对应 original_source/src/secrets.rs 的 decode_master_key：
// base64 解码任意长度的主密钥材料，再经 HKDF-SHA256 派生出
// cookiecrypt.KeySize 字节的固定长度密钥（axum_extra 的
// Key::derive_from 同样允许任意长度输入，这里用标准库等价的 HKDF 替代其
// 内部 KDF）。base64 为空时随机生成一个主密钥——对应原实现的
// Key::generate()，每次重启后旧 Cookie 全部失效。
func resolveCookieKey(masterKeyBase64 string) ([]byte, error) {
	var master []byte
	if masterKeyBase64 == "" {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("config: generating random cookie key: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(masterKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("config: decoding cookie key: %w", err)
		}
		master = decoded
	}

	key := make([]byte, cookiecrypt.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte("omnisbouncer-cookie-key"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("config: deriving cookie key: %w", err)
	}
	return key, nil
}
