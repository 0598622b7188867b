package cookiecrypt

import (
	"net/http"
	"time"

	"github.com/omnisbouncer/bouncer/internal/qid"
)

// SealQID 将 QID 封装为可直接写入 Cookie 的字符串。
func (s *Sealer) SealQID(id qid.QID) (string, error) {
	return s.Seal(id.Bytes())
}

// OpenQID 从 Cookie 值还原 QID；值缺失、损坏或不是合法 UUID 都返回
// ErrInvalidCookie，调用方据此铸造一个新 QID 而不是把错误外泄给用户。
func (s *Sealer) OpenQID(value string) (qid.QID, error) {
	plaintext, err := s.Open(value)
	if err != nil {
		return qid.QID{}, err
	}
	id, err := qid.FromBytes(plaintext)
	if err != nil {
		return qid.QID{}, ErrInvalidCookie
	}
	return id, nil
}

// ServerCookie 构造一个仅服务端可读的 Cookie：Secure、SameSite=Strict、
// Path=/，对应 original_source/src/cookies.rs 的 server_cookie。expiry<=0
// 表示会话 Cookie（不设置 Expires）。
func ServerCookie(name, value string, expiry time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if expiry > 0 {
		c.Expires = time.Now().Add(expiry)
	}
	return c
}

// BrowserCookie 构造一个浏览器可读的 Cookie（候车室位置/队列长度展示用），
// 同样 Secure + SameSite=Strict + Path=/，但不加密——值本身不敏感。
func BrowserCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}
