// Package qid 定义队列标识符（QID）：绑定到单个会话的 128 位全局唯一值。
package qid

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalid 表示字符串内容不是合法的 QID（例如 cookie 被篡改或损坏）。
var ErrInvalid = errors.New("qid: invalid queue id")

// QID 是绑定到单个终端用户会话的 128 位标识符，首次接触时铸造。
type QID uuid.UUID

// New 铸造一个新的随机 QID（UUID v4）。
func New() QID {
	return QID(uuid.New())
}

// String 返回标准的带连字符的十六进制表示，用作存储层的成员值。
func (q QID) String() string {
	return uuid.UUID(q).String()
}

// Bytes 返回 16 字节的原始表示，用于 cookie 负载加密。
func (q QID) Bytes() []byte {
	b := uuid.UUID(q)
	return b[:]
}

// Parse 解析字符串形式的 QID；内容不合法时返回 ErrInvalid。
func Parse(s string) (QID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return QID{}, ErrInvalid
	}
	return QID(u), nil
}

// FromBytes 从 16 字节切片还原 QID；长度不为 16 时返回 ErrInvalid。
func FromBytes(b []byte) (QID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return QID{}, ErrInvalid
	}
	return QID(u), nil
}

// IsZero 判断是否为零值 QID（未铸造）。
func (q QID) IsZero() bool {
	return q == QID{}
}
