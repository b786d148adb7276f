package cache

import (
	"errors"
	"strings"
)

// ErrInvalidCode 表示路径片段不是恰好 3 位 ASCII 数字。
var ErrInvalidCode = errors.New("invalid status code")

// Code 是 3 位数字状态码，同时作为缓存条目的唯一键。
type Code string

// ParseCode 去掉开头的 "/" 后校验剩余部分，必须在任何文件系统访问之前调用。
func ParseCode(path string) (Code, error) {
	raw := strings.TrimPrefix(path, "/")
	if len(raw) != 3 {
		return "", ErrInvalidCode
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", ErrInvalidCode
		}
	}
	return Code(raw), nil
}

// String 返回状态码本身。
func (c Code) String() string {
	return string(c)
}

// FileName 返回缓存目录下的文件名，例如 404.jpeg。
func (c Code) FileName() string {
	return string(c) + fileExt
}

const fileExt = ".jpeg"
