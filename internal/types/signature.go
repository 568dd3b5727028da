package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Signature 表示一笔交易的 64 字节签名，作为全链路的去重主键使用。
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) Equals(other Signature) bool {
	return s == other
}

// TrySignatureFromBase58 解析 base58 字符串为 Signature，失败时返回 error（用于不信任输入路径）
func TrySignatureFromBase58(str string) (Signature, error) {
	data, err := base58.Decode(str)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to decode base58 signature %q: %w", str, err)
	}
	if len(data) != 64 {
		return Signature{}, fmt.Errorf("invalid signature length: got %d, want 64, input=%q", len(data), str)
	}
	var s Signature
	copy(s[:], data)
	return s, nil
}

func SignatureFromBase58(str string) Signature {
	s, err := TrySignatureFromBase58(str)
	if err != nil {
		panic(err)
	}
	return s
}

// SignatureFromBytes 从原始字节构造 Signature，长度不为 64 时返回 error。
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 64 {
		return Signature{}, fmt.Errorf("invalid signature length: got %d, want 64", len(b))
	}
	var s Signature
	copy(s[:], b)
	return s, nil
}
