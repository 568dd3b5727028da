package protocol

import (
	"encoding/binary"
	"fmt"
)

// 指令数据重建按协议了解程度分三层：
//   - Tier 1（完全建模）：丢弃源数据，按已知 discriminator 与字段布局全新编码；
//   - Tier 2（部分建模）：逐字节保留源数据，只原地补丁一两个已知字段；
//   - Tier 3（未建模）：启发式定位金额字段并覆写，找不到则原样放行。
//
// 每一层都是纯字节操作，可独立用固定 fixture 做单测。

// EmitTier1 构造全新数据：discriminator + 依次写入的 u64 字段（小端）。
func EmitTier1(discriminator []byte, fields ...uint64) []byte {
	buf := make([]byte, len(discriminator)+8*len(fields))
	copy(buf, discriminator)
	off := len(discriminator)
	for _, f := range fields {
		binary.LittleEndian.PutUint64(buf[off:off+8], f)
		off += 8
	}
	return buf
}

// PatchUint64 是 Tier-2 的单字段补丁：在副本的 offset 处原地覆写一个小端 u64。
// 其余字节不动，避免破坏未知格式。
func PatchUint64(src []byte, offset int, value uint64) ([]byte, error) {
	if offset < 0 || offset+8 > len(src) {
		return nil, fmt.Errorf("patch offset %d out of range (data len %d)", offset, len(src))
	}
	out := make([]byte, len(src))
	copy(out, src)
	binary.LittleEndian.PutUint64(out[offset:offset+8], value)
	return out, nil
}

// PatchInt64 同 PatchUint64，用于时间戳等有符号字段。
func PatchInt64(src []byte, offset int, value int64) ([]byte, error) {
	return PatchUint64(src, offset, uint64(value))
}

// Tier-3 启发式扫描的金额合理性区间。
// 小于下界的多半是标志位/枚举，大于上界的多半是价格界或 u128 片段。
const (
	heuristicMinAmount = 1_000             // 0.000001 SOL / 极小 token 量以下不可信
	heuristicMaxAmount = 1_000_000_000_000_000 // 100 万 SOL 以上不可信
)

// heuristicOffsets 表示未建模协议中金额字段的常见偏移：
// 8 字节 anchor discriminator 之后的前几个 u64 槽位，以及 1 字节 tag 布局的首槽。
var heuristicOffsets = []int{8, 16, 1, 9, 24}

// ScanAndPatchAmount 是 Tier-3 启发式：在候选偏移处寻找量级合理的小端 u64，
// 找到第一个即覆写为 amount 并返回 (data, true)；找不到则原样返回 (src, false)。
func ScanAndPatchAmount(src []byte, amount uint64) ([]byte, bool) {
	for _, off := range heuristicOffsets {
		if off+8 > len(src) {
			continue
		}
		v := binary.LittleEndian.Uint64(src[off : off+8])
		if v < heuristicMinAmount || v > heuristicMaxAmount {
			continue
		}
		out, err := PatchUint64(src, off, amount)
		if err != nil {
			continue
		}
		return out, true
	}
	return src, false
}
