package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"planvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 提交哈希的输入必须是规范化编码：同一份元数据永远序列化成同一串字节。
// 这里沿用 DAG-CBOR 的那套约束。
var encOptions = cbor.EncOptions{
	// 强制 Map Key 排序 (Canonical)，保证相同的对象生成唯一的 Hash
	Sort: cbor.SortCanonical,

	// 浮点数不做缩短处理
	ShortestFloat: cbor.ShortestFloatNone,

	// 时间一律 Unix 整数，禁止 RFC 3339 字符串 Tag
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 禁止不定长编码：数组和 Map 必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

// commitPayload 是参与提交哈希计算的全部字段
// 注意：Timestamp 在里面。这意味着相同内容提交两次会得到不同的
// commit hash (时间戳加盐)。这是源系统的既有行为，我们有意保留，
// 代价是提交身份不可复现。
type commitPayload struct {
	FileNodeID    string           `cbor:"f"`
	VersionNumber int              `cbor:"v"`
	ChunkRefs     []types.ChunkRef `cbor:"c"`
	AuthorID      string           `cbor:"a"`
	Timestamp     int64            `cbor:"ts"`
}

// computeCommitHash 对版本元数据的规范化序列化做 SHA-256
func computeCommitHash(p commitPayload) (types.Hash, error) {
	data, err := em.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal commit payload: %w", err)
	}

	sum := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(sum[:])), nil
}
