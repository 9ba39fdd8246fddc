// Package store 提供 copilot 的存储层：向量库中的文档块集合，
// 以及关系库中的违规、遥测与物料证据表。
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// 集合中除主键与向量外的标量字段。
// 必填：app、doctype、doc_id、source_url、lang。
var chunkMetaKeys = []string{
	"app", "doctype", "doc_id", "source_url", "lang",
	"plant", "line", "station", "turno",
	"rev", "valid_from", "valid_to", "safety_tag",
	"profile", "doc_title", "original_doc_id", "section",
}

// 整型标量字段。
var chunkIntKeys = []string{"page_from", "page_to"}

// Chunk 向量库中的一个文档块。
type Chunk struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata"`
}

// ScoredChunk 带相似度分数的文档块。
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ChunkFilter 元数据等值过滤条件，键必须是已知标量字段。
type ChunkFilter map[string]any

// Expr 将过滤条件编译为 Milvus 布尔表达式，键按字典序排列
// 以保证稳定性。空过滤返回空串。
func (f ChunkFilter) Expr() (string, error) {
	if len(f) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		if !isChunkField(k) {
			return "", fmt.Errorf("unknown filter field: %s", k)
		}
		switch v := f[k].(type) {
		case string:
			terms = append(terms, fmt.Sprintf(`%s == "%s"`, k, escapeExpr(v)))
		case int:
			terms = append(terms, fmt.Sprintf("%s == %d", k, v))
		case int64:
			terms = append(terms, fmt.Sprintf("%s == %d", k, v))
		default:
			return "", fmt.Errorf("unsupported filter value type %T for field %s", v, k)
		}
	}
	return strings.Join(terms, " and "), nil
}

// Match 判断块元数据是否满足过滤条件，用于过滤不变式的二次校验。
func (f ChunkFilter) Match(metadata map[string]any) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func isChunkField(name string) bool {
	for _, k := range chunkMetaKeys {
		if k == name {
			return true
		}
	}
	for _, k := range chunkIntKeys {
		if k == name {
			return true
		}
	}
	return false
}

// escapeExpr 转义过滤值中的引号与反斜杠，防止表达式注入。
func escapeExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// VectorStore 定义文档块向量存储接口。
type VectorStore interface {
	// EnsureCollection 创建集合（已存在时为空操作）。
	EnsureCollection(ctx context.Context, dimension int) error

	// Add 插入或替换文档块，以块 ID 为键。
	Add(ctx context.Context, chunks []Chunk) error

	// Get 返回满足过滤条件的全部块，不做相似度排序。
	// includeEmbeddings 控制是否取回向量。
	Get(ctx context.Context, filter ChunkFilter, includeEmbeddings bool) ([]Chunk, error)

	// Query 在过滤范围内做余弦近邻检索，返回按相似度降序的块。
	Query(ctx context.Context, embedding []float32, nResults int, filter ChunkFilter) ([]ScoredChunk, error)

	// Count 返回集合中的块总数。
	Count(ctx context.Context) (int64, error)

	// Close 关闭底层连接。
	Close(ctx context.Context) error
}
