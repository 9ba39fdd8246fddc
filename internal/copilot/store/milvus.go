package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/shopfloor-copilot/pkg/component/milvus"
)

// 必填元数据键，读取时始终保留。
var requiredMetaKeys = map[string]bool{
	"app": true, "doctype": true, "doc_id": true, "source_url": true, "lang": true,
}

// 单次 Get 的取回上限，过滤后的语料不应超过它。
const maxGetLimit = 16384

// MilvusStore 基于 Milvus 的文档块存储。
type MilvusStore struct {
	client     *milvus.Client
	collection string
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client, collection string) *MilvusStore {
	return &MilvusStore{client: client, collection: collection}
}

// EnsureCollection 创建块集合：VarChar 主键, 余弦 HNSW 索引。
func (s *MilvusStore) EnsureCollection(ctx context.Context, dimension int) error {
	schema := &milvus.CollectionSchema{
		Name:        s.collection,
		Description: "shop-floor document chunks",
		Dimension:   dimension,
		PrimaryKey:  milvus.MetaField{Name: "id", DataType: entity.FieldTypeVarChar, MaxLen: 128},
	}
	schema.MetaFields = append(schema.MetaFields,
		milvus.MetaField{Name: "text", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
	)
	for _, k := range chunkMetaKeys {
		schema.MetaFields = append(schema.MetaFields,
			milvus.MetaField{Name: k, DataType: entity.FieldTypeVarChar, MaxLen: 512},
		)
	}
	for _, k := range chunkIntKeys {
		schema.MetaFields = append(schema.MetaFields,
			milvus.MetaField{Name: k, DataType: entity.FieldTypeInt64},
		)
	}
	return s.client.CreateCollection(ctx, schema)
}

// Add 插入或替换文档块。
func (s *MilvusStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	data := &milvus.UpsertData{
		IDs:        make([]string, len(chunks)),
		Embeddings: make([][]float32, len(chunks)),
		Metadata:   make(map[string][]any),
	}
	data.Metadata["text"] = make([]any, len(chunks))
	for _, k := range chunkMetaKeys {
		data.Metadata[k] = make([]any, len(chunks))
	}
	for _, k := range chunkIntKeys {
		data.Metadata[k] = make([]any, len(chunks))
	}

	for i, c := range chunks {
		data.IDs[i] = c.ID
		data.Embeddings[i] = c.Embedding
		data.Metadata["text"][i] = c.Text
		for _, k := range chunkMetaKeys {
			v, _ := c.Metadata[k].(string)
			data.Metadata[k][i] = v
		}
		for _, k := range chunkIntKeys {
			data.Metadata[k][i] = toInt64(c.Metadata[k])
		}
	}

	if err := s.client.Upsert(ctx, s.collection, "id", data); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	return nil
}

// Get 返回满足过滤条件的全部块。
func (s *MilvusStore) Get(ctx context.Context, filter ChunkFilter, includeEmbeddings bool) ([]Chunk, error) {
	expr, err := filter.Expr()
	if err != nil {
		return nil, err
	}

	fields := outputFields(includeEmbeddings)
	rows, err := s.client.Query(ctx, s.collection, expr, fields, maxGetLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, rowToChunk(row))
	}
	return chunks, nil
}

// Query 在过滤范围内做余弦近邻检索。
func (s *MilvusStore) Query(ctx context.Context, embedding []float32, nResults int, filter ChunkFilter) ([]ScoredChunk, error) {
	expr, err := filter.Expr()
	if err != nil {
		return nil, err
	}

	rows, err := s.client.Search(ctx, s.collection, embedding, expr, nResults, outputFields(false))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	results := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		c := rowToChunk(row)
		if c.ID == "" {
			c.ID = row.ID
		}
		results = append(results, ScoredChunk{Chunk: c, Score: float64(row.Score)})
	}
	return results, nil
}

// Count 返回集合中的块总数。
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	return s.client.GetCollectionStats(ctx, s.collection)
}

// Close 关闭底层连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func outputFields(includeEmbeddings bool) []string {
	fields := []string{"id", "text"}
	fields = append(fields, chunkMetaKeys...)
	fields = append(fields, chunkIntKeys...)
	if includeEmbeddings {
		fields = append(fields, "embedding")
	}
	return fields
}

// rowToChunk 还原元数据：必填键始终保留，可选键仅在非空时保留。
func rowToChunk(row milvus.Row) Chunk {
	c := Chunk{Embedding: row.Embedding, Metadata: make(map[string]any)}
	for k, v := range row.Metadata {
		switch k {
		case "id":
			c.ID, _ = v.(string)
		case "text":
			c.Text, _ = v.(string)
		default:
			switch val := v.(type) {
			case string:
				if val != "" || requiredMetaKeys[k] {
					c.Metadata[k] = val
				}
			case int64:
				if val != 0 {
					c.Metadata[k] = val
				}
			}
		}
	}
	return c
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
