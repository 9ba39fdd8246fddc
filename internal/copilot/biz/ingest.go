// Package biz 实现 copilot 的业务逻辑层：文档入库、混合检索、
// 重排、答案合成与查询缓存。
package biz

import (
	"context"
	"strconv"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/pkg/rag/chunker"
	"github.com/kart-io/shopfloor-copilot/pkg/llm"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/id"
)

// IngestInput 一次文档入库的输入。
type IngestInput struct {
	App       string
	Doctype   string
	Filename  string
	Raw       []byte
	SourceURL string
	Lang      string

	// MES 作用域，空值不写入元数据。
	Plant   string
	Line    string
	Station string
	Turno   string

	Rev       string
	ValidFrom string
	ValidTo   string
	SafetyTag string
	DocTitle  string
	Profile   string

	// MaxLen 切片窗口长度，0 取默认。
	MaxLen int
}

// IngestResult 入库结果。
type IngestResult struct {
	DocID    string         `json:"doc_id"`
	Chunks   int            `json:"chunks"`
	Metadata map[string]any `json:"metadata"`
}

// Ingestor 文档入库流水线。
type Ingestor struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
}

// NewIngestor 创建入库流水线。
func NewIngestor(vs store.VectorStore, embedder llm.EmbeddingProvider) *Ingestor {
	return &Ingestor{store: vs, embedder: embedder}
}

// Ingest 切分、批量 embedding 并写入向量库。
// doc_id 形如 {doctype}-{8 hex}；块 ID 为 {doc_id}-{i}，i 从 0 连续。
// 空文档不产生任何写入。整份文档要么全部写入要么全部失败。
func (ig *Ingestor) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	docID := in.Doctype + "-" + id.NewHex(4)

	pieces, err := chunker.Split(in.Filename, in.Raw, chunker.Options{MaxLen: in.MaxLen})
	if err != nil {
		return nil, err
	}

	base := ig.baseMetadata(in, docID)
	if len(pieces) == 0 {
		return &IngestResult{DocID: docID, Chunks: 0, Metadata: base}, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	embeddings, err := ig.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithMessage("embedding failed").WithCause(err)
	}
	if len(embeddings) != len(pieces) {
		return nil, errors.ErrIngestFailed.WithMessagef("embedder returned %d vectors for %d chunks", len(embeddings), len(pieces))
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, p := range pieces {
		metadata := make(map[string]any, len(base)+3)
		for k, v := range base {
			metadata[k] = v
		}
		if p.PageFrom > 0 {
			metadata["page_from"] = int64(p.PageFrom)
			metadata["page_to"] = int64(p.PageTo)
		}
		if p.Section != "" {
			metadata["section"] = p.Section
		}

		chunks[i] = store.Chunk{
			ID:        chunkID(docID, i),
			Text:      p.Text,
			Embedding: embeddings[i],
			Metadata:  metadata,
		}
	}

	if err := ig.store.Add(ctx, chunks); err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithMessage("vector store write failed").WithCause(err)
	}

	log.Infow("document ingested", "doc_id", docID, "chunks", len(chunks), "app", in.App, "doctype", in.Doctype)
	return &IngestResult{DocID: docID, Chunks: len(chunks), Metadata: base}, nil
}

// Enrich 入库后补充 profile 与 original_doc_id 元数据。
// 其余元数据保持不变。
func (ig *Ingestor) Enrich(ctx context.Context, docID, profile, originalDocID string) (int, error) {
	chunks, err := ig.store.Get(ctx, store.ChunkFilter{"doc_id": docID}, true)
	if err != nil {
		return 0, errors.ErrUpstreamUnavailable.WithMessage("vector store read failed").WithCause(err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	for i := range chunks {
		if profile != "" {
			chunks[i].Metadata["profile"] = profile
		}
		if originalDocID != "" {
			chunks[i].Metadata["original_doc_id"] = originalDocID
		}
	}
	if err := ig.store.Add(ctx, chunks); err != nil {
		return 0, errors.ErrUpstreamUnavailable.WithMessage("vector store write failed").WithCause(err)
	}
	return len(chunks), nil
}

func (ig *Ingestor) baseMetadata(in IngestInput, docID string) map[string]any {
	sourceURL := in.SourceURL
	if sourceURL == "" {
		sourceURL = "upload://" + in.Filename
	}
	lang := in.Lang
	if lang == "" {
		lang = "en"
	}

	base := map[string]any{
		"app":        in.App,
		"doctype":    in.Doctype,
		"doc_id":     docID,
		"source_url": sourceURL,
		"lang":       lang,
	}
	optional := map[string]string{
		"plant":      in.Plant,
		"line":       in.Line,
		"station":    in.Station,
		"turno":      in.Turno,
		"rev":        in.Rev,
		"valid_from": in.ValidFrom,
		"valid_to":   in.ValidTo,
		"safety_tag": in.SafetyTag,
		"doc_title":  in.DocTitle,
		"profile":    in.Profile,
	}
	for k, v := range optional {
		if v != "" {
			base[k] = v
		}
	}
	return base
}

func chunkID(docID string, i int) string {
	return docID + "-" + strconv.Itoa(i)
}
