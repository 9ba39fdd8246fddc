package biz

import (
	"context"
	"sort"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/pkg/rag/bm25"
	"github.com/kart-io/shopfloor-copilot/pkg/llm"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// rrfK RRF 融合常数。
const rrfK = 60

// DefaultTopK 默认返回的候选数。
const DefaultTopK = 5

// Passage 一条检索命中。
type Passage struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Score     float64        `json:"score"`
	FinalRank int            `json:"final_rank,omitempty"`
}

// RetrieveInput 检索输入。
type RetrieveInput struct {
	Query  string
	Filter store.ChunkFilter
	TopK   int
	Rerank bool
}

// RetrieveResult 检索结果。
type RetrieveResult struct {
	Passages []Passage `json:"passages"`
	Method   string    `json:"method"`
}

// Retriever 混合检索器：过滤语料上的 BM25 + 稠密检索，
// RRF 融合，可选交叉编码重排。
type Retriever struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
	reranker llm.RerankProvider
}

// NewRetriever 创建混合检索器。reranker 可为 nil，此时重排请求降级为纯融合。
func NewRetriever(vs store.VectorStore, embedder llm.EmbeddingProvider, reranker llm.RerankProvider) *Retriever {
	return &Retriever{store: vs, embedder: embedder, reranker: reranker}
}

// Retrieve 执行混合检索。过滤无命中时返回空结果，不报错。
func (r *Retriever) Retrieve(ctx context.Context, in RetrieveInput) (*RetrieveResult, error) {
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	// 1. 过滤语料是权威集合：BM25 与稠密结果都不得越出它
	corpus, err := r.store.Get(ctx, in.Filter, false)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithMessage("vector store read failed").WithCause(err)
	}
	if len(corpus) == 0 {
		return &RetrieveResult{Passages: []Passage{}, Method: "hybrid"}, nil
	}

	byID := make(map[string]*store.Chunk, len(corpus))
	texts := make([]string, len(corpus))
	for i := range corpus {
		byID[corpus[i].ID] = &corpus[i]
		texts[i] = corpus[i].Text
	}

	// 2. BM25 排名
	idx := bm25.New(texts)
	var lexical []string
	for _, res := range idx.TopN(in.Query, 2*topK) {
		lexical = append(lexical, corpus[res.DocIndex].ID)
	}

	// 3. 稠密排名
	queryVec, err := r.embedder.EmbedSingle(ctx, in.Query)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithMessage("query embedding failed").WithCause(err)
	}
	denseHits, err := r.store.Query(ctx, queryVec, 2*topK, in.Filter)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable.WithMessage("dense query failed").WithCause(err)
	}
	var dense []string
	for _, hit := range denseHits {
		if _, ok := byID[hit.ID]; !ok {
			// 语料读取之后写入的块，跳过以保持过滤不变式
			continue
		}
		dense = append(dense, hit.ID)
	}

	// 4. RRF 融合，rank 从 1 起
	fused := fuseRRF(lexical, dense)

	// 5. 可选重排
	method := "hybrid"
	if in.Rerank && r.reranker != nil && len(fused) > 0 {
		fused, err = r.rerank(ctx, in.Query, fused, byID, topK)
		if err != nil {
			log.Warnw("rerank failed, falling back to fused order", "error", err)
		} else {
			method = "hybrid+rerank"
		}
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}

	passages := make([]Passage, 0, len(fused))
	for rank, f := range fused {
		c := byID[f.id]
		passages = append(passages, Passage{
			ID:        c.ID,
			Text:      c.Text,
			Metadata:  c.Metadata,
			Score:     f.score,
			FinalRank: rank + 1,
		})
	}
	return &RetrieveResult{Passages: passages, Method: method}, nil
}

type fusedHit struct {
	id    string
	score float64
}

// fuseRRF 按 score(id) = Σ 1/(k + rank) 融合两个排名，
// 平分时保持首次出现顺序。
func fuseRRF(lists ...[]string) []fusedHit {
	scores := make(map[string]float64)
	var order []string
	for _, list := range lists {
		for i, id := range list {
			if _, ok := scores[id]; !ok {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(rrfK+i+1)
		}
	}

	fused := make([]fusedHit, 0, len(order))
	for _, id := range order {
		fused = append(fused, fusedHit{id: id, score: scores[id]})
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].score > fused[j].score
	})
	return fused
}

// rerank 对融合结果的前 topK 做交叉编码打分并按新分数重排。
func (r *Retriever) rerank(ctx context.Context, query string, fused []fusedHit, byID map[string]*store.Chunk, topK int) ([]fusedHit, error) {
	head := fused
	if len(head) > topK {
		head = head[:topK]
	}

	texts := make([]string, len(head))
	for i, f := range head {
		texts[i] = byID[f.id].Text
	}
	results, err := r.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}

	reranked := make([]fusedHit, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(head) {
			continue
		}
		reranked = append(reranked, fusedHit{id: head[res.Index].id, score: res.Score})
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].score > reranked[j].score
	})
	return reranked, nil
}
