package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/pkg/rag/textutil"
	"github.com/kart-io/shopfloor-copilot/pkg/llm"
)

// fakeStore 内存向量库，余弦相似度排序。
type fakeStore struct {
	chunks map[string]store.Chunk
	order  []string
	fail   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: make(map[string]store.Chunk)}
}

func (f *fakeStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }

func (f *fakeStore) Add(ctx context.Context, chunks []store.Chunk) error {
	if f.fail {
		return fmt.Errorf("store unavailable")
	}
	for _, c := range chunks {
		if _, ok := f.chunks[c.ID]; !ok {
			f.order = append(f.order, c.ID)
		}
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeStore) Get(ctx context.Context, filter store.ChunkFilter, includeEmbeddings bool) ([]store.Chunk, error) {
	if f.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	var out []store.Chunk
	for _, id := range f.order {
		c := f.chunks[id]
		if filter.Match(c.Metadata) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Query(ctx context.Context, embedding []float32, nResults int, filter store.ChunkFilter) ([]store.ScoredChunk, error) {
	if f.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	var scored []store.ScoredChunk
	for _, id := range f.order {
		c := f.chunks[id]
		if !filter.Match(c.Metadata) {
			continue
		}
		scored = append(scored, store.ScoredChunk{
			Chunk: c,
			Score: textutil.CosineSimilarity(embedding, c.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > nResults {
		scored = scored[:nResults]
	}
	return scored, nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) { return int64(len(f.chunks)), nil }
func (f *fakeStore) Close(ctx context.Context) error          { return nil }

// fakeEmbedder 确定性词袋向量。
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Name() string { return "fake" }

// bagOfWords 把文本投到 64 维词桶上并做 L2 归一化。
func bagOfWords(text string) []float32 {
	vec := make([]float32, 64)
	for _, tok := range textutil.Tokenize(text) {
		var h uint32
		for _, r := range tok {
			h = h*31 + uint32(r)
		}
		vec[h%64]++
	}
	textutil.Normalize(vec)
	return vec
}

// fakeReranker 按段落长度打分（越短越相关）。
type fakeReranker struct {
	fail bool
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, texts []string) ([]llm.RerankResult, error) {
	if f.fail {
		return nil, fmt.Errorf("reranker unavailable")
	}
	results := make([]llm.RerankResult, len(texts))
	for i, t := range texts {
		results[i] = llm.RerankResult{Index: i, Score: 1.0 / float64(1+len(t))}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (f *fakeReranker) Name() string { return "fake-rerank" }

// fakeGenerator 回显提示词的生成器。
type fakeGenerator struct {
	fail       bool
	lastSystem string
	lastPrompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if f.fail {
		return "", fmt.Errorf("connection refused")
	}
	f.lastSystem = opts.System
	f.lastPrompt = prompt
	return "generated answer", nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions, fn func(string) error) error {
	if f.fail {
		return fmt.Errorf("connection refused")
	}
	f.lastSystem = opts.System
	f.lastPrompt = prompt
	for _, part := range strings.SplitAfter("streamed answer", " ") {
		if err := fn(part); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGenerator) Model() string { return "fake-model" }
func (f *fakeGenerator) Name() string  { return "fake-gen" }
