package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
)

// lowConfidenceAnswer 检索无命中时的回答。
const lowConfidenceAnswer = "I could not find relevant documentation for this question in the current scope. " +
	"Try broadening the filters or rephrasing the question."

// Citation 一条引用。
type Citation struct {
	DocID string  `json:"doc_id"`
	Pages string  `json:"pages,omitempty"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

// AskInput 非生成式问答输入。
type AskInput struct {
	App    string
	Query  string
	Filter store.ChunkFilter
	TopK   int
	Rerank bool
}

// AskResult 非生成式问答结果。
type AskResult struct {
	Answer         string         `json:"answer"`
	Citations      []Citation     `json:"citations"`
	FiltersApplied map[string]any `json:"filters_applied"`
	Hits           int            `json:"hits"`
}

// AskLLMInput 生成式问答输入。
type AskLLMInput struct {
	AskInput
	Role        string
	Temperature float64
	UseLLM      bool
	// WithRuntime 为真时把当前车间快照作为运行时上下文注入提示词。
	WithRuntime bool
}

// AskLLMResult 生成式问答结果。
type AskLLMResult struct {
	AskResult
	Model  string `json:"model"`
	Method string `json:"method"`
}

// Service copilot 问答门面：检索、缓存、合成一站式入口。
type Service struct {
	retriever *Retriever
	composer  *Composer
	ingestor  *Ingestor
	cache     *QueryCache
	state     *plant.State
}

// NewService 创建问答门面。cache 与 state 可为 nil。
func NewService(retriever *Retriever, composer *Composer, ingestor *Ingestor, cache *QueryCache, state *plant.State) *Service {
	return &Service{
		retriever: retriever,
		composer:  composer,
		ingestor:  ingestor,
		cache:     cache,
		state:     state,
	}
}

// Ingestor 返回入库流水线。
func (s *Service) Ingestor() *Ingestor {
	return s.ingestor
}

// Ask 检索并返回带引用的答案，不调用生成模型。
func (s *Service) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	result, err := s.retrieveCached(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.buildAskResult(in, result), nil
}

// AskLLM 检索后调用生成模型合成答案。
// use_llm=false 时与 Ask 等价，method 标记实际路径。
func (s *Service) AskLLM(ctx context.Context, in AskLLMInput) (*AskLLMResult, error) {
	retrieved, err := s.retrieveCached(ctx, in.AskInput)
	if err != nil {
		return nil, err
	}

	base := s.buildAskResult(in.AskInput, retrieved)
	if !in.UseLLM {
		return &AskLLMResult{AskResult: *base, Model: "none", Method: retrieved.Method}, nil
	}

	passages := retrieved.Passages
	method := retrieved.Method
	if in.WithRuntime && s.state != nil {
		passages = append([]Passage{s.runtimePassage()}, passages...)
		method += "+runtime"
	}

	answer := s.composer.Compose(ctx, in.Query, passages, in.Role, in.Temperature)
	base.Answer = answer.Answer
	return &AskLLMResult{AskResult: *base, Model: answer.Model, Method: method}, nil
}

// AskLLMStream 流式生成答案，增量交给 fn。
func (s *Service) AskLLMStream(ctx context.Context, in AskLLMInput, fn func(delta string) error) error {
	retrieved, err := s.retrieveCached(ctx, in.AskInput)
	if err != nil {
		return err
	}

	passages := retrieved.Passages
	if in.WithRuntime && s.state != nil {
		passages = append([]Passage{s.runtimePassage()}, passages...)
	}
	s.composer.ComposeStream(ctx, in.Query, passages, in.Role, in.Temperature, fn)
	return nil
}

func (s *Service) retrieveCached(ctx context.Context, in AskInput) (*RetrieveResult, error) {
	var key string
	if s.cache != nil {
		key = s.cache.Key(in.Query, in.Filter, in.TopK, in.Rerank)
		if cached := s.cache.Get(ctx, key); cached != nil {
			return cached, nil
		}
	}

	result, err := s.retriever.Retrieve(ctx, RetrieveInput{
		Query:  in.Query,
		Filter: in.Filter,
		TopK:   in.TopK,
		Rerank: in.Rerank,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, result)
	}
	return result, nil
}

func (s *Service) buildAskResult(in AskInput, retrieved *RetrieveResult) *AskResult {
	filters := make(map[string]any, len(in.Filter))
	for k, v := range in.Filter {
		filters[k] = v
	}

	if len(retrieved.Passages) == 0 {
		return &AskResult{
			Answer:         lowConfidenceAnswer,
			Citations:      []Citation{},
			FiltersApplied: filters,
			Hits:           0,
		}
	}

	citations := make([]Citation, 0, len(retrieved.Passages))
	for _, p := range retrieved.Passages {
		c := Citation{DocID: docID(p), Score: p.Score}
		if url, ok := p.Metadata["source_url"].(string); ok {
			c.URL = url
		}
		if from, ok := metaInt(p.Metadata, "page_from"); ok {
			to := from
			if t, ok := metaInt(p.Metadata, "page_to"); ok {
				to = t
			}
			c.Pages = fmt.Sprintf("%d-%d", from, to)
		}
		citations = append(citations, c)
	}

	return &AskResult{
		Answer:         retrieved.Passages[0].Text,
		Citations:      citations,
		FiltersApplied: filters,
		Hits:           len(retrieved.Passages),
	}
}

// metaInt 读取整型元数据。缓存命中时元数据经过 JSON 往返，
// 数值会以 float64 回来，两种形态都要接受。
func metaInt(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// runtimePassage 把当前车间快照压缩为运行时上下文哨兵段落。
func (s *Service) runtimePassage() Passage {
	snap := s.state.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Plant %s live status:\n", snap.Plant)
	for _, line := range snap.Lines {
		fmt.Fprintf(&b, "Line %s: status=%s oee=%.4f availability=%.2f performance=%.2f quality=%.2f\n",
			line.ID, line.Status, line.OEE, line.Availability, line.Performance, line.Quality)
		for _, st := range line.Stations {
			fmt.Fprintf(&b, "  Station %s: state=%s cycle=%.1fs good=%d scrap=%d",
				st.ID, st.State, st.CycleTimeS, st.GoodCount, st.ScrapCount)
			if len(st.Alarms) > 0 {
				fmt.Fprintf(&b, " alarms=%s", strings.Join(st.Alarms, ","))
			}
			b.WriteString("\n")
		}
	}

	return Passage{
		ID:       RuntimeContextDocID,
		Text:     b.String(),
		Metadata: map[string]any{"doc_id": RuntimeContextDocID},
	}
}
