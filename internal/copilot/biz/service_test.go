package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/json"
)

func newTestService(t *testing.T, vs *fakeStore, gen *fakeGenerator, state *plant.State) *Service {
	t.Helper()
	emb := &fakeEmbedder{}
	return NewService(
		NewRetriever(vs, emb, nil),
		NewComposer(gen),
		NewIngestor(vs, emb),
		nil,
		state,
	)
}

func testPlantState() *plant.State {
	return plant.New(&plant.ModelConfig{
		Plant: "PLANT-A",
		Lines: []plant.LineConfig{
			{ID: "L1", Stations: []plant.StationConfig{
				{ID: "S10", Type: "press", Critical: true},
				{ID: "S20", Type: "weld"},
			}},
		},
	})
}

func TestAsk_AnswerWithCitations(t *testing.T) {
	vs := newFakeStore()
	ing := NewIngestor(vs, &fakeEmbedder{})
	res, err := ing.Ingest(context.Background(), IngestInput{
		App:      "copilot",
		Doctype:  "sop",
		Filename: "estop.txt",
		Raw:      []byte("S10 emergency stop procedure: hit the red mushroom button first."),
	})
	require.NoError(t, err)

	svc := newTestService(t, vs, &fakeGenerator{}, nil)
	out, err := svc.Ask(context.Background(), AskInput{App: "copilot", Query: "emergency stop", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Hits)
	assert.Contains(t, out.Answer, "emergency stop procedure")
	require.Len(t, out.Citations, 1)
	assert.Equal(t, res.DocID, out.Citations[0].DocID)
	assert.Equal(t, "upload://estop.txt", out.Citations[0].URL)
}

func TestAsk_PagesSurviveCacheRoundTrip(t *testing.T) {
	retrieved := &RetrieveResult{
		Method: "hybrid",
		Passages: []Passage{{
			ID:   "WI-aaaa1111-0",
			Text: "OEE means Overall Equipment Effectiveness.",
			Metadata: map[string]any{
				"doc_id":    "WI-aaaa1111",
				"page_from": int64(1),
				"page_to":   int64(1),
			},
		}},
	}

	// 缓存命中的结果经过 JSON 往返，整型元数据回来时是 float64。
	raw, err := json.Marshal(retrieved)
	require.NoError(t, err)
	var cached RetrieveResult
	require.NoError(t, json.Unmarshal(raw, &cached))

	svc := newTestService(t, newFakeStore(), &fakeGenerator{}, nil)
	direct := svc.buildAskResult(AskInput{}, retrieved)
	fromCache := svc.buildAskResult(AskInput{}, &cached)

	require.Len(t, direct.Citations, 1)
	require.Len(t, fromCache.Citations, 1)
	assert.Equal(t, "1-1", direct.Citations[0].Pages)
	assert.Equal(t, "1-1", fromCache.Citations[0].Pages)
}

func TestAsk_NoHitsReturnsLowConfidence(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeGenerator{}, nil)
	out, err := svc.Ask(context.Background(), AskInput{App: "copilot", Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Hits)
	assert.Equal(t, lowConfidenceAnswer, out.Answer)
	assert.Empty(t, out.Citations)
}

func TestAskLLM_UseLLMFalseSkipsGeneration(t *testing.T) {
	vs := newFakeStore()
	ing := NewIngestor(vs, &fakeEmbedder{})
	_, err := ing.Ingest(context.Background(), IngestInput{
		App: "copilot", Doctype: "sop", Filename: "a.txt",
		Raw: []byte("torque spec for station S20"),
	})
	require.NoError(t, err)

	gen := &fakeGenerator{}
	svc := newTestService(t, vs, gen, nil)
	out, err := svc.AskLLM(context.Background(), AskLLMInput{
		AskInput: AskInput{App: "copilot", Query: "torque spec"},
		UseLLM:   false,
	})
	require.NoError(t, err)
	assert.Equal(t, "none", out.Model)
	assert.Equal(t, "hybrid", out.Method)
	assert.Empty(t, gen.lastPrompt)
}

func TestAskLLM_GeneratesAnswer(t *testing.T) {
	vs := newFakeStore()
	ing := NewIngestor(vs, &fakeEmbedder{})
	_, err := ing.Ingest(context.Background(), IngestInput{
		App: "copilot", Doctype: "sop", Filename: "a.txt",
		Raw: []byte("torque spec for station S20"),
	})
	require.NoError(t, err)

	svc := newTestService(t, vs, &fakeGenerator{}, nil)
	out, err := svc.AskLLM(context.Background(), AskLLMInput{
		AskInput: AskInput{App: "copilot", Query: "torque spec"},
		UseLLM:   true,
		Role:     RoleOperator,
	})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", out.Answer)
	assert.Equal(t, "fake-model", out.Model)
	assert.Equal(t, "hybrid", out.Method)
	assert.Equal(t, 1, out.Hits)
}

func TestAskLLM_GenerationErrorDegrades(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeGenerator{fail: true}, nil)
	out, err := svc.AskLLM(context.Background(), AskLLMInput{
		AskInput: AskInput{App: "copilot", Query: "q"},
		UseLLM:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Model)
	assert.Contains(t, out.Answer, "LLM generation failed")
}

func TestAskLLM_WithRuntimeInjectsSnapshot(t *testing.T) {
	gen := &fakeGenerator{}
	svc := newTestService(t, newFakeStore(), gen, testPlantState())
	out, err := svc.AskLLM(context.Background(), AskLLMInput{
		AskInput:    AskInput{App: "copilot", Query: "what is the current OEE on L1"},
		UseLLM:      true,
		Role:        RoleLineManager,
		WithRuntime: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hybrid+runtime", out.Method)
	assert.Contains(t, gen.lastPrompt, "RUNTIME CONTEXT")
	assert.Contains(t, gen.lastPrompt, "Line L1:")
	assert.Contains(t, gen.lastPrompt, "Station S10:")
	assert.Contains(t, gen.lastPrompt, "oee=0.7366")
}

func TestAskLLMStream_DeliversDeltas(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeGenerator{}, nil)
	var got string
	err := svc.AskLLMStream(context.Background(), AskLLMInput{
		AskInput: AskInput{App: "copilot", Query: "q"},
		UseLLM:   true,
	}, func(delta string) error {
		got += delta
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", got)
}
