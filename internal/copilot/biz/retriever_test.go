package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
)

func seedChunk(t *testing.T, vs *fakeStore, id, text string, meta map[string]any) {
	t.Helper()
	m := map[string]any{"doc_id": id, "doctype": "sop"}
	for k, v := range meta {
		m[k] = v
	}
	err := vs.Add(context.Background(), []store.Chunk{{
		ID:        id + "-0",
		Text:      text,
		Embedding: bagOfWords(text),
		Metadata:  m,
	}})
	require.NoError(t, err)
}

func TestRetrieve_ExactTokenBeatsDense(t *testing.T) {
	vs := newFakeStore()
	seedChunk(t, vs, "sop-0a1b2c3d", "S10 emergency stop procedure", nil)
	seedChunk(t, vs, "sop-11223344", "How to improve equipment efficiency", nil)

	r := NewRetriever(vs, &fakeEmbedder{}, nil)
	res, err := r.Retrieve(context.Background(), RetrieveInput{Query: "S10", TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, res.Passages)
	assert.Equal(t, "sop-0a1b2c3d-0", res.Passages[0].ID)
	assert.Equal(t, 1, res.Passages[0].FinalRank)
	assert.Equal(t, "hybrid", res.Method)
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	r := NewRetriever(newFakeStore(), &fakeEmbedder{}, nil)
	res, err := r.Retrieve(context.Background(), RetrieveInput{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Passages)
	assert.Equal(t, "hybrid", res.Method)
}

func TestRetrieve_FilterRestrictsCorpus(t *testing.T) {
	vs := newFakeStore()
	seedChunk(t, vs, "sop-aaaa1111", "torque check for station S10", map[string]any{"station": "S10"})
	seedChunk(t, vs, "sop-bbbb2222", "torque check for station S20", map[string]any{"station": "S20"})

	r := NewRetriever(vs, &fakeEmbedder{}, nil)
	res, err := r.Retrieve(context.Background(), RetrieveInput{
		Query:  "torque check",
		Filter: store.ChunkFilter{"station": "S20"},
		TopK:   5,
	})
	require.NoError(t, err)
	require.Len(t, res.Passages, 1)
	assert.Equal(t, "sop-bbbb2222-0", res.Passages[0].ID)
}

func TestFuseRRF_OrderPreservingWhenOneListEmpty(t *testing.T) {
	fused := fuseRRF([]string{"a", "b", "c"}, nil)
	require.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].id)
	assert.Equal(t, "b", fused[1].id)
	assert.Equal(t, "c", fused[2].id)
}

func TestFuseRRF_ScoresAndTies(t *testing.T) {
	// b 在两个列表都出现，应排第一；a 与 c 平分，按首次出现顺序 a 在前。
	fused := fuseRRF([]string{"a", "b"}, []string{"c", "b"})
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].id)
	assert.InDelta(t, 1.0/62+1.0/62, fused[0].score, 1e-12)
	assert.Equal(t, "a", fused[1].id)
	assert.Equal(t, "c", fused[2].id)
	assert.InDelta(t, 1.0/61, fused[1].score, 1e-12)
}

func TestRetrieve_RerankChangesMethod(t *testing.T) {
	vs := newFakeStore()
	seedChunk(t, vs, "sop-cafe0001", "emergency stop", nil)
	seedChunk(t, vs, "sop-cafe0002", "emergency stop procedure with a much longer body of text", nil)

	r := NewRetriever(vs, &fakeEmbedder{}, &fakeReranker{})
	res, err := r.Retrieve(context.Background(), RetrieveInput{Query: "emergency stop", TopK: 2, Rerank: true})
	require.NoError(t, err)
	assert.Equal(t, "hybrid+rerank", res.Method)
	// fakeReranker 偏好短文本
	require.Len(t, res.Passages, 2)
	assert.Equal(t, "sop-cafe0001-0", res.Passages[0].ID)
}

func TestRetrieve_RerankFailureFallsBack(t *testing.T) {
	vs := newFakeStore()
	seedChunk(t, vs, "sop-dead0001", "spindle alignment", nil)

	r := NewRetriever(vs, &fakeEmbedder{}, &fakeReranker{fail: true})
	res, err := r.Retrieve(context.Background(), RetrieveInput{Query: "spindle", TopK: 1, Rerank: true})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", res.Method)
	require.Len(t, res.Passages, 1)
}
