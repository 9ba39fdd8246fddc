// Package bm25 在内存语料上实现 Okapi BM25 打分。
// 语料是检索时按元数据过滤后的结果，每次查询重建索引。
package bm25

import (
	"math"
	"sort"

	"github.com/kart-io/shopfloor-copilot/internal/pkg/rag/textutil"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// Index 一个语料的 BM25 索引。
type Index struct {
	k1        float64
	b         float64
	docTokens [][]string
	docFreq   map[string]int
	avgDocLen float64
}

// New 从文档文本构建索引，分词为小写 + 空白切分。
func New(documents []string) *Index {
	idx := &Index{
		k1:        defaultK1,
		b:         defaultB,
		docFreq:   make(map[string]int),
		docTokens: make([][]string, len(documents)),
	}

	totalLen := 0
	for i, doc := range documents {
		tokens := textutil.Tokenize(doc)
		idx.docTokens[i] = tokens
		totalLen += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				idx.docFreq[tok]++
			}
		}
	}
	if len(documents) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(documents))
	}

	return idx
}

// Len 返回语料中的文档数。
func (idx *Index) Len() int {
	return len(idx.docTokens)
}

// Scores 返回查询对每个文档的 BM25 分数，顺序与构建语料一致。
func (idx *Index) Scores(query string) []float64 {
	scores := make([]float64, len(idx.docTokens))
	queryTokens := textutil.Tokenize(query)
	if len(queryTokens) == 0 || len(idx.docTokens) == 0 {
		return scores
	}

	n := float64(len(idx.docTokens))
	for _, qt := range queryTokens {
		df := idx.docFreq[qt]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))

		for i, tokens := range idx.docTokens {
			tf := 0
			for _, tok := range tokens {
				if tok == qt {
					tf++
				}
			}
			if tf == 0 {
				continue
			}
			docLen := float64(len(tokens))
			norm := idx.k1 * (1 - idx.b + idx.b*docLen/idx.avgDocLen)
			scores[i] += idf * float64(tf) * (idx.k1 + 1) / (float64(tf) + norm)
		}
	}

	return scores
}

// Result 一个打分结果。
type Result struct {
	DocIndex int
	Score    float64
}

// TopN 返回分数最高的 n 个文档，按分数降序，平分时保持语料顺序。
// 分数为 0 的文档不返回。
func (idx *Index) TopN(query string, n int) []Result {
	scores := idx.Scores(query)

	results := make([]Result, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			results = append(results, Result{DocIndex: i, Score: s})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results
}
