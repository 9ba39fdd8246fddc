// Package textutil 提供检索流水线共用的文本与向量工具。
package textutil

import (
	"math"
	"strings"
)

// DefaultWindowLen 默认切片窗口长度（字符数）。
const DefaultWindowLen = 900

// CollapseWhitespace 将连续空白折叠为单个空格并去除首尾空白。
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize 小写化后按空白切分。
func Tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// WindowSplit 将文本按 rune 切成长度不超过 maxLen 的窗口。
// maxLen <= 0 时使用 DefaultWindowLen。空文本返回空切片。
func WindowSplit(s string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultWindowLen
	}
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}

	windows := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for start := 0; start < len(runes); start += maxLen {
		end := start + maxLen
		if end > len(runes) {
			end = len(runes)
		}
		w := strings.TrimSpace(string(runes[start:end]))
		if w != "" {
			windows = append(windows, w)
		}
	}
	return windows
}

// Normalize 就地做 L2 归一化，零向量保持不变。
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineSimilarity 计算两个向量的余弦相似度。
// 长度不一致或任一为零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
