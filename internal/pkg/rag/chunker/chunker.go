// Package chunker 将原始文档（PDF / Markdown / 纯文本）切分为
// 带出处信息的有界长度文本块。
package chunker

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kart-io/shopfloor-copilot/internal/pkg/rag/textutil"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// Chunk 一个带出处的文本块。
type Chunk struct {
	Text     string
	PageFrom int    // 仅 PDF 有效，1 起始；其余为 0
	PageTo   int    // 仅 PDF 有效
	Section  string // 仅 Markdown 有效，最近一个标题
}

// Options 切分参数。
type Options struct {
	MaxLen int // 每块最大字符数，<=0 时取 textutil.DefaultWindowLen
}

// Split 按文件名后缀分发切分逻辑。
// 不支持的后缀返回 ErrUnsupportedFormat。
func Split(filename string, raw []byte, opts Options) ([]Chunk, error) {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = textutil.DefaultWindowLen
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return splitPDF(raw, maxLen)
	case ".md", ".markdown":
		return splitMarkdown(raw, maxLen), nil
	case ".txt", ".text":
		return splitPlain(raw, maxLen), nil
	default:
		return nil, errors.ErrUnsupportedFormat.WithMessagef("unsupported file format: %s", filepath.Ext(filename))
	}
}

// splitPDF 逐页抽取文本，按页窗口切分，page_from = page_to = 页号。
func splitPDF(raw []byte, maxLen int) ([]Chunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.ErrUnsupportedFormat.WithMessage("failed to parse pdf").WithCause(err)
	}

	var chunks []Chunk
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页抽取失败不终止整份文档
			continue
		}
		for _, w := range textutil.WindowSplit(textutil.CollapseWhitespace(text), maxLen) {
			chunks = append(chunks, Chunk{
				Text:     w,
				PageFrom: pageNum,
				PageTo:   pageNum,
			})
		}
	}
	return chunks, nil
}

// splitMarkdown 逐行累积，跟踪最近标题，达到窗口长度后落块。
func splitMarkdown(raw []byte, maxLen int) []Chunk {
	var chunks []Chunk
	var buf strings.Builder
	section := ""

	flush := func() {
		text := textutil.CollapseWhitespace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		for _, w := range textutil.WindowSplit(text, maxLen) {
			chunks = append(chunks, Chunk{Text: w, Section: section})
		}
	}

	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			section = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			continue
		}
		buf.WriteString(line)
		buf.WriteString(" ")
		if buf.Len() >= maxLen {
			flush()
		}
	}
	flush()

	return chunks
}

func splitPlain(raw []byte, maxLen int) []Chunk {
	var chunks []Chunk
	for _, w := range textutil.WindowSplit(textutil.CollapseWhitespace(string(raw)), maxLen) {
		chunks = append(chunks, Chunk{Text: w})
	}
	return chunks
}
