// Package handler 提供 copilot 服务的 HTTP 入口。
package handler

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/biz"
	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/pkg/httputils"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/json"
)

// maxUploadBytes 单个上传文档的大小上限。
const maxUploadBytes = 32 << 20

// CopilotHandler 问答与文档摄取接口。
type CopilotHandler struct {
	svc *biz.Service
}

// NewCopilotHandler 创建问答处理器。
func NewCopilotHandler(svc *biz.Service) *CopilotHandler {
	return &CopilotHandler{svc: svc}
}

// IngestStats 摄取统计。
type IngestStats struct {
	DocID    string         `json:"doc_id"`
	Chunks   int            `json:"chunks"`
	Metadata map[string]any `json:"metadata"`
}

// IngestResponse 摄取响应。
type IngestResponse struct {
	OK    bool        `json:"ok"`
	Stats IngestStats `json:"stats"`
}

// Ingest 接收 multipart 文档并入库。
// 表单字段：app、doctype、file 必填，其余为可选的范围元数据。
func (h *CopilotHandler) Ingest(c *gin.Context) {
	app := c.PostForm("app")
	doctype := c.PostForm("doctype")
	if app == "" || doctype == "" {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage("app and doctype are required"), nil)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage("file is required"), nil)
		return
	}
	if fh.Size > maxUploadBytes {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage("file too large"), nil)
		return
	}

	f, err := fh.Open()
	if err != nil {
		httputils.WriteResponse(c, errors.ErrIngestFailed.WithCause(err), nil)
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		httputils.WriteResponse(c, errors.ErrIngestFailed.WithCause(err), nil)
		return
	}

	result, err := h.svc.Ingestor().Ingest(c.Request.Context(), biz.IngestInput{
		App:       app,
		Doctype:   doctype,
		Filename:  fh.Filename,
		Raw:       raw,
		Plant:     c.PostForm("plant"),
		Line:      c.PostForm("line"),
		Station:   c.PostForm("station"),
		Turno:     c.PostForm("turno"),
		Rev:       c.PostForm("rev"),
		ValidFrom: c.PostForm("valid_from"),
		ValidTo:   c.PostForm("valid_to"),
		SafetyTag: c.PostForm("safety_tag"),
		Lang:      c.PostForm("lang"),
		SourceURL: c.PostForm("source_url"),
		DocTitle:  c.PostForm("doc_title"),
		Profile:   c.PostForm("profile"),
	})
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	httputils.WriteResponse(c, nil, IngestResponse{
		OK:    true,
		Stats: IngestStats{DocID: result.DocID, Chunks: result.Chunks, Metadata: result.Metadata},
	})
}

// EnrichRequest 已入库文档的元数据补写请求。
type EnrichRequest struct {
	DocID         string `json:"doc_id" binding:"required"`
	Profile       string `json:"profile"`
	OriginalDocID string `json:"original_doc_id"`
}

// Enrich 给已入库文档的全部块补写 profile / original_doc_id 元数据。
func (h *CopilotHandler) Enrich(c *gin.Context) {
	var req EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}
	if req.Profile == "" && req.OriginalDocID == "" {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage("nothing to enrich"), nil)
		return
	}

	chunks, err := h.svc.Ingestor().Enrich(c.Request.Context(), req.DocID, req.Profile, req.OriginalDocID)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"ok": true, "chunks": chunks})
}

// AskRequest 非生成式问答请求。
type AskRequest struct {
	App     string            `json:"app" binding:"required"`
	Query   string            `json:"query" binding:"required"`
	Filters map[string]string `json:"filters"`
	TopK    int               `json:"top_k"`
	Rerank  bool              `json:"rerank"`
}

// Ask 混合检索问答，返回段落与引用，不调用生成模型。
func (h *CopilotHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}

	filter, err := toChunkFilter(req.Filters)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	result, err := h.svc.Ask(c.Request.Context(), biz.AskInput{
		App:    req.App,
		Query:  req.Query,
		Filter: filter,
		TopK:   req.TopK,
		Rerank: req.Rerank,
	})
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, result)
}

// AskLLMRequest 生成式问答请求。
type AskLLMRequest struct {
	AskRequest
	Role        string  `json:"role"`
	Temperature float64 `json:"temperature"`
	UseLLM      *bool   `json:"use_llm"`
	WithRuntime bool    `json:"with_runtime"`
	Stream      bool    `json:"stream"`
}

// AskLLM 生成式问答。use_llm 缺省为真，stream 为真时以 NDJSON 增量推送。
func (h *CopilotHandler) AskLLM(c *gin.Context) {
	var req AskLLMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}

	filter, err := toChunkFilter(req.Filters)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	useLLM := true
	if req.UseLLM != nil {
		useLLM = *req.UseLLM
	}
	in := biz.AskLLMInput{
		AskInput: biz.AskInput{
			App:    req.App,
			Query:  req.Query,
			Filter: filter,
			TopK:   req.TopK,
			Rerank: req.Rerank,
		},
		Role:        req.Role,
		Temperature: req.Temperature,
		UseLLM:      useLLM,
		WithRuntime: req.WithRuntime,
	}

	if req.Stream && useLLM {
		h.streamAnswer(c, in)
		return
	}

	result, err := h.svc.AskLLM(c.Request.Context(), in)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, result)
}

func (h *CopilotHandler) streamAnswer(c *gin.Context, in biz.AskLLMInput) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")

	flusher := c.Writer
	err := h.svc.AskLLMStream(c.Request.Context(), in, func(delta string) error {
		line, merr := streamLine(delta, false)
		if merr != nil {
			return merr
		}
		if _, werr := flusher.Write(line); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	line, _ := streamLine("", true)
	_, _ = flusher.Write(line)
	flusher.Flush()
}

type streamChunk struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done"`
}

func streamLine(delta string, done bool) ([]byte, error) {
	b, err := json.Marshal(streamChunk{Delta: delta, Done: done})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// toChunkFilter 把请求过滤映射为块过滤并即时校验字段名。
func toChunkFilter(filters map[string]string) (store.ChunkFilter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	filter := make(store.ChunkFilter, len(filters))
	for k, v := range filters {
		if strings.TrimSpace(v) == "" {
			continue
		}
		filter[k] = v
	}
	if _, err := filter.Expr(); err != nil {
		return nil, errors.ErrInvalidRequest.WithMessage(err.Error())
	}
	return filter, nil
}
