package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/shopfloor-copilot/pkg/llm"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
)

// maxPassages 进入提示词的最大段落数。
const maxPassages = 5

// RuntimeContextDocID 运行时上下文哨兵段落的 doc_id。
const RuntimeContextDocID = "RUNTIME_CONTEXT"

// 提问角色。
const (
	RoleOperator       = "operator"
	RoleLineManager    = "line_manager"
	RoleQualityManager = "quality_manager"
	RolePlantManager   = "plant_manager"
)

// systemPrompts 角色 → 系统提示词。
var systemPrompts = map[string]string{
	RoleOperator: "You are a shop-floor assistant for machine operators. " +
		"Answer with concrete, step-by-step instructions. Keep answers short and practical. " +
		"Always mention safety precautions when relevant.",
	RoleLineManager: "You are an assistant for production line managers. " +
		"Focus on line performance, throughput, bottlenecks and resource allocation. " +
		"Quantify impact where the context allows.",
	RoleQualityManager: "You are an assistant for quality managers. " +
		"Focus on quality procedures, deviations, hold states and compliance requirements. " +
		"Be precise about revision states and approval chains.",
	RolePlantManager: "You are an assistant for plant managers. " +
		"Summarize at plant level: KPIs, trends and cross-line issues. " +
		"Prefer aggregated views over single-station detail.",
}

// Answer 合成结果。
type Answer struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
	Done   bool   `json:"done"`
}

// Composer 答案合成器：把检索段落拼装为提示词并调用生成模型。
type Composer struct {
	generator llm.GenerationProvider
}

// NewComposer 创建答案合成器。
func NewComposer(generator llm.GenerationProvider) *Composer {
	return &Composer{generator: generator}
}

// Compose 合成答案。生成失败不上抛，返回 model="error" 的降级答案。
func (c *Composer) Compose(ctx context.Context, query string, passages []Passage, role string, temperature float64) *Answer {
	system, prompt := c.buildPrompts(query, passages, role)

	text, err := c.generator.Generate(ctx, prompt, llm.GenerateOptions{
		System:      system,
		Temperature: temperature,
	})
	if err != nil {
		log.Warnw("generation failed", "error", err)
		return &Answer{
			Answer: fmt.Sprintf("LLM generation failed: %v. The retrieved passages are still available as citations.", err),
			Model:  "error",
			Done:   true,
		}
	}
	return &Answer{Answer: text, Model: c.generator.Model(), Done: true}
}

// ComposeStream 流式合成，增量片段逐个交给 fn。
// 传输失败通过 fn 推送降级文本，同样不上抛。
func (c *Composer) ComposeStream(ctx context.Context, query string, passages []Passage, role string, temperature float64, fn func(delta string) error) {
	system, prompt := c.buildPrompts(query, passages, role)

	err := c.generator.GenerateStream(ctx, prompt, llm.GenerateOptions{
		System:      system,
		Temperature: temperature,
	}, fn)
	if err != nil {
		log.Warnw("streaming generation failed", "error", err)
		_ = fn(fmt.Sprintf("\n[LLM generation failed: %v]", err))
	}
}

// buildPrompts 构建系统与用户提示词。最多取前五个段落；
// 首段是运行时上下文哨兵时改用带护栏的提示词形态。
func (c *Composer) buildPrompts(query string, passages []Passage, role string) (system, prompt string) {
	system, ok := systemPrompts[role]
	if !ok {
		system = systemPrompts[RoleOperator]
	}

	if len(passages) > maxPassages {
		passages = passages[:maxPassages]
	}

	if len(passages) > 0 && docID(passages[0]) == RuntimeContextDocID {
		return system, runtimePrompt(query, passages[0], passages[1:])
	}
	return system, knowledgePrompt(query, passages)
}

func knowledgePrompt(query string, passages []Passage) string {
	var b strings.Builder
	b.WriteString("Context from knowledge base:\n\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "[%s] %s\n\n", docID(p), p.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer based on the context above. Cite sources with [doc_id].")
	return b.String()
}

func runtimePrompt(query string, runtime Passage, rest []Passage) string {
	var b strings.Builder
	b.WriteString("RUNTIME CONTEXT (live plant data):\n\n")
	b.WriteString(runtime.Text)
	b.WriteString("\n\n")

	if len(rest) > 0 {
		b.WriteString("Knowledge Base Context:\n\n")
		for _, p := range rest {
			fmt.Fprintf(&b, "[%s] %s\n\n", docID(p), p.Text)
		}
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nRules:\n")
	b.WriteString("1. Only reference line, station and order identifiers that appear in the RUNTIME CONTEXT block.\n")
	b.WriteString("2. If the runtime data is unavailable or incomplete, say so explicitly.\n")
	b.WriteString("3. For questions about current status, prefer the RUNTIME CONTEXT over the knowledge base.\n")
	b.WriteString("4. Cite sources with [doc_id] or [RUNTIME_CONTEXT].")
	return b.String()
}

func docID(p Passage) string {
	if v, ok := p.Metadata["doc_id"].(string); ok && v != "" {
		return v
	}
	return p.ID
}
