// Package llm 提供统一的模型供应商抽象层。
// Embedding、生成和重排可以由不同的供应商承担。
package llm

import (
	"context"
	"fmt"
	"sync"
)

// EmbeddingProvider 定义 Embedding 供应商接口。
// 返回的向量已做 L2 归一化，余弦相似度可直接用点积计算。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string
}

// GenerateOptions 生成参数。
type GenerateOptions struct {
	System      string
	Temperature float64
}

// GenerationProvider 定义文本生成供应商接口。
type GenerationProvider interface {
	// Generate 根据提示生成文本（单轮）。
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream 流式生成，每个增量片段调用一次 fn。
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, fn func(delta string) error) error

	// Model 返回当前使用的模型名称。
	Model() string

	// Name 返回供应商名称。
	Name() string
}

// RerankResult 重排结果中的一项。
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// RerankProvider 定义交叉编码重排供应商接口。
type RerankProvider interface {
	// Rerank 对候选文本按与查询的相关性打分。
	// 返回结果按分数降序排列，Index 指向 texts 中的位置。
	Rerank(ctx context.Context, query string, texts []string) ([]RerankResult, error)

	// Name 返回供应商名称。
	Name() string
}

// EmbeddingProviderFactory Embedding 供应商工厂函数类型。
type EmbeddingProviderFactory func(config map[string]any) (EmbeddingProvider, error)

// GenerationProviderFactory 生成供应商工厂函数类型。
type GenerationProviderFactory func(config map[string]any) (GenerationProvider, error)

// RerankProviderFactory 重排供应商工厂函数类型。
type RerankProviderFactory func(config map[string]any) (RerankProvider, error)

// registry 供应商注册表。
var registry = &providerRegistry{
	embeddingProviders:  make(map[string]EmbeddingProviderFactory),
	generationProviders: make(map[string]GenerationProviderFactory),
	rerankProviders:     make(map[string]RerankProviderFactory),
}

type providerRegistry struct {
	mu                  sync.RWMutex
	embeddingProviders  map[string]EmbeddingProviderFactory
	generationProviders map[string]GenerationProviderFactory
	rerankProviders     map[string]RerankProviderFactory
}

// RegisterEmbeddingProvider 注册 Embedding 供应商工厂。
func RegisterEmbeddingProvider(name string, factory EmbeddingProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.embeddingProviders[name] = factory
}

// RegisterGenerationProvider 注册生成供应商工厂。
func RegisterGenerationProvider(name string, factory GenerationProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.generationProviders[name] = factory
}

// RegisterRerankProvider 注册重排供应商工厂。
func RegisterRerankProvider(name string, factory RerankProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.rerankProviders[name] = factory
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.embeddingProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	return factory(config)
}

// NewGenerationProvider 根据名称创建生成供应商实例。
func NewGenerationProvider(name string, config map[string]any) (GenerationProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.generationProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown generation provider: %s", name)
	}
	return factory(config)
}

// NewRerankProvider 根据名称创建重排供应商实例。
func NewRerankProvider(name string, config map[string]any) (RerankProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.rerankProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown rerank provider: %s", name)
	}
	return factory(config)
}

// ListProviders 列出所有已注册的供应商名称。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string

	for name := range registry.embeddingProviders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range registry.generationProviders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range registry.rerankProviders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}
