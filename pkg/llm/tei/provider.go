// Package tei 提供 Text Embeddings Inference 风格的交叉编码重排供应商。
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/kart-io/shopfloor-copilot/pkg/llm"
)

const ProviderName = "tei"

func init() {
	llm.RegisterRerankProvider(ProviderName, NewRerankProvider)
}

// Config TEI 重排供应商配置。
type Config struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8085",
		Timeout: 30 * time.Second,
	}
}

// Provider TEI 重排供应商实现。
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewRerankProvider 从配置 map 创建重排供应商。
func NewRerankProvider(configMap map[string]any) (llm.RerankProvider, error) {
	cfg := DefaultConfig()
	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建重排供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// rerankRequest TEI rerank API 请求体。
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// Rerank 对候选文本按与查询的相关性打分，结果按分数降序。
func (p *Provider) Rerank(ctx context.Context, query string, texts []string) ([]llm.RerankResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("请求失败，状态码 %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var results []llm.RerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}
