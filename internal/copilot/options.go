// Package copilot 组装车间 copilot 服务：RAG 问答、遥测模拟器、
// OPC UA 桥、合规评估与违规台账。
package copilot

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/options"
	dbopts "github.com/kart-io/shopfloor-copilot/pkg/options/database"
	milvusopts "github.com/kart-io/shopfloor-copilot/pkg/options/milvus"
)

var _ options.IOptions = (*Options)(nil)

// Options copilot 服务的全部配置。
type Options struct {
	// Addr HTTP 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// ShutdownTimeout 优雅停机超时。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`

	Log      *log.Options        `json:"log" mapstructure:"log"`
	Database *dbopts.Options     `json:"database" mapstructure:"database"`
	Milvus   *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	LLM       *LLMOptions       `json:"llm" mapstructure:"llm"`
	RAG       *RAGOptions       `json:"rag" mapstructure:"rag"`
	Cache     *CacheOptions     `json:"cache" mapstructure:"cache"`
	Plant     *PlantOptions     `json:"plant" mapstructure:"plant"`
	Historian *HistorianOptions `json:"historian" mapstructure:"historian"`
	OPC       *OPCOptions       `json:"opc" mapstructure:"opc"`
}

// LLMOptions 嵌入、生成与重排端点配置。
type LLMOptions struct {
	// EmbeddingProvider 嵌入供应商名称（当前注册了 ollama）。
	EmbeddingProvider string `json:"embedding-provider" mapstructure:"embedding-provider"`
	EmbeddingBaseURL  string `json:"embedding-base-url" mapstructure:"embedding-base-url"`
	EmbeddingModel    string `json:"embedding-model" mapstructure:"embedding-model"`

	GenerationProvider string `json:"generation-provider" mapstructure:"generation-provider"`
	GenerationBaseURL  string `json:"generation-base-url" mapstructure:"generation-base-url"`
	GenerationModel    string `json:"generation-model" mapstructure:"generation-model"`

	// RerankProvider 重排供应商名称，空串禁用重排。
	RerankProvider string `json:"rerank-provider" mapstructure:"rerank-provider"`
	RerankBaseURL  string `json:"rerank-base-url" mapstructure:"rerank-base-url"`

	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// RAGOptions 检索与摄取配置。
type RAGOptions struct {
	// Collection Milvus 集合名。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// TopK 默认返回的段落数。
	TopK int `json:"top-k" mapstructure:"top-k"`

	// ChunkMaxLen 切片窗口长度（字符）。
	ChunkMaxLen int `json:"chunk-max-len" mapstructure:"chunk-max-len"`
}

// CacheOptions 查询缓存配置。Enabled 为假时缓存整体退化为直通。
type CacheOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" mapstructure:"addr"`
	Password string        `json:"password" mapstructure:"password"`
	Database int           `json:"database" mapstructure:"database"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
}

// PlantOptions 车间模拟器配置。
type PlantOptions struct {
	// ModelPath 车间模型 YAML。
	ModelPath string `json:"model-path" mapstructure:"model-path"`

	// ScenarioPath 场景模板目录 YAML。
	ScenarioPath string `json:"scenario-path" mapstructure:"scenario-path"`

	// SemanticPath 语义映射 YAML，空串禁用语义层。
	SemanticPath string `json:"semantic-path" mapstructure:"semantic-path"`

	// Profile 合规画像：aerospace、pharma 或 automotive，空串禁用评估。
	Profile string `json:"profile" mapstructure:"profile"`

	// EvalInterval 合规评估周期。
	EvalInterval time.Duration `json:"eval-interval" mapstructure:"eval-interval"`

	// ProductionTick 产量推进周期，0 禁用。
	ProductionTick time.Duration `json:"production-tick" mapstructure:"production-tick"`
}

// HistorianOptions 历史库写入配置。
type HistorianOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// PoolSize 异步写入协程池大小。
	PoolSize int `json:"pool-size" mapstructure:"pool-size"`
}

// OPCOptions OPC UA 桥配置。
type OPCOptions struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// NewOptions 返回带默认值的配置。
func NewOptions() *Options {
	return &Options{
		Addr:            ":8090",
		ShutdownTimeout: 30 * time.Second,
		Log:             log.NewOptions(),
		Database:        dbopts.NewOptions(),
		Milvus:          milvusopts.NewOptions(),
		LLM: &LLMOptions{
			EmbeddingProvider:  "ollama",
			EmbeddingBaseURL:   "http://localhost:11434",
			EmbeddingModel:     "nomic-embed-text",
			GenerationProvider: "ollama",
			GenerationBaseURL:  "http://localhost:11434",
			GenerationModel:    "qwen2.5:7b",
			RerankProvider:     "tei",
			RerankBaseURL:      "http://localhost:8085",
			Timeout:            120 * time.Second,
		},
		RAG: &RAGOptions{
			Collection:   "shopfloor_docs",
			EmbeddingDim: 768,
			TopK:         5,
			ChunkMaxLen:  900,
		},
		Cache: &CacheOptions{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Plant: &PlantOptions{
			ModelPath:      "configs/plant-model.yaml",
			ScenarioPath:   "configs/scenario-templates.yaml",
			SemanticPath:   "configs/semantic-mapping.yaml",
			Profile:        "automotive",
			EvalInterval:   15 * time.Second,
			ProductionTick: time.Second,
		},
		Historian: &HistorianOptions{
			Enabled:  true,
			Interval: 5 * time.Second,
			PoolSize: 8,
		},
		OPC: &OPCOptions{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    4840,
		},
	}
}

// AddFlags 注册全部命令行参数。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "addr", o.Addr, "HTTP listen address.")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")

	fs.StringVar(&o.Log.Level, "log.level", o.Log.Level, "Minimum log level: debug, info, warn, error.")
	fs.StringVar(&o.Log.Format, "log.format", o.Log.Format, "Log encoder format: json or console.")

	o.Database.AddFlags(fs, prefixes...)
	o.Milvus.AddFlags(fs, prefixes...)

	fs.StringVar(&o.LLM.EmbeddingProvider, "llm.embedding-provider", o.LLM.EmbeddingProvider, "Embedding provider name.")
	fs.StringVar(&o.LLM.EmbeddingBaseURL, "llm.embedding-base-url", o.LLM.EmbeddingBaseURL, "Embedding endpoint base URL.")
	fs.StringVar(&o.LLM.EmbeddingModel, "llm.embedding-model", o.LLM.EmbeddingModel, "Embedding model name.")
	fs.StringVar(&o.LLM.GenerationProvider, "llm.generation-provider", o.LLM.GenerationProvider, "Generation provider name.")
	fs.StringVar(&o.LLM.GenerationBaseURL, "llm.generation-base-url", o.LLM.GenerationBaseURL, "Generation endpoint base URL.")
	fs.StringVar(&o.LLM.GenerationModel, "llm.generation-model", o.LLM.GenerationModel, "Generation model name.")
	fs.StringVar(&o.LLM.RerankProvider, "llm.rerank-provider", o.LLM.RerankProvider, "Rerank provider name (empty disables reranking).")
	fs.StringVar(&o.LLM.RerankBaseURL, "llm.rerank-base-url", o.LLM.RerankBaseURL, "Rerank endpoint base URL.")
	fs.DurationVar(&o.LLM.Timeout, "llm.timeout", o.LLM.Timeout, "LLM request timeout.")

	fs.StringVar(&o.RAG.Collection, "rag.collection", o.RAG.Collection, "Milvus collection name.")
	fs.IntVar(&o.RAG.EmbeddingDim, "rag.embedding-dim", o.RAG.EmbeddingDim, "Embedding vector dimension.")
	fs.IntVar(&o.RAG.TopK, "rag.top-k", o.RAG.TopK, "Default number of passages to return.")
	fs.IntVar(&o.RAG.ChunkMaxLen, "rag.chunk-max-len", o.RAG.ChunkMaxLen, "Chunk window length in characters.")

	fs.BoolVar(&o.Cache.Enabled, "cache.enabled", o.Cache.Enabled, "Enable the Redis query cache.")
	fs.StringVar(&o.Cache.Addr, "cache.addr", o.Cache.Addr, "Redis address (host:port).")
	fs.StringVar(&o.Cache.Password, "cache.password", o.Cache.Password, "Redis password.")
	fs.IntVar(&o.Cache.Database, "cache.database", o.Cache.Database, "Redis database number.")
	fs.DurationVar(&o.Cache.TTL, "cache.ttl", o.Cache.TTL, "Query cache TTL.")

	fs.StringVar(&o.Plant.ModelPath, "plant.model-path", o.Plant.ModelPath, "Plant model YAML path.")
	fs.StringVar(&o.Plant.ScenarioPath, "plant.scenario-path", o.Plant.ScenarioPath, "Scenario template catalogue YAML path.")
	fs.StringVar(&o.Plant.SemanticPath, "plant.semantic-path", o.Plant.SemanticPath, "Semantic mapping YAML path (empty disables).")
	fs.StringVar(&o.Plant.Profile, "plant.profile", o.Plant.Profile, "Compliance profile: aerospace, pharma or automotive (empty disables).")
	fs.DurationVar(&o.Plant.EvalInterval, "plant.eval-interval", o.Plant.EvalInterval, "Compliance evaluation interval.")
	fs.DurationVar(&o.Plant.ProductionTick, "plant.production-tick", o.Plant.ProductionTick, "Production counter advance interval (0 disables).")

	fs.BoolVar(&o.Historian.Enabled, "historian.enabled", o.Historian.Enabled, "Enable telemetry persistence.")
	fs.DurationVar(&o.Historian.Interval, "historian.interval", o.Historian.Interval, "Historian sampling interval.")
	fs.IntVar(&o.Historian.PoolSize, "historian.pool-size", o.Historian.PoolSize, "Historian writer pool size.")

	fs.BoolVar(&o.OPC.Enabled, "opc.enabled", o.OPC.Enabled, "Enable the OPC UA bridge.")
	fs.StringVar(&o.OPC.Host, "opc.host", o.OPC.Host, "OPC UA bind host.")
	fs.IntVar(&o.OPC.Port, "opc.port", o.OPC.Port, "OPC UA bind port.")
}

// Validate 校验配置并套用 COPILOT_* 环境变量覆盖。
func (o *Options) Validate() []error {
	o.applyEnv()

	var errs []error
	if err := o.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.Database.Validate()...)
	errs = append(errs, o.Milvus.Validate()...)

	if o.Addr == "" {
		errs = append(errs, fmt.Errorf("addr is required"))
	}
	if o.RAG.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding-dim must be positive"))
	}
	switch o.Plant.Profile {
	case "", "aerospace", "pharma", "automotive":
	default:
		errs = append(errs, fmt.Errorf("unknown compliance profile: %s", o.Plant.Profile))
	}
	if o.Plant.ModelPath == "" {
		errs = append(errs, fmt.Errorf("plant.model-path is required"))
	}
	return errs
}

// applyEnv 环境变量优先于命令行与配置文件。
func (o *Options) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&o.LLM.EmbeddingModel, "COPILOT_EMBEDDING_MODEL")
	setStr(&o.LLM.EmbeddingBaseURL, "COPILOT_EMBEDDING_URL")
	setStr(&o.LLM.GenerationModel, "COPILOT_GENERATION_MODEL")
	setStr(&o.LLM.GenerationBaseURL, "COPILOT_GENERATION_URL")
	setStr(&o.LLM.RerankBaseURL, "COPILOT_RERANK_URL")
	setStr(&o.Milvus.Address, "COPILOT_MILVUS_ADDR")
	setStr(&o.Plant.Profile, "COPILOT_PROFILE")

	if v := os.Getenv("COPILOT_HISTORIAN_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.Historian.Enabled = b
		}
	}
	if v := os.Getenv("COPILOT_HISTORIAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			o.Historian.Interval = d
		}
	}
	if v := os.Getenv("COPILOT_OPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			o.OPC.Port = p
		}
	}
}
