package copilot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/biz"
	"github.com/kart-io/shopfloor-copilot/internal/copilot/handler"
	"github.com/kart-io/shopfloor-copilot/internal/copilot/router"
	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/evidence"
	"github.com/kart-io/shopfloor-copilot/internal/plant/expectation"
	"github.com/kart-io/shopfloor-copilot/internal/plant/historian"
	"github.com/kart-io/shopfloor-copilot/internal/plant/opcbridge"
	"github.com/kart-io/shopfloor-copilot/internal/plant/scenario"
	"github.com/kart-io/shopfloor-copilot/internal/plant/semantic"
	"github.com/kart-io/shopfloor-copilot/pkg/component/milvus"
	"github.com/kart-io/shopfloor-copilot/pkg/llm"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	dbopts "github.com/kart-io/shopfloor-copilot/pkg/options/database"

	// 注册 LLM 供应商
	_ "github.com/kart-io/shopfloor-copilot/pkg/llm/ollama"
	_ "github.com/kart-io/shopfloor-copilot/pkg/llm/tei"
)

const serviceName = "shopfloor-copilot"

// Run 按配置组装并运行服务，直到 ctx 取消。
func Run(ctx context.Context, opts *Options) error {
	// 1. 日志
	opts.Log.AddInitialField("service.name", serviceName)
	if err := log.Init(opts.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	log.Infow("starting shopfloor copilot", "addr", opts.Addr, "profile", opts.Plant.Profile)

	// 2. 关系库
	db, err := openDatabase(opts.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(
		&model.Violation{}, &model.ViolationAck{},
		&model.OpcKpiSample{}, &model.OpcStationSample{}, &model.OpcEvent{},
		&model.MaterialInstance{}, &model.StationAuthorization{},
		&model.ToolingStatus{}, &model.OperatorCert{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Infow("database ready", "driver", opts.Database.Driver)

	// 3. 向量库
	milvusClient, err := milvus.New(opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to connect milvus: %w", err)
	}
	defer milvusClient.Close(context.Background())

	vectorStore := store.NewMilvusStore(milvusClient, opts.RAG.Collection)
	if err := vectorStore.EnsureCollection(ctx, opts.RAG.EmbeddingDim); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	log.Infow("vector store ready", "collection", opts.RAG.Collection, "dim", opts.RAG.EmbeddingDim)

	// 4. LLM 供应商
	embedder, generator, reranker, err := buildProviders(opts.LLM)
	if err != nil {
		return err
	}

	// 5. 车间模拟器
	modelCfg, err := plant.LoadModel(opts.Plant.ModelPath)
	if err != nil {
		return err
	}
	state := plant.New(modelCfg)

	engine, err := scenario.Load(opts.Plant.ScenarioPath)
	if err != nil {
		return err
	}
	monitor := scenario.NewMonitor(engine, state)
	go monitor.Run(ctx)

	if opts.Plant.ProductionTick > 0 {
		go runProduction(ctx, state, opts.Plant.ProductionTick)
	}

	// 6. 历史库写入器
	pool, err := ants.NewPool(opts.Historian.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return fmt.Errorf("failed to create historian pool: %w", err)
	}
	defer pool.Release()

	telemetryStore := store.NewTelemetryStore(db)
	hist := historian.New(state, telemetryStore, pool, opts.Historian.Interval, opts.Historian.Enabled)
	go hist.Run(ctx)

	// 7. 语义层与物料证据
	var mapper *semantic.Mapper
	if opts.Plant.SemanticPath != "" {
		semCfg, err := semantic.LoadConfig(opts.Plant.SemanticPath)
		if err != nil {
			return err
		}
		mapper = semantic.New(semCfg, opts.Plant.SemanticPath)
		go func() {
			if err := mapper.Watch(ctx); err != nil {
				log.Warnw("semantic config watcher stopped", "error", err)
			}
		}()
	}
	provider := evidence.NewProvider(store.NewEvidenceStore(db))

	// 8. 合规评估
	violationStore := store.NewViolationStore(db)
	if opts.Plant.Profile != "" {
		evaluator := expectation.NewEvaluator(opts.Plant.Profile, state, provider, violationStore, opts.Plant.EvalInterval)
		go evaluator.Run(ctx)
		log.Infow("compliance evaluator running", "profile", opts.Plant.Profile, "interval", opts.Plant.EvalInterval)
	}

	// 9. OPC UA 桥
	if opts.OPC.Enabled {
		bridge, err := opcbridge.New(state, opcbridge.Options{Host: opts.OPC.Host, Port: opts.OPC.Port})
		if err != nil {
			return fmt.Errorf("failed to build opc bridge: %w", err)
		}
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Errorw("opc bridge stopped", "error", err)
			}
		}()
		log.Infow("opc ua bridge listening", "host", opts.OPC.Host, "port", opts.OPC.Port)
	}

	// 10. 业务层与 HTTP
	var cache *biz.QueryCache
	if opts.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Cache.Addr,
			Password: opts.Cache.Password,
			DB:       opts.Cache.Database,
		})
		defer client.Close()
		cache = biz.NewQueryCache(client, opts.Cache.TTL)
	}

	svc := biz.NewService(
		biz.NewRetriever(vectorStore, embedder, reranker),
		biz.NewComposer(generator),
		biz.NewIngestor(vectorStore, embedder),
		cache,
		state,
	)

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery(), accessLog())
	router.Register(ginEngine,
		handler.NewCopilotHandler(svc),
		handler.NewViolationHandler(violationStore),
		handler.NewPlantHandler(state, modelCfg, engine, hist, mapper, provider),
	)

	return serveHTTP(ctx, opts, ginEngine)
}

// openDatabase 按驱动打开关系库并配置连接池。
func openDatabase(opts *dbopts.Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case dbopts.DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case dbopts.DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case dbopts.DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)
	return db, nil
}

// buildProviders 通过注册表构建三个 LLM 供应商。
func buildProviders(opts *LLMOptions) (llm.EmbeddingProvider, llm.GenerationProvider, llm.RerankProvider, error) {
	embedder, err := llm.NewEmbeddingProvider(opts.EmbeddingProvider, map[string]any{
		"base_url":    opts.EmbeddingBaseURL,
		"embed_model": opts.EmbeddingModel,
		"timeout":     opts.Timeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build embedding provider: %w", err)
	}

	generator, err := llm.NewGenerationProvider(opts.GenerationProvider, map[string]any{
		"base_url":       opts.GenerationBaseURL,
		"generate_model": opts.GenerationModel,
		"timeout":        opts.Timeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build generation provider: %w", err)
	}

	var reranker llm.RerankProvider
	if opts.RerankProvider != "" {
		reranker, err = llm.NewRerankProvider(opts.RerankProvider, map[string]any{
			"base_url": opts.RerankBaseURL,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build rerank provider: %w", err)
		}
	}
	return embedder, generator, reranker, nil
}

// runProduction 周期推进好件/坏件计数。
func runProduction(ctx context.Context, state *plant.State, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.AdvanceProduction()
		}
	}
}

// accessLog 结构化访问日志中间件。
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// serveHTTP 运行 HTTP 服务器并在 ctx 取消时优雅停机。
func serveHTTP(ctx context.Context, opts *Options, engine *gin.Engine) error {
	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Infow("http server listening", "addr", opts.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	log.Infow("shutting down")
	return srv.Shutdown(shutdownCtx)
}
