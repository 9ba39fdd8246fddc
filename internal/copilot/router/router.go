// Package router 注册 copilot 服务的全部 HTTP 路由。
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/handler"
)

// Register 把处理器挂到 gin 引擎上。
func Register(engine *gin.Engine, copilot *handler.CopilotHandler, violations *handler.ViolationHandler, plant *handler.PlantHandler) {
	engine.GET("/healthz", plant.Healthz)

	// RAG 问答与摄取
	engine.POST("/ingest", copilot.Ingest)
	engine.POST("/ingest/enrich", copilot.Enrich)
	engine.POST("/ask", copilot.Ask)
	engine.POST("/ask/llm", copilot.AskLLM)

	// 车间状态与语义层
	engine.GET("/snapshot", plant.Snapshot)
	engine.GET("/model", plant.Model)
	engine.GET("/semantic/snapshot", plant.SemanticSnapshot)

	// 场景注入
	scenarioGroup := engine.Group("/scenario")
	{
		scenarioGroup.POST("/apply", plant.ScenarioApply)
		scenarioGroup.GET("/templates", plant.ScenarioTemplates)
		scenarioGroup.GET("/taxonomy", plant.ScenarioTaxonomy)
	}

	engine.GET("/historian/status", plant.HistorianStatus)

	// 合规违规
	api := engine.Group("/api")
	{
		v := api.Group("/violations")
		v.GET("/active", violations.Active)
		v.GET("/history", violations.History)
		v.GET("/:id", violations.Get)
		v.GET("/:id/timeline", violations.Timeline)
		v.POST("/:id/ack", violations.Ack)
		v.POST("/:id/resolve", violations.Resolve)
	}
}
