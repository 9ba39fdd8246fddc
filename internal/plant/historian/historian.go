// Package historian 周期性把车间快照落到关系库：
// 每条产线一行 KPI 采样、每个工位一行状态采样，单事务每拍。
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/id"
)

// DefaultInterval 默认采样周期。
const DefaultInterval = 5 * time.Second

// Historian 遥测归档器。
type Historian struct {
	state    *plant.State
	store    *store.TelemetryStore
	pool     *ants.Pool
	interval time.Duration

	mu        sync.RWMutex
	enabled   bool
	lastTick  time.Time
	tickCount int64
	lastError string
}

// New 创建归档器。pool 为共享工作池，落库在池中执行，
// 让采样循环不被慢写阻塞。
func New(state *plant.State, ts *store.TelemetryStore, pool *ants.Pool, interval time.Duration, enabled bool) *Historian {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Historian{
		state:    state,
		store:    ts,
		pool:     pool,
		interval: interval,
		enabled:  enabled,
	}
}

// Run 阻塞运行采样循环直到 ctx 取消。单拍失败记录 last_error
// 并继续，时钟照常推进。
func (h *Historian) Run(ctx context.Context) {
	if !h.enabled {
		log.Infow("historian disabled")
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.tick(ctx, now)
		}
	}
}

func (h *Historian) tick(ctx context.Context, now time.Time) {
	snap := h.state.Snapshot()

	var kpis []model.OpcKpiSample
	var stations []model.OpcStationSample
	for _, line := range snap.Lines {
		kpis = append(kpis, model.OpcKpiSample{
			Ts:           now,
			Plant:        snap.Plant,
			Line:         line.ID,
			OEE:          line.OEE,
			Availability: line.Availability,
			Performance:  line.Performance,
			Quality:      line.Quality,
			Status:       line.Status,
		})
		for _, st := range line.Stations {
			stations = append(stations, model.OpcStationSample{
				Ts:         now,
				Plant:      snap.Plant,
				Line:       line.ID,
				Station:    st.ID,
				State:      st.State,
				CycleTimeS: st.CycleTimeS,
				GoodCount:  st.GoodCount,
				ScrapCount: st.ScrapCount,
				Alarms:     st.Alarms,
			})
		}
	}

	err := h.pool.Submit(func() {
		if err := h.store.WriteTick(ctx, kpis, stations); err != nil {
			h.recordError(err)
			log.Warnw("historian tick failed", "error", err)
			return
		}
		h.recordSuccess(now)
	})
	if err != nil {
		// 池满时丢弃本拍，时钟继续
		h.recordError(err)
		log.Warnw("historian tick dropped", "error", err)
	}
}

// RecordEvent 记录一条离散事件（如场景应用），逐条写入。
// 写库在池中异步执行，可能晚于调用方请求结束，因此脱离
// 调用方 ctx 的取消链，只保留其值。
func (h *Historian) RecordEvent(ctx context.Context, plantID, line, station, eventType, severity string, payload map[string]any) {
	ctx = context.WithoutCancel(ctx)
	event := &model.OpcEvent{
		ID:        id.NewUUID(),
		Ts:        time.Now(),
		Plant:     plantID,
		Line:      line,
		Station:   station,
		EventType: eventType,
		Severity:  severity,
		Payload:   payload,
	}
	err := h.pool.Submit(func() {
		if err := h.store.WriteEvent(ctx, event); err != nil {
			h.recordError(err)
			log.Warnw("failed to record event", "event_type", eventType, "error", err)
		}
	})
	if err != nil {
		h.recordError(err)
	}
}

// Status 归档器运行状态。
type Status struct {
	Enabled   bool   `json:"enabled"`
	IntervalS int    `json:"interval_s"`
	LastTick  string `json:"last_tick,omitempty"`
	TickCount int64  `json:"tick_count"`
	LastError string `json:"last_error,omitempty"`
}

// Status 返回当前运行状态。
func (h *Historian) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Status{
		Enabled:   h.enabled,
		IntervalS: int(h.interval / time.Second),
		TickCount: h.tickCount,
		LastError: h.lastError,
	}
	if !h.lastTick.IsZero() {
		s.LastTick = h.lastTick.Format(time.RFC3339)
	}
	return s
}

func (h *Historian) recordSuccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = now
	h.tickCount++
	h.lastError = ""
}

func (h *Historian) recordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}
