package expectation

import (
	"context"
	"time"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/evidence"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/json"
)

// DefaultEvalInterval 默认求值周期。
const DefaultEvalInterval = 15 * time.Second

// Evaluator 周期性地对全厂工位求值，把结果写入违规存储：
// 有违背则 upsert，恢复洁净则关闭该工位的活跃违规。
type Evaluator struct {
	profile    string
	state      *plant.State
	provider   *evidence.Provider
	violations *store.ViolationStore
	interval   time.Duration
}

// NewEvaluator 创建求值循环。
func NewEvaluator(profile string, state *plant.State, provider *evidence.Provider, violations *store.ViolationStore, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = DefaultEvalInterval
	}
	return &Evaluator{
		profile:    profile,
		state:      state,
		provider:   provider,
		violations: violations,
		interval:   interval,
	}
}

// Run 阻塞运行直到 ctx 取消。
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep 对全厂做一轮求值。
func (e *Evaluator) Sweep(ctx context.Context) {
	snap := e.state.Snapshot()
	for _, line := range snap.Lines {
		for _, st := range line.Stations {
			e.evaluateStation(ctx, snap, line, st)
		}
	}
}

func (e *Evaluator) evaluateStation(ctx context.Context, snap *plant.Snapshot, line *plant.Line, st *plant.Station) {
	mc := e.provider.GetMaterialContext(ctx, snap.Plant, line.ID, st.ID)

	res, err := Evaluate(e.profile, Input{Line: line, Station: st, Material: mc})
	if err != nil {
		log.Errorw("expectation evaluation failed", "station", st.ID, "error", err)
		return
	}

	if len(res.ViolatedExpectations) == 0 {
		if n, err := e.violations.CloseByStation(ctx, st.ID); err != nil {
			log.Warnw("failed to close station violations", "station", st.ID, "error", err)
		} else if n > 0 {
			log.Infow("station back in compliance", "station", st.ID, "closed", n)
		}
		return
	}

	materialRef, _ := json.Marshal(mc)
	snapshotRef, _ := json.Marshal(map[string]any{
		"line":    line.ID,
		"station": st.ID,
		"state":   st.State,
		"oee":     line.OEE,
		"alarms":  st.Alarms,
	})

	vid, created, err := e.violations.Upsert(ctx, store.UpsertInput{
		Profile:                   e.profile,
		Plant:                     snap.Plant,
		Line:                      line.ID,
		Station:                   st.ID,
		Severity:                  res.Severity,
		RequiresHumanConfirmation: res.RequiresHumanConfirmation,
		ViolatedExpectations:      res.ViolatedExpectations,
		BlockingConditions:        res.BlockingConditions,
		Warnings:                  res.Warnings,
		MaterialRef:               string(materialRef),
		SnapshotRef:               string(snapshotRef),
	})
	if err != nil {
		log.Warnw("failed to upsert violation", "station", st.ID, "error", err)
		return
	}
	if created {
		log.Infow("violation opened", "violation_id", vid, "station", st.ID,
			"severity", res.Severity, "blocking", res.BlockingConditions)
	}
}
