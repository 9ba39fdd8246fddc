package scenario

import (
	"context"
	"time"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
)

// monitorInterval 过期检查周期。
const monitorInterval = 10 * time.Second

// Monitor 周期性关闭过期场景并恢复受影响产线的基线 KPI。
type Monitor struct {
	engine *Engine
	state  *plant.State
}

// NewMonitor 创建过期监控。
func NewMonitor(engine *Engine, state *plant.State) *Monitor {
	return &Monitor{engine: engine, state: state}
}

// Run 阻塞运行直到 ctx 取消。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Monitor) sweep(now time.Time) {
	for _, line := range m.engine.ExpireDue(now) {
		if err := m.state.RestoreBaseline(line); err != nil {
			log.Warnw("failed to restore line baseline", "line", line, "error", err)
			continue
		}
		log.Infow("scenario expired, baseline restored", "line", line)
	}
}
