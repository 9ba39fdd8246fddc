package semantic

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/kart-io/shopfloor-copilot/pkg/log"
)

// Watch 监听配置文件变更并热重载，阻塞到 ctx 取消。
// 重载失败时保留旧配置并记录日志。
func (m *Mapper) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := m.Reload(); err != nil {
				log.Warnw("semantic mapping reload failed, keeping previous config", "error", err)
				continue
			}
			log.Infow("semantic mapping reloaded", "path", m.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("semantic mapping watcher error", "error", err)
		}
	}
}
