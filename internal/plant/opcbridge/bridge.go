// Package opcbridge 将车间状态树发布为 OPC UA 地址空间：
// 每条产线一个对象（Status/OEE/Availability/Performance/Quality），
// 每个工位一个对象（State/CycleTime_s/GoodCount/ScrapCount），
// 并以 1 Hz 周期把当前值刷写到所有变量节点。
package opcbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
)

// publishInterval 变量刷写周期。
const publishInterval = time.Second

// Options OPC 桥配置。
type Options struct {
	Host string
	Port int
}

// Bridge OPC UA 桥。
type Bridge struct {
	state   *plant.State
	srv     *server.Server
	objects map[string]*server.Node // 产线与工位对象节点，下标 "L1"、"L1/S10"
	nodes   map[string]*server.Node // 变量节点，下标形如 "L1/OEE"、"L1/S10/State"
}

// New 构建桥并搭建地址空间，不启动服务。
func New(state *plant.State, opts Options) (*Bridge, error) {
	srv := server.New(
		server.EndPoint(opts.Host, opts.Port),
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
		server.EnableAuthMode(ua.UserTokenTypeAnonymous),
	)

	b := &Bridge{
		state:   state,
		srv:     srv,
		objects: make(map[string]*server.Node),
		nodes:   make(map[string]*server.Node),
	}
	if err := b.buildAddressSpace(); err != nil {
		return nil, err
	}
	return b, nil
}

// buildAddressSpace 遍历车间模型：每条产线一个对象节点，
// 每个工位一个挂在产线下的对象节点，变量挂在各自对象下。
func (b *Bridge) buildAddressSpace() error {
	ns := server.NewNodeNameSpace(b.srv, "urn:shopfloor:plant")
	objects := ns.Objects()

	snap := b.state.Snapshot()
	for _, line := range snap.Lines {
		lineObj := b.addObject(ns, objects, line.ID)
		b.addVariable(ns, lineObj, line.ID, "Status", line.Status)
		b.addVariable(ns, lineObj, line.ID, "OEE", line.OEE)
		b.addVariable(ns, lineObj, line.ID, "Availability", line.Availability)
		b.addVariable(ns, lineObj, line.ID, "Performance", line.Performance)
		b.addVariable(ns, lineObj, line.ID, "Quality", line.Quality)

		for _, st := range line.Stations {
			stObj := b.addObject(ns, lineObj, line.ID+"/"+st.ID)
			prefix := line.ID + "/" + st.ID
			b.addVariable(ns, stObj, prefix, "State", st.State)
			b.addVariable(ns, stObj, prefix, "CycleTime_s", st.CycleTimeS)
			b.addVariable(ns, stObj, prefix, "GoodCount", st.GoodCount)
			b.addVariable(ns, stObj, prefix, "ScrapCount", st.ScrapCount)
		}
	}
	return nil
}

func (b *Bridge) addObject(ns *server.NodeNameSpace, parent *server.Node, path string) *server.Node {
	name := strings.ReplaceAll(path, "/", ".")
	node := server.NewFolderNode(ua.NewStringNodeID(ns.ID(), name), name)
	ns.AddNode(node)
	parent.AddRef(node, id.HasComponent, true)
	b.objects[path] = node
	return node
}

func (b *Bridge) addVariable(ns *server.NodeNameSpace, parent *server.Node, prefix, name string, value any) {
	node := ns.AddNewVariableNode(name, value)
	parent.AddRef(node, id.HasComponent, true)
	b.nodes[prefix+"/"+name] = node
}

// Run 启动 OPC UA 服务并以 1 Hz 刷写变量，阻塞到 ctx 取消。
// 单次刷写错误只记录日志，不中断循环。
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start opc ua server: %w", err)
	}
	defer b.srv.Close()

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.publish()
		}
	}
}

// publish 将当前快照写入全部变量节点。
func (b *Bridge) publish() {
	defer func() {
		if r := recover(); r != nil {
			log.Warnw("opc publish panicked", "panic", r)
		}
	}()

	snap := b.state.Snapshot()
	for _, line := range snap.Lines {
		b.setValue(line.ID+"/Status", line.Status)
		b.setValue(line.ID+"/OEE", line.OEE)
		b.setValue(line.ID+"/Availability", line.Availability)
		b.setValue(line.ID+"/Performance", line.Performance)
		b.setValue(line.ID+"/Quality", line.Quality)

		for _, st := range line.Stations {
			prefix := line.ID + "/" + st.ID + "/"
			b.setValue(prefix+"State", st.State)
			b.setValue(prefix+"CycleTime_s", st.CycleTimeS)
			b.setValue(prefix+"GoodCount", st.GoodCount)
			b.setValue(prefix+"ScrapCount", st.ScrapCount)
		}
	}
}

func (b *Bridge) setValue(path string, value any) {
	node, ok := b.nodes[path]
	if !ok {
		return
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		log.Warnw("failed to encode opc value", "path", path, "error", err)
		return
	}
	node.SetAttribute(ua.AttributeIDValue, &ua.DataValue{
		Value:           variant,
		SourceTimestamp: time.Now(),
		EncodingMask:    ua.DataValueValue | ua.DataValueSourceTimestamp,
	})
}
