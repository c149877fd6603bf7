package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// ToolBus resolves execute_tool/list_tools synchronously.
type ToolBus struct {
	*BaseBus
	reg *registry.Registry
}

func NewToolBus(reg *registry.Registry, capacity int, logger core.Logger) *ToolBus {
	b := &ToolBus{reg: reg}
	b.BaseBus = NewBaseBus("tool", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

// ExecuteTool resolves a ToolProvider with capability "tool:"+name and invokes it.
func (b *ToolBus) ExecuteTool(ctx context.Context, handler, name string, params map[string]interface{}) (res Result, err error) {
	defer recoverPanic(&err)

	p, rerr := resolve[ToolProvider](ctx, b.reg, handler, core.ServiceTool, []string{name})
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}

	out, execErr := p.ExecuteTool(ctx, name, params)
	if execErr != nil {
		return ErrorResult(execErr.Error()), nil
	}
	return OK(out), nil
}

// ListTools resolves any available ToolProvider and lists its tools.
func (b *ToolBus) ListTools(ctx context.Context, handler string) (res Result, err error) {
	defer recoverPanic(&err)

	p, rerr := resolve[ToolProvider](ctx, b.reg, handler, core.ServiceTool, nil)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}

	tools, listErr := p.GetAvailableTools(ctx)
	if listErr != nil {
		return ErrorResult(listErr.Error()), nil
	}
	return OK(tools), nil
}
