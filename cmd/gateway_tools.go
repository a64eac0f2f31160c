package cmd

import (
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/memory"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

// registerBuiltinTools fills the registry with the local tool catalog.
// Skills, MCP servers, and the subagent spawner register separately.
func registerBuiltinTools(
	registry *tools.Registry,
	cfg *config.Config,
	msgBus *bus.MessageBus,
	sessionMgr *sessions.Manager,
	personaStore *persona.Store,
	memIndex *memory.Index,
	cronStore *cron.Store,
) {
	workspace := cfg.WorkspacePath()

	registry.Register(tools.NewReadFileTool(workspace), tools.Meta{Class: tools.ClassRead, Cacheable: true})
	registry.Register(tools.NewListDirTool(workspace), tools.Meta{Class: tools.ClassRead})
	registry.Register(tools.NewWriteFileTool(workspace), tools.Meta{Class: tools.ClassSensitive})
	registry.Register(tools.NewDeleteFileTool(workspace), tools.Meta{Class: tools.ClassSensitive})
	registry.Register(
		tools.NewExecTool(workspace, cfg.Tools.Exec.Timeout.Std(), cfg.Tools.Exec.AllowUnsafe),
		tools.Meta{Class: tools.ClassSensitive, Timeout: cfg.Tools.Exec.Timeout.Std()},
	)

	if memIndex != nil {
		registry.Register(tools.NewMemorySearchTool(memIndex, cfg.Memory.MaxResults), tools.Meta{Class: tools.ClassRead, Cacheable: true})
		registry.Register(tools.NewLogMemoryTool(personaStore, memIndex), tools.Meta{Class: tools.ClassWrite})
	}

	registry.Register(tools.NewCronAddTool(cronStore), tools.Meta{Class: tools.ClassWrite})
	registry.Register(tools.NewCronListTool(cronStore), tools.Meta{Class: tools.ClassRead})
	registry.Register(tools.NewCronRemoveTool(cronStore), tools.Meta{Class: tools.ClassSensitive})

	registry.Register(tools.NewSendMessageTool(msgBus), tools.Meta{Class: tools.ClassWrite})
	registry.Register(tools.NewListSessionsTool(sessionMgr), tools.Meta{Class: tools.ClassRead})
	registry.Register(tools.NewSessionHistoryTool(sessionMgr), tools.Meta{Class: tools.ClassRead})

	if cfg.Tools.Web.Enabled {
		registry.Register(tools.NewWebFetchTool(0), tools.Meta{Class: tools.ClassRead, Cacheable: true})
		registry.Register(
			tools.NewWebSearchTool(cfg.Tools.Web.BraveAPIKey, cfg.Tools.Web.MaxResults),
			tools.Meta{Class: tools.ClassRead, Cacheable: true},
		)
	}
}
