// Package builtin implements client tools that don't depend on an MCP
// server or any per-thread state: host_stats, a zero-argument tool
// returning current CPU/load/memory facts.
//
// Grounded on the teacher's internal/monitor/service.go: the same
// multi-fallback, non-blocking cpu.PercentWithContext sampling and
// load.AvgWithContext call, narrowed from a cached RPC snapshot endpoint
// (which also tracks network IO history and a top-process list) down to
// the single-shot fields a tool call result can usefully report.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/aguicore/runtime/internal/tools"
)

// HostStatsDef is the registration entry for the host_stats tool: no
// arguments, builtin source, priority 0, so a same-named tool registered
// with a higher priority (every MCP bridge uses 1 or more) replaces it; at
// equal priority the builtin source rank keeps this one.
var HostStatsDef = tools.ToolDef{
	Name:        "host_stats",
	Description: "Report current CPU usage, load average, memory, and host platform facts.",
	Schema:      &jsonschema.Schema{Type: "object"},
	Source:      "builtin",
	Priority:    0,
}

type hostStatsResult struct {
	Platform    string    `json:"platform"`
	CPUCores    int       `json:"cpu_cores"`
	CPUUsage    float64   `json:"cpu_usage_percent"`
	LoadAverage []float64 `json:"load_average,omitempty"`
	MemoryUsed  uint64    `json:"memory_used_bytes"`
	MemoryTotal uint64    `json:"memory_total_bytes"`
	Uptime      uint64    `json:"uptime_seconds"`
}

// HostStatsExecutor executes host_stats. Stateless; safe to share.
type HostStatsExecutor struct{}

func (HostStatsExecutor) Execute(ctx context.Context, toolCallID, name, rawArgs string) (string, error) {
	result := hostStatsResult{Platform: runtime.GOOS}

	if usage, err := readCPUUsage(ctx); err == nil {
		result.CPUUsage = usage
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		result.CPUCores = cores
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		result.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		result.MemoryUsed = vm.Used
		result.MemoryTotal = vm.Total
	}
	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		result.Uptime = info.Uptime
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("builtin: marshal host_stats result: %w", err)
	}
	return string(b), nil
}

// readCPUUsage mirrors the teacher's non-blocking-first, blocking-fallback
// sampling: a zero-interval call compares against the previous call and
// can return 0 on the first invocation or on some platforms' coarse tick
// updates, so a short blocking sample is tried before giving up.
func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if p, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("builtin: cpu percent unavailable")
}
