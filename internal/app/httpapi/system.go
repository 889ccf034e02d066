package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/apphost/internal/httputil"
)

// persistSlack is added to the load timeout when a request waits on a load,
// leaving room for the final state write.
const persistSlack = 5 * time.Second

var startedAt = time.Now()

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
		"uptime":   time.Since(startedAt).Round(time.Second).String(),
	})
}

// SystemInfo describes the host serving the API.
type SystemInfo struct {
	Hostname       string    `json:"hostname,omitempty"`
	OS             string    `json:"os"`
	Platform       string    `json:"platform,omitempty"`
	KernelVersion  string    `json:"kernelVersion,omitempty"`
	HostUptime     uint64    `json:"hostUptimeSeconds,omitempty"`
	CPUs           int       `json:"cpus"`
	CPUPercent     float64   `json:"cpuPercent"`
	Load1          float64   `json:"load1"`
	MemTotal       uint64    `json:"memTotal,omitempty"`
	MemUsed        uint64    `json:"memUsed,omitempty"`
	MemUsedPercent float64   `json:"memUsedPercent"`
	GoVersion      string    `json:"goVersion"`
	Goroutines     int       `json:"goroutines"`
	StartedAt      time.Time `json:"startedAt"`
}

// systemInfo reports best effort host figures; probes that fail on the
// current platform are logged and left zero.
func (h *handler) systemInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := SystemInfo{
		OS:         runtime.GOOS,
		CPUs:       runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		StartedAt:  startedAt.UTC(),
	}
	entry := h.log.WithContext(ctx)

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.KernelVersion = hi.KernelVersion
		info.HostUptime = hi.Uptime
	} else {
		entry.WithError(err).Debug("host info unavailable")
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUs = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	} else if err != nil {
		entry.WithError(err).Debug("cpu usage unavailable")
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemTotal = vm.Total
		info.MemUsed = vm.Used
		info.MemUsedPercent = vm.UsedPercent
	} else {
		entry.WithError(err).Debug("memory info unavailable")
	}

	httputil.WriteJSON(w, http.StatusOK, info)
}
