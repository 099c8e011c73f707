package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/clipforge/clipforge/internal/version"
)

var startTime = time.Now()

type statusResponse struct {
	Version       string  `json:"version"`
	Commit        string  `json:"commit"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemPercent    float64 `json:"mem_percent"`
}

// handleStatus reports process and host health for dashboards.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := version.GetInfo()
	resp := statusResponse{
		Version:       info.Version,
		Commit:        info.Commit,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemUsedMB = vm.Used / (1 << 20)
		resp.MemPercent = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("writing status response", slog.String("error", err.Error()))
	}
}
