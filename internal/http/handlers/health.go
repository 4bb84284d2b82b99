package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmylchreest/tvplay/internal/player"
)

// StatusSource reports the playback status for health checks.
type StatusSource interface {
	Status() player.Status
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	source    StatusSource
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithStatusSource includes playback state in health responses.
func (h *HealthHandler) WithStatusSource(source StatusSource) *HealthHandler {
	h.source = source
	return h
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory figures in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
	PercentOfSystem   float64 `json:"percent_of_system"`
	GoHeapMB          float64 `json:"go_heap_mb"`
	Goroutines        int     `json:"goroutines"`
}

// PlaybackHealth summarises the session for health checks.
type PlaybackHealth struct {
	State    string `json:"state"`
	Terminal bool   `json:"terminal"`
	Attempt  int    `json:"attempt"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status        string          `json:"status" enum:"healthy,degraded"`
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	CPUInfo       CPUInfo         `json:"cpu_info"`
	Memory        MemoryInfo      `json:"memory"`
	Playback      *PlaybackHealth `json:"playback,omitempty"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including playback state and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)
}

// GetHealth returns the health status of the service. A session that has
// given up on its target reports "degraded".
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       cpuInfo(),
		Memory:        memoryInfo(),
	}

	if h.source != nil {
		snap := h.source.Status().Session
		resp.Playback = &PlaybackHealth{
			State:    snap.State.String(),
			Terminal: snap.Terminal(),
			Attempt:  snap.Attempt,
		}
		if snap.Terminal() {
			resp.Status = "degraded"
		}
	}

	return &HealthOutput{Body: resp}, nil
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

const mb = 1024 * 1024

func memoryInfo() MemoryInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	info := MemoryInfo{
		GoHeapMB:   float64(ms.HeapAlloc) / mb,
		Goroutines: runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mb
		info.AvailableMemoryMB = float64(vm.Available) / mb
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info
	}
	if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
		info.ProcessRSSMB = float64(pm.RSS) / mb
		if info.TotalMemoryMB > 0 {
			info.PercentOfSystem = info.ProcessRSSMB / info.TotalMemoryMB * 100
		}
	}
	return info
}
