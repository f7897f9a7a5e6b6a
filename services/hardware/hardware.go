// Package hardware defines the data model shared by the profile store,
// detector, and optimizer: the persisted HardwareProfile plus the derived
// CompilationFlags, RuntimeParameters, and BenchmarkResult types from
// spec.md §3. Field names and units follow that section exactly.
package hardware

import "time"

// GPUVendor enumerates the GPU families the detector distinguishes,
// collapsing original_source/src/core/config.py's separate
// has_amd_gpu/has_nvidia_gpu booleans into one variant per spec.md §3.
type GPUVendor string

const (
	GPUVendorNone         GPUVendor = "none"
	GPUVendorNVIDIA       GPUVendor = "nvidia"
	GPUVendorAMD          GPUVendor = "amd"
	GPUVendorIntel        GPUVendor = "intel"
	GPUVendorAppleSilicon GPUVendor = "apple_silicon"
)

// AccelAPI enumerates acceleration APIs whose availability the detector
// checks independently of GPU vendor (a vendor can expose more than one,
// e.g. an AMD card with both ROCm and Vulkan).
type AccelAPI string

const (
	AccelCUDA   AccelAPI = "cuda"
	AccelROCm   AccelAPI = "rocm"
	AccelMetal  AccelAPI = "metal"
	AccelVulkan AccelAPI = "vulkan"
	AccelOpenCL AccelAPI = "opencl"
)

// CPUExtension enumerates the x86 instruction-set extensions the
// optimizer's flag/thread selection tables key off.
type CPUExtension string

const (
	ExtAVX    CPUExtension = "avx"
	ExtAVX2   CPUExtension = "avx2"
	ExtAVX512 CPUExtension = "avx512"
	ExtF16C   CPUExtension = "f16c"
	ExtFMA    CPUExtension = "fma"
)

// FieldSource tags whether a HardwareProfile field came from a direct OS
// probe or a CPU-identity-string fallback heuristic, per spec.md §4.B:
// "[fallback heuristics] must be clearly marked in a source tag per field."
type FieldSource string

const (
	SourceProbed   FieldSource = "probed"
	SourceFallback FieldSource = "fallback"
	SourceUnknown  FieldSource = "unknown"
)

// HardwareProfile is the persisted descriptor of the machine's CPU, GPU,
// and RAM, plus per-field provenance. Invariants (enforced by the store
// and optimizer, never by this type itself): the record is replaced
// atomically, never partially written; UpdatedAt never predates any
// measurement it contains.
type HardwareProfile struct {
	SchemaVersion int `json:"schema_version"`

	CPUModel        string         `json:"cpu_model"`
	CPUModelSource  FieldSource    `json:"cpu_model_source"`
	PhysicalCores   int            `json:"physical_cores"`
	LogicalCores    int            `json:"logical_cores"`
	CoreSource      FieldSource    `json:"core_source"`
	NominalFreqGHz  float64        `json:"nominal_freq_ghz"`
	FreqSource      FieldSource    `json:"freq_source"`
	Extensions      []CPUExtension `json:"extensions"`
	ExtensionSource FieldSource    `json:"extension_source"`

	GPUVendor  GPUVendor   `json:"gpu_vendor"`
	GPUModel   string      `json:"gpu_model"`
	GPUSource  FieldSource `json:"gpu_source"`
	VRAMMiB    int         `json:"vram_mib"`
	TotalRAMMiB int        `json:"total_ram_mib"`
	RAMSource  FieldSource `json:"ram_source"`

	AccelAPIs       []AccelAPI  `json:"accel_apis"`
	AccelAPISource  FieldSource `json:"accel_api_source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Extra preserves unknown fields encountered on round-trip so the
	// store never silently drops data from a newer schema version.
	Extra map[string]any `json:"-"`
}

// HasExtension reports whether profile's CPU advertises ext.
func (p *HardwareProfile) HasExtension(ext CPUExtension) bool {
	for _, e := range p.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// HasAccel reports whether profile's detected acceleration APIs include api.
func (p *HardwareProfile) HasAccel(api AccelAPI) bool {
	for _, a := range p.AccelAPIs {
		if a == api {
			return true
		}
	}
	return false
}

// CompilationFlags are derived, non-persisted for portable targets:
// recomputed from a HardwareProfile, never edited by hand.
type CompilationFlags struct {
	BuildType     string   `json:"build_type"` // e.g. "Release", "RelWithDebInfo"
	ArchFlags     []string `json:"arch_flags"` // e.g. ["-mavx2", "-mfma"]
	BLASVendor    string   `json:"blas_vendor"`
	GPUBackend    string   `json:"gpu_backend"` // "cuda", "hip", "metal", "vulkan", "none"
	OpenMP        bool     `json:"openmp"`
}

// RuntimeParameters are persisted alongside HardwareProfile. Invariants:
// Threads in [1, logical cores]; ContextSize and BatchSize positive and
// power-of-two-friendly; GPULayers >= 0.
type RuntimeParameters struct {
	Threads        int       `json:"threads"`
	ContextSize    int       `json:"context_size"`
	BatchSize      int       `json:"batch_size"`
	GPULayers      int       `json:"gpu_layers"`
	TensorSplit    []float64 `json:"tensor_split,omitempty"`
	RoPEFreqBase   float64   `json:"rope_freq_base,omitempty"`
	RoPEFreqScale  float64   `json:"rope_freq_scale,omitempty"`
}

// BenchmarkResult is the outcome of one benchmark run. When a
// store.History is attached via Optimizer.WithHistory, Optimizer.Benchmark
// appends every result to it; that log is append-only with bounded
// retention (last N results).
type BenchmarkResult struct {
	TokensPerSec  float64           `json:"tokens_per_sec"`
	LatencyMsMean float64           `json:"latency_ms_mean"`
	MemoryMiB     int64             `json:"memory_mib"`
	Prompt        string            `json:"prompt"`
	Params        RuntimeParameters `json:"params"`
	Error         string            `json:"error,omitempty"`
	Iterations    []BenchIteration  `json:"iterations,omitempty"`
	RanAt         time.Time         `json:"ran_at"`
	Mocked        bool              `json:"mocked"`
}

// BenchIteration records one request of a benchmark run, for later
// analysis beyond the aggregated mean in BenchmarkResult.
type BenchIteration struct {
	WallClockMs float64 `json:"wall_clock_ms"`
	TokensOut   int     `json:"tokens_out"`
}
