// Package optimize derives compilation flags and runtime parameters from
// a hardware.HardwareProfile, and drives the benchmark loop (spec.md
// §4.C). Thread/GPU-layer/context/batch-size selection tables are
// grounded on original_source/src/core/hardware_optimizer.py's
// optimize_compilation_flags / optimize_runtime_parameters (VRAM- and
// RAM-bucketed tables), generalized from that file's single NVIDIA/AMD
// split into the Go HardwareProfile's GPUVendor/AccelAPI model.
package optimize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware/detect"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware/store"

	"golang.org/x/sync/errgroup"
)

// StalenessConfig bounds the conditions under which a persisted profile
// is considered outdated, per spec.md §4.C's staleness rule.
type StalenessConfig struct {
	MaxAge         time.Duration // default 30 days
	RAMDeltaMiB    int           // default 1024 (1 GiB)
}

// DefaultStalenessConfig matches spec.md §4.C exactly.
func DefaultStalenessConfig() StalenessConfig {
	return StalenessConfig{MaxAge: 30 * 24 * time.Hour, RAMDeltaMiB: 1024}
}

// Optimizer derives CompilationFlags/RuntimeParameters from a profile and
// owns the benchmark loop.
type Optimizer struct {
	store     *store.Store
	detector  *detect.Detector
	staleness StalenessConfig

	// PreferNMinus1Threads mirrors spec.md's "prefer physical_cores - 1 on
	// workstations with interactive load when a flag is set."
	PreferNMinus1Threads bool

	// BenchRunner launches a backend instance for Benchmark; nil means
	// Benchmark always falls back to MockBenchmark. Kept as a seam so
	// services/backend implementations can be wired without an import
	// cycle (optimize must not import backend).
	BenchRunner BenchRunner

	// history, when set, receives every Benchmark result for spec.md
	// §4.A's "append-only; bounded retention (last N results)" lifecycle.
	history *store.History
}

// WithHistory attaches a bounded benchmark-result log to o. Every call to
// Benchmark appends its result before returning it; callers that don't
// need cross-session benchmark history can leave this unset.
func (o *Optimizer) WithHistory(h *store.History) *Optimizer {
	o.history = h
	return o
}

// History returns the most recent n persisted benchmark results, oldest
// first, or (nil, nil) if no history store is attached.
func (o *Optimizer) History(n int) ([]hardware.BenchmarkResult, error) {
	if o.history == nil {
		return nil, nil
	}
	return o.history.Recent(n)
}

// BenchRunner starts a short-lived backend with params against modelPath
// and issues iterations identical requests, returning per-iteration
// wall-clock and token counts, plus peak RSS delta in MiB. It must shut
// the backend down on every exit path, including failure.
type BenchRunner interface {
	Run(ctx context.Context, modelPath, prompt string, params hardware.RuntimeParameters, iterations int) ([]hardware.BenchIteration, int64, error)
}

// New builds an Optimizer over the given profile store and detector.
func New(s *store.Store, d *detect.Detector) *Optimizer {
	return &Optimizer{store: s, detector: d, staleness: DefaultStalenessConfig()}
}

// IsProfileStale reports whether profile requires re-detection, per
// spec.md §4.C's OR'd staleness rule: RAM delta, CPU identity change, GPU
// identity change, accel-API availability change, or age.
func (o *Optimizer) IsProfileStale(ctx context.Context, profile *hardware.HardwareProfile, now time.Time) bool {
	if profile == nil {
		return true
	}
	if now.Sub(profile.UpdatedAt) > o.staleness.MaxAge {
		return true
	}

	current := o.detector.Probe(ctx)

	if abs(current.TotalRAMMiB-profile.TotalRAMMiB) > o.staleness.RAMDeltaMiB {
		return true
	}
	if current.CPUModel != profile.CPUModel {
		return true
	}
	if current.GPUVendor != profile.GPUVendor || current.GPUModel != profile.GPUModel {
		return true
	}
	if !sameAccelSet(current.AccelAPIs, profile.AccelAPIs) {
		return true
	}
	return false
}

// UpdateProfile probes the machine and persists the result, replacing
// whatever profile existed before.
func (o *Optimizer) UpdateProfile(ctx context.Context) (*hardware.HardwareProfile, error) {
	profile := o.detector.Probe(ctx)
	if err := o.store.Save(profile); err != nil {
		return nil, fmt.Errorf("optimize: save profile: %w", err)
	}
	return profile, nil
}

// ComputeFlags derives CompilationFlags from profile. Pure function: no
// I/O, table-driven, matching design notes' "separate pure derive-defaults
// from impure probe" split.
func ComputeFlags(profile *hardware.HardwareProfile) hardware.CompilationFlags {
	flags := hardware.CompilationFlags{BuildType: "Release", OpenMP: true}

	switch {
	case profile.HasExtension(hardware.ExtAVX512):
		flags.ArchFlags = []string{"-march=skylake-avx512", "-mavx512f", "-mavx512dq", "-mavx512bw", "-mavx512vl"}
	case profile.HasExtension(hardware.ExtAVX2):
		flags.ArchFlags = []string{"-march=haswell", "-mavx2", "-mfma"}
	case profile.HasExtension(hardware.ExtAVX):
		flags.ArchFlags = []string{"-march=sandybridge", "-mavx"}
	default:
		flags.ArchFlags = []string{"-march=native"}
	}

	model := strings.ToLower(profile.CPUModel)
	switch {
	case strings.Contains(model, "intel"):
		flags.BLASVendor = "Intel10_64lp"
	case strings.Contains(model, "amd"):
		flags.BLASVendor = "FLAME"
	}

	switch {
	case profile.GPUVendor == hardware.GPUVendorNVIDIA && profile.HasAccel(hardware.AccelCUDA):
		flags.GPUBackend = "cuda"
	case profile.GPUVendor == hardware.GPUVendorAMD && profile.HasAccel(hardware.AccelROCm):
		flags.GPUBackend = "hip"
	case profile.HasAccel(hardware.AccelMetal):
		flags.GPUBackend = "metal"
	case profile.HasAccel(hardware.AccelVulkan):
		flags.GPUBackend = "vulkan"
	default:
		flags.GPUBackend = "none"
	}

	return flags
}

// ComputeRuntime derives RuntimeParameters from profile and an optional
// model-VRAM hint in MiB (0 means no hint). When the hint exceeds the
// VRAM budget implied by the GPU-layer table, the selection steps down
// one bucket per spec.md §4.C.
func ComputeRuntime(profile *hardware.HardwareProfile, modelVRAMHintMiB int) hardware.RuntimeParameters {
	var params hardware.RuntimeParameters

	threads := profile.PhysicalCores
	if threads < 1 {
		threads = 1
	}
	params.Threads = clamp(threads, 1, max(profile.PhysicalCores, 1))

	params.GPULayers = gpuLayerBudget(profile)
	if modelVRAMHintMiB > 0 && modelVRAMHintMiB > profile.VRAMMiB && params.GPULayers > 0 {
		params.GPULayers = stepDownBucket(params.GPULayers)
	}

	params.BatchSize = batchSizeForRAM(profile.TotalRAMMiB)
	params.ContextSize = contextSizeForRAM(profile.TotalRAMMiB)

	return params
}

// PreferNMinus1 returns threads reduced by one (never below 1), for the
// interactive-workstation policy flag spec.md §4.C describes.
func PreferNMinus1(threads int) int {
	return clamp(threads-1, 1, threads)
}

func gpuLayerBudget(profile *hardware.HardwareProfile) int {
	switch {
	case profile.GPUVendor == hardware.GPUVendorNVIDIA && profile.HasAccel(hardware.AccelCUDA):
		switch {
		case profile.VRAMMiB >= 8000:
			return 32
		case profile.VRAMMiB >= 4000:
			return 20
		default:
			return 8
		}
	case profile.GPUVendor == hardware.GPUVendorAMD && profile.HasAccel(hardware.AccelROCm):
		switch {
		case profile.VRAMMiB >= 8000:
			return 28
		case profile.VRAMMiB >= 4000:
			return 16
		default:
			return 4
		}
	case profile.HasAccel(hardware.AccelMetal):
		// Apple Silicon unifies RAM and VRAM; offload aggressively.
		return 32
	default:
		return 0
	}
}

// stepDownBucket moves a GPU-layer count to the next lower documented
// bucket, used when the requested model's VRAM hint exceeds budget.
func stepDownBucket(layers int) int {
	buckets := []int{32, 28, 20, 16, 8, 4}
	for i, b := range buckets {
		if layers == b && i+1 < len(buckets) {
			return buckets[i+1]
		}
	}
	if layers > 0 {
		return layers / 2
	}
	return 0
}

func batchSizeForRAM(totalRAMMiB int) int {
	switch {
	case totalRAMMiB > 32000:
		return 1024
	case totalRAMMiB > 16000:
		return 512
	case totalRAMMiB > 8000:
		return 256
	default:
		return 128 // floor
	}
}

func contextSizeForRAM(totalRAMMiB int) int {
	switch {
	case totalRAMMiB > 32000:
		return 8192
	case totalRAMMiB > 16000:
		return 4096
	case totalRAMMiB > 8000:
		return 2048
	default:
		return 1024 // floor
	}
}

// Benchmark runs BenchRunner (if set) or falls back to MockBenchmark. It
// shuts the backend down on every exit path because BenchRunner.Run owns
// that responsibility; failures are absorbed into a zeroed result with
// Error set, per spec.md §4.C's failure semantics.
func (o *Optimizer) Benchmark(ctx context.Context, modelPath, prompt string, params hardware.RuntimeParameters, iterations int) hardware.BenchmarkResult {
	result := o.benchmark(ctx, modelPath, prompt, params, iterations)
	o.recordHistory(result)
	return result
}

func (o *Optimizer) benchmark(ctx context.Context, modelPath, prompt string, params hardware.RuntimeParameters, iterations int) hardware.BenchmarkResult {
	if o.BenchRunner == nil {
		profile, err := o.store.Load()
		if err != nil {
			profile = o.detector.Probe(ctx)
		}
		return MockBenchmark(profile, params, prompt)
	}

	iters, rssMiB, err := o.BenchRunner.Run(ctx, modelPath, prompt, params, iterations)
	if err != nil {
		return hardware.BenchmarkResult{
			Prompt: prompt,
			Params: params,
			Error:  err.Error(),
			RanAt:  time.Now().UTC(),
		}
	}

	return aggregate(prompt, params, iters, rssMiB, false)
}

// recordHistory appends result to the attached history log, if any.
// Persistence failures are logged-by-omission here (no logger is threaded
// into Optimizer); a benchmark result itself is never discarded because
// its own history write failed.
func (o *Optimizer) recordHistory(result hardware.BenchmarkResult) {
	if o.history == nil {
		return
	}
	_ = o.history.Append(result)
}

// MockBenchmark synthesises plausible numbers from the profile alone, for
// environments without compilation tools (spec.md §4.C requirement).
func MockBenchmark(profile *hardware.HardwareProfile, params hardware.RuntimeParameters, prompt string) hardware.BenchmarkResult {
	baseTokPerSec := 8.0 + float64(params.Threads)*1.5
	if profile != nil && profile.GPUVendor != hardware.GPUVendorNone {
		baseTokPerSec += float64(params.GPULayers) * 0.8
	}

	return hardware.BenchmarkResult{
		TokensPerSec:  baseTokPerSec,
		LatencyMsMean: 1000.0 / baseTokPerSec,
		MemoryMiB:     int64(params.ContextSize) * 512 / 1024,
		Prompt:        prompt,
		Params:        params,
		RanAt:         time.Now().UTC(),
		Mocked:        true,
	}
}

func aggregate(prompt string, params hardware.RuntimeParameters, iters []hardware.BenchIteration, rssMiB int64, mocked bool) hardware.BenchmarkResult {
	if len(iters) == 0 {
		return hardware.BenchmarkResult{Prompt: prompt, Params: params, Error: "no iterations completed", RanAt: time.Now().UTC()}
	}

	var totalMs float64
	var totalTokens int
	for _, it := range iters {
		totalMs += it.WallClockMs
		totalTokens += it.TokensOut
	}
	n := float64(len(iters))
	meanMs := totalMs / n
	var tps float64
	if totalMs > 0 {
		tps = float64(totalTokens) / (totalMs / 1000.0)
	}

	return hardware.BenchmarkResult{
		TokensPerSec:  tps,
		LatencyMsMean: meanMs,
		MemoryMiB:     rssMiB,
		Prompt:        prompt,
		Params:        params,
		Iterations:    iters,
		RanAt:         time.Now().UTC(),
		Mocked:        mocked,
	}
}

// FullResult bundles the outputs of RunFull.
type FullResult struct {
	Profile   *hardware.HardwareProfile
	Flags     hardware.CompilationFlags
	Runtime   hardware.RuntimeParameters
	Benchmark hardware.BenchmarkResult
}

// RunFull executes probe → flags → runtime → benchmark end to end,
// persisting the refreshed profile. Probing and flag/runtime derivation
// run concurrently with nothing else since flags/runtime both depend on
// the freshly probed profile; an errgroup is used for the two
// independent "publish profile, then fan out derived views" steps to
// mirror the teacher's errgroup-based fan-out idiom even though the
// work here is light — the benchmark itself is not parallelized because
// it owns the single native backend handle.
func (o *Optimizer) RunFull(ctx context.Context, modelPath, benchPrompt string, benchIterations int) (*FullResult, error) {
	profile, err := o.UpdateProfile(ctx)
	if err != nil {
		return nil, err
	}

	var flags hardware.CompilationFlags
	var runtime hardware.RuntimeParameters
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		flags = ComputeFlags(profile)
		return nil
	})
	g.Go(func() error {
		runtime = ComputeRuntime(profile, 0)
		if o.PreferNMinus1Threads {
			runtime.Threads = PreferNMinus1(runtime.Threads)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bench := o.Benchmark(ctx, modelPath, benchPrompt, runtime, benchIterations)

	return &FullResult{Profile: profile, Flags: flags, Runtime: runtime, Benchmark: bench}, nil
}

func sameAccelSet(a, b []hardware.AccelAPI) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[hardware.AccelAPI]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		if !set[x] {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
