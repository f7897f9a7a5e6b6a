// Package detect probes the local machine for the fields of a
// hardware.HardwareProfile (spec.md §4.B). Each probe is isolated so a
// GPU-probing failure never fails CPU probing; probes that cannot run on
// the current platform return documented sentinels (GPUVendorNone, 0
// VRAM) tagged hardware.SourceFallback or hardware.SourceUnknown.
//
// Grounded on the teacher's cmd/aleutian/profile_resolver.go
// (DefaultHardwareDetector: per-OS GetSystemMemory/GetGPUVRAM/GetCPUCores
// dispatching on runtime.GOOS, sysctl/proc-meminfo/nvidia-smi shellouts)
// and original_source/src/core/hardware_optimizer.py's
// _detect_cpu_features_{windows,linux,macos} and
// _detect_graphics_apis_windows (nvcc/nvcuda.dll/ROCm install-dir probes).
package detect

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"
)

// Runner abstracts command execution so tests can substitute a fake
// without shelling out, mirroring the teacher's process.Manager seam.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real OS commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// Detector probes the machine for a fresh hardware.HardwareProfile.
type Detector struct {
	run Runner
}

// New returns a Detector that shells out to real OS tools.
func New() *Detector {
	return &Detector{run: ExecRunner{}}
}

// NewWithRunner returns a Detector using a custom Runner, for tests.
func NewWithRunner(r Runner) *Detector {
	return &Detector{run: r}
}

// Probe gathers a complete HardwareProfile. It never returns an error:
// every sub-probe failure is absorbed into a sentinel value with its
// FieldSource set accordingly, per spec.md §4.B.
func (d *Detector) Probe(ctx context.Context) *hardware.HardwareProfile {
	now := time.Now().UTC()
	profile := &hardware.HardwareProfile{
		SchemaVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	d.probeCPU(ctx, profile)
	d.probeRAM(ctx, profile)
	d.probeGPU(ctx, profile)
	d.probeAccelAPIs(ctx, profile)

	return profile
}

func (d *Detector) probeCPU(ctx context.Context, p *hardware.HardwareProfile) {
	p.LogicalCores = runtime.NumCPU()
	p.PhysicalCores = p.LogicalCores // not probed separately; equals LogicalCores
	p.CoreSource = hardware.SourceProbed

	model, exts, source := d.detectCPUIdentity(ctx)
	p.CPUModel = model
	p.CPUModelSource = source
	p.Extensions = exts
	p.ExtensionSource = source
}

func (d *Detector) detectCPUIdentity(ctx context.Context) (model string, exts []hardware.CPUExtension, source hardware.FieldSource) {
	switch runtime.GOOS {
	case "linux":
		return d.detectCPULinux(ctx)
	case "darwin":
		return d.detectCPUDarwin(ctx)
	default:
		return "Unknown CPU", nil, hardware.SourceUnknown
	}
}

func (d *Detector) detectCPULinux(ctx context.Context) (string, []hardware.CPUExtension, hardware.FieldSource) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "Unknown CPU", nil, hardware.SourceUnknown
	}

	var model string
	var flags string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case model == "" && strings.HasPrefix(line, "model name"):
			model = valueAfterColon(line)
		case flags == "" && strings.HasPrefix(line, "flags"):
			flags = valueAfterColon(line)
		}
		if model != "" && flags != "" {
			break
		}
	}
	if model == "" {
		model = "Unknown CPU"
	}

	return model, extensionsFromFlagString(flags, "avx512f"), hardware.SourceProbed
}

func (d *Detector) detectCPUDarwin(ctx context.Context) (string, []hardware.CPUExtension, hardware.FieldSource) {
	out, err := d.run.Run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil {
		return "Unknown CPU", nil, hardware.SourceUnknown
	}
	model := strings.TrimSpace(string(out))
	if model == "" {
		model = "Unknown CPU"
	}

	featOut, err := d.run.Run(ctx, "sysctl", "hw.optional")
	if err != nil {
		return model, nil, hardware.SourceFallback
	}
	features := strings.ToLower(string(featOut))
	var exts []hardware.CPUExtension
	if strings.Contains(features, "hw.optional.avx1_0: 1") {
		exts = append(exts, hardware.ExtAVX)
	}
	if strings.Contains(features, "hw.optional.avx2_0: 1") {
		exts = append(exts, hardware.ExtAVX2)
	}
	if strings.Contains(features, "hw.optional.avx512f: 1") {
		exts = append(exts, hardware.ExtAVX512)
	}
	return model, exts, hardware.SourceProbed
}

func extensionsFromFlagString(flags, avx512Flag string) []hardware.CPUExtension {
	fields := strings.Fields(flags)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	var exts []hardware.CPUExtension
	if set["avx"] {
		exts = append(exts, hardware.ExtAVX)
	}
	if set["avx2"] {
		exts = append(exts, hardware.ExtAVX2)
	}
	if set[avx512Flag] || set["avx512vl"] {
		exts = append(exts, hardware.ExtAVX512)
	}
	if set["f16c"] {
		exts = append(exts, hardware.ExtF16C)
	}
	if set["fma"] {
		exts = append(exts, hardware.ExtFMA)
	}
	return exts
}

func valueAfterColon(line string) string {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

func (d *Detector) probeRAM(ctx context.Context, p *hardware.HardwareProfile) {
	switch runtime.GOOS {
	case "linux":
		if mb, err := d.linuxSystemRAMMiB(); err == nil {
			p.TotalRAMMiB = mb
			p.RAMSource = hardware.SourceProbed
			return
		}
	case "darwin":
		if mb, err := d.darwinSystemRAMMiB(ctx); err == nil {
			p.TotalRAMMiB = mb
			p.RAMSource = hardware.SourceProbed
			return
		}
	}
	p.TotalRAMMiB = 8192
	p.RAMSource = hardware.SourceFallback
}

func (d *Detector) linuxSystemRAMMiB() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				break
			}
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return int(kb / 1024), nil
		}
	}
	return 0, os.ErrNotExist
}

func (d *Detector) darwinSystemRAMMiB(ctx context.Context) (int, error) {
	out, err := d.run.Run(ctx, "sysctl", "-n", "hw.memsize")
	if err != nil {
		return 0, err
	}
	b, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, err
	}
	return int(b / 1024 / 1024), nil
}

func (d *Detector) probeGPU(ctx context.Context, p *hardware.HardwareProfile) {
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		if name, vramMiB, ok := d.nvidiaSMI(ctx); ok {
			p.GPUVendor = hardware.GPUVendorNVIDIA
			p.GPUModel = name
			p.VRAMMiB = vramMiB
			p.GPUSource = hardware.SourceProbed
			return
		}
	}
	if runtime.GOOS == "darwin" {
		p.GPUVendor = hardware.GPUVendorAppleSilicon
		p.GPUModel = "Apple Silicon GPU"
		p.GPUSource = hardware.SourceFallback
		return
	}
	p.GPUVendor = hardware.GPUVendorNone
	p.VRAMMiB = 0
	p.GPUSource = hardware.SourceUnknown
}

func (d *Detector) nvidiaSMI(ctx context.Context) (name string, vramMiB int, ok bool) {
	out, err := d.run.Run(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return "", 0, false
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return "", 0, false
	}
	parts := strings.Split(scanner.Text(), ",")
	if len(parts) != 2 {
		return "", 0, false
	}
	name = strings.TrimSpace(parts[0])
	mb, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", 0, false
	}
	return name, mb, true
}

func (d *Detector) probeAccelAPIs(ctx context.Context, p *hardware.HardwareProfile) {
	var apis []hardware.AccelAPI
	cudaFallback := false

	if _, err := d.run.Run(ctx, "nvcc", "--version"); err == nil {
		apis = append(apis, hardware.AccelCUDA)
	} else if p.GPUVendor == hardware.GPUVendorNVIDIA {
		// nvidia-smi succeeded but no compiler toolkit; driver-level CUDA
		// runtime may still be usable, so tag the capability fallback.
		apis = append(apis, hardware.AccelCUDA)
		cudaFallback = true
	}

	if runtime.GOOS == "linux" {
		if _, err := os.Stat("/opt/rocm"); err == nil {
			apis = append(apis, hardware.AccelROCm)
		}
		if _, err := d.run.Run(ctx, "rocminfo"); err == nil {
			apis = appendUnique(apis, hardware.AccelROCm)
		}
		if _, err := d.run.Run(ctx, "vulkaninfo", "--summary"); err == nil {
			apis = append(apis, hardware.AccelVulkan)
		}
	}

	if runtime.GOOS == "darwin" {
		apis = append(apis, hardware.AccelMetal)
	}

	p.AccelAPIs = apis
	switch {
	case len(apis) == 0:
		p.AccelAPISource = hardware.SourceUnknown
	case cudaFallback:
		p.AccelAPISource = hardware.SourceFallback
	default:
		p.AccelAPISource = hardware.SourceProbed
	}
}

func appendUnique(apis []hardware.AccelAPI, api hardware.AccelAPI) []hardware.AccelAPI {
	for _, a := range apis {
		if a == api {
			return apis
		}
	}
	return append(apis, api)
}
