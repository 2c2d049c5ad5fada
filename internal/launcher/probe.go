package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultProbeTool is the GPU diagnostic command.
const DefaultProbeTool = "nvidia-smi"

const probeTimeout = 30 * time.Second

// GPUProbe is the outcome of running the GPU diagnostic tool.
type GPUProbe struct {
	Tool      string
	Available bool
	Output    string
	Reason    string
}

// ProbeGPU runs tool and reports whether it succeeded. It never fails the
// launch: a missing or failing tool is reported through Reason.
func ProbeGPU(ctx context.Context, tool string) GPUProbe {
	if tool == "" {
		tool = DefaultProbeTool
	}
	res := GPUProbe{Tool: tool}

	path, err := exec.LookPath(tool)
	if err != nil {
		res.Reason = fmt.Sprintf("%s not found", tool)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path).CombinedOutput()
	res.Output = strings.TrimSpace(string(out))
	if err != nil {
		res.Reason = fmt.Sprintf("%s failed: %v", tool, err)
		return res
	}
	res.Available = true
	return res
}
