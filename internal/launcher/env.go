package launcher

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Environment variables read or set by the launcher.
const (
	EnvCPUsOnNode = "SLURM_CPUS_ON_NODE"
	EnvJobID      = "SLURM_JOB_ID"
	EnvOMPThreads = "OMP_NUM_THREADS"
	EnvHFOffline  = "HF_HUB_OFFLINE"
)

// Env is a set of variables overlaid on the inherited environment.
type Env map[string]string

// Keys returns the variable names in sorted order.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply returns base with e's variables set, replacing any existing value.
// Entries of base keep their order; new variables are appended sorted.
func (e Env) Apply(base []string) []string {
	out := make([]string, 0, len(base)+len(e))
	seen := make(map[string]bool, len(e))
	for _, kv := range base {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if v, set := e[k]; set {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k+"="+v)
			continue
		}
		out = append(out, kv)
	}
	for _, k := range e.Keys() {
		if !seen[k] {
			out = append(out, k+"="+e[k])
		}
	}
	return out
}

// BuildEnv returns the pipeline's environment overlay. OMP_NUM_THREADS follows
// the scheduler's CPU count for the node; when that is unavailable the local
// CPU count is used and fallback is true. HF_HUB_OFFLINE is always 1.
func BuildEnv(lookup func(string) (string, bool)) (env Env, fallback bool) {
	env = Env{EnvHFOffline: "1"}
	cpus, err := schedulerCPUs(lookup)
	if err != nil {
		cpus = runtime.NumCPU()
		fallback = true
	}
	env[EnvOMPThreads] = strconv.Itoa(cpus)
	return env, fallback
}

func schedulerCPUs(lookup func(string) (string, bool)) (int, error) {
	val, ok := lookup(EnvCPUsOnNode)
	if !ok {
		return 0, fmt.Errorf("%s is not set", EnvCPUsOnNode)
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s=%q", EnvCPUsOnNode, val)
	}
	return n, nil
}
