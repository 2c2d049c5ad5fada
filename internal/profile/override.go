package profile

import (
	"time"
)

// Override holds config-file adjustments to a built-in profile. Zero values
// leave the built-in setting alone; pointer fields distinguish an explicit
// zero from "unset".
type Override struct {
	Mode      string        `koanf:"mode"`
	JobName   string        `koanf:"job_name"`
	TimeLimit time.Duration `koanf:"time_limit"`
	NTasks    int           `koanf:"ntasks"`
	Nodes     int           `koanf:"nodes"`
	MemPerCPU string        `koanf:"mem_per_cpu"`
	GPUs      *int          `koanf:"gpus"`
	Requeue   *bool         `koanf:"requeue"`
	Signal    string        `koanf:"signal"`
	Output    string        `koanf:"output"`
	Python    string        `koanf:"python"`
	Script    string        `koanf:"script"`
	Settings  string        `koanf:"settings"`
	Wrapper   []string      `koanf:"wrapper"`
	NoWrapper bool          `koanf:"no_wrapper"`
}

// ApplyTo merges o into p.
func (o Override) ApplyTo(p *Profile) error {
	d := &p.Directives
	if o.Mode != "" {
		p.Mode = o.Mode
	}
	if o.JobName != "" {
		d.JobName = o.JobName
	}
	if o.TimeLimit != 0 {
		d.TimeLimit = o.TimeLimit
	}
	if o.NTasks != 0 {
		d.NTasks = o.NTasks
	}
	if o.Nodes != 0 {
		d.Nodes = o.Nodes
	}
	if o.MemPerCPU != "" {
		d.MemPerCPU = o.MemPerCPU
	}
	if o.GPUs != nil {
		d.GPUs = *o.GPUs
	}
	if o.Requeue != nil {
		d.Requeue = *o.Requeue
	}
	if o.Signal != "" {
		sig, err := ParsePreExpirySignal(o.Signal)
		if err != nil {
			return err
		}
		d.Signal = sig
	}
	if o.Output != "" {
		d.Output = o.Output
	}

	pl := &p.Pipeline
	if o.Python != "" {
		pl.Python = o.Python
	}
	if o.Script != "" {
		pl.Script = o.Script
	}
	if o.Settings != "" {
		pl.Settings = o.Settings
	}
	switch {
	case o.NoWrapper:
		pl.Wrapper = nil
	case len(o.Wrapper) > 0:
		pl.Wrapper = append([]string(nil), o.Wrapper...)
	}
	return nil
}
