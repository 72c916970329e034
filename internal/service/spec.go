package service

import (
	"time"

	"github.com/Adelost/harness/internal/logger"
)

// Defaults for the start/stop windows and the URL poll cadence.
const (
	DefaultStartTimeout  = 15 * time.Second
	DefaultStopTimeout   = 5 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond

	signalPollInterval = 50 * time.Millisecond
)

// Ready describes how the harness decides a started service is usable.
// Exactly one strategy applies: a Signal substring matched against the
// service's combined stdout+stderr, or a URL polled until it answers 2xx.
// When both are set, Signal wins.
type Ready struct {
	Signal   string        `mapstructure:"signal"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"` // URL poll interval, default 500ms
}

func (r Ready) configured() bool { return r.Signal != "" || r.URL != "" }

func (r Ready) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return DefaultReadyInterval
}

// Resources declares host requirements. GPU presence is enforced before
// spawning; the RAM/VRAM minimums are advisory and only logged.
type Resources struct {
	GPU       bool `mapstructure:"gpu"`
	MinRAMMB  int  `mapstructure:"min_ram_mb"`
	MinVRAMMB int  `mapstructure:"min_vram_mb"`
}

// Spec describes a service to be started for a test run. Name must be unique
// within the run; it tags every diagnostic the harness emits for the service.
type Spec struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	WorkDir string            `mapstructure:"workdir"`
	Env     map[string]string `mapstructure:"env"`

	Ready     Ready  `mapstructure:"ready"`
	HealthURL string `mapstructure:"health_url"` // post-start probe, distinct from readiness

	StartTimeout time.Duration `mapstructure:"start_timeout"` // default 15s
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`  // default 5s

	Resources *Resources    `mapstructure:"resources"`
	Log       logger.Config `mapstructure:"log"` // optional file mirroring of captured output
}

func (s Spec) startTimeout() time.Duration {
	if s.StartTimeout > 0 {
		return s.StartTimeout
	}
	return DefaultStartTimeout
}

func (s Spec) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// Validate rejects specs that can never start. Readiness misconfiguration is
// checked here, before any process is spawned, so a bad spec surfaces as a
// configuration error rather than a startup timeout.
func (s Spec) Validate() error {
	if s.Name == "" {
		return newError("", KindConfig, "service name is required")
	}
	if s.Command == "" {
		return newError(s.Name, KindConfig, "command is required")
	}
	if !s.Ready.configured() {
		return newError(s.Name, KindConfig, "ready config requires signal or url")
	}
	return nil
}
