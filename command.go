package biocore

import (
	"strings"
	"time"
)

// HandlerConfig describes how a scheduled or CLI-triggered job runs.
type HandlerConfig struct {
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Deadline   time.Time     `json:"deadline" yaml:"deadline"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	MaxRuns    int           `json:"max_runs" yaml:"max_runs"`
	RunOnce    bool          `json:"run_once" yaml:"run_once"`
	Expression string        `json:"expression" yaml:"expression"`
	NoTimeout  bool          `json:"no_timeout" yaml:"no_timeout"`
}

// CronCommand is implemented by jobs the scheduler runs periodically.
type CronCommand interface {
	CronHandler() func() error
	CronOptions() HandlerConfig
}

// CLICommand is implemented by jobs exposed as kong sub commands.
type CLICommand interface {
	CLIHandler() any
	CLIOptions() CLIConfig
}

// CLIConfig describes a job's sub command. With a Path the command is
// nested, e.g. Path ["jobs"] and Name "sweep" becomes "jobs sweep", and Group
// becomes the help text of the parent commands.
type CLIConfig struct {
	Name        string
	Description string
	Group       string
	Path        []string
	Aliases     []string
	Hidden      bool
}

func (opts CLIConfig) BuildTags() []string {
	var tags []string
	if len(opts.Aliases) > 0 {
		aliases := "aliases:" + strings.Join(opts.Aliases, ",")
		tags = append(tags, aliases)
	}

	if opts.Hidden {
		tags = append(tags, `hidden:""`)
	}

	return tags
}
