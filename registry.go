package biocore

import (
	"sync"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// CronRegisterFunc hands a cron job to a scheduler.
type CronRegisterFunc func(opts HandlerConfig, handler func() error) error

func NilCronRegister(opts HandlerConfig, handler func() error) error {
	return nil
}

// Registry collects jobs once at process start and exposes them to the CLI
// and the scheduler.
type Registry struct {
	mu                 sync.RWMutex
	commandsToRegister []any
	initialized        bool
	cronRegisterFn     CronRegisterFunc
	cliOptions         []kong.Option
	cliTree            *cliNode
	cronCount          int
}

func NewRegistry() *Registry {
	return &Registry{
		cliOptions: make([]kong.Option, 0),
		cliTree:    newCLINode(""),
	}
}

func (r *Registry) SetCronRegister(fn CronRegisterFunc) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cronRegisterFn = fn
	return r
}

func (r *Registry) RegisterCommand(cmd any) error {
	if cmd == nil {
		return errors.New("command cannot be nil", errors.CategoryBadInput).
			WithTextCode("NIL_COMMAND")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("cannot register commands after registry has been initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}
	r.commandsToRegister = append(r.commandsToRegister, cmd)

	return nil
}

func (r *Registry) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.New("registry already initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_ALREADY_INITIALIZED")
	}

	var errs error
	for _, cmd := range r.commandsToRegister {
		if cliCmd, ok := cmd.(CLICommand); ok {
			if err := r.registerWithCLI(cliCmd); err != nil {
				errs = errors.Join(errs, err)
			}
		}

		if cronCmd, ok := cmd.(CronCommand); ok {
			if err := r.registerWithCron(cronCmd); err != nil {
				errs = errors.Join(errs, err)
			}
		}
	}

	r.initialized = true

	return errs
}

func (r *Registry) registerWithCron(cronCmd CronCommand) error {
	if r.cronRegisterFn == nil {
		return errors.New("cron scheduler not provided during initialization", errors.CategoryBadInput).
			WithTextCode("CRON_SCHEDULER_NOT_SET")
	}

	handler := cronCmd.CronHandler()
	config := cronCmd.CronOptions()

	if err := r.cronRegisterFn(config, handler); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "cron scheduler registration failed").
			WithTextCode("CRON_REGISTRATION_FAILED").
			WithMetadata(map[string]any{
				"expression": config.Expression,
			})
	}
	r.cronCount++

	return nil
}

func (r *Registry) registerWithCLI(cliCmd CLICommand) error {
	opts := cliCmd.CLIOptions()
	if len(opts.Path) > 0 {
		return r.cliTree.insert(opts, cliCmd.CLIHandler())
	}

	option := kong.DynamicCommand(
		opts.Name,
		opts.Description,
		opts.Group,
		cliCmd.CLIHandler(),
		opts.BuildTags()...,
	)

	r.cliOptions = append(r.cliOptions, option)
	return nil
}

func (r *Registry) GetCLIOptions() ([]kong.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, errors.New("registry not initialized", errors.CategoryConflict).
			WithTextCode("REGISTRY_NOT_INITIALIZED")
	}

	nested, err := r.cliTree.options()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "cli command tree").
			WithTextCode("CLI_TREE_INVALID")
	}

	options := make([]kong.Option, 0, len(r.cliOptions)+len(nested))
	options = append(options, r.cliOptions...)
	return append(options, nested...), nil
}

// CronJobs reports how many cron jobs were handed to the scheduler.
func (r *Registry) CronJobs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cronCount
}
