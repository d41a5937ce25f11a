package biocore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconcileJob is both a cron job and a CLI command.
type reconcileJob struct {
	name string
}

func (j *reconcileJob) CLIHandler() any {
	return &runCommand{name: j.name}
}

func (j *reconcileJob) CLIOptions() CLIConfig {
	return CLIConfig{
		Name:        j.name,
		Description: fmt.Sprintf("Reconcile %s", j.name),
		Group:       "jobs",
	}
}

func (j *reconcileJob) CronHandler() func() error {
	return func() error { return nil }
}

func (j *reconcileJob) CronOptions() HandlerConfig {
	return HandlerConfig{
		Expression: "0 0 * * *",
		MaxRetries: 3,
		Timeout:    time.Hour,
	}
}

type runCommand struct {
	name string
	ran  bool
}

func (c *runCommand) Run(*kong.Context) error {
	c.ran = true
	return nil
}

type cliJob struct {
	name string
	path []string
}

func (c *cliJob) CLIHandler() any {
	return &runCommand{name: c.name}
}

func (c *cliJob) CLIOptions() CLIConfig {
	return CLIConfig{
		Name:        c.name,
		Description: fmt.Sprintf("Run %s", c.name),
		Group:       "Maintenance",
		Path:        c.path,
	}
}

type snapshotJob struct{}

func (snapshotJob) CronHandler() func() error { return func() error { return nil } }

func (snapshotJob) CronOptions() HandlerConfig {
	return HandlerConfig{Expression: "@every 5m", MaxRetries: 1}
}

type fakeScheduler struct {
	mu      sync.Mutex
	configs []HandlerConfig
	fail    bool
}

func (f *fakeScheduler) register(opts HandlerConfig, _ func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("scheduler rejected job")
	}
	f.configs = append(f.configs, opts)
	return nil
}

func (f *fakeScheduler) registered() []HandlerConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]HandlerConfig(nil), f.configs...)
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	assert.Empty(t, registry.commandsToRegister)
	assert.False(t, registry.initialized)
	assert.Empty(t, registry.cliOptions)
	assert.Nil(t, registry.cronRegisterFn)
}

func TestSetCronRegisterChains(t *testing.T) {
	registry := NewRegistry()
	sched := &fakeScheduler{}

	assert.Same(t, registry, registry.SetCronRegister(sched.register))
	assert.NotNil(t, registry.cronRegisterFn)
}

func TestRegisterCommand(t *testing.T) {
	tests := []struct {
		name        string
		cmd         any
		initialized bool
		wantCode    string
	}{
		{name: "valid command", cmd: &reconcileJob{name: "ledger"}},
		{name: "nil command", cmd: nil, wantCode: "NIL_COMMAND"},
		{name: "after initialize", cmd: &reconcileJob{name: "ledger"}, initialized: true, wantCode: "REGISTRY_ALREADY_INITIALIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			registry.initialized = tt.initialized

			err := registry.RegisterCommand(tt.cmd)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []any{tt.cmd}, registry.commandsToRegister)
		})
	}
}

func TestInitialize(t *testing.T) {
	t.Run("routes commands by interface", func(t *testing.T) {
		sched := &fakeScheduler{}
		registry := NewRegistry().SetCronRegister(sched.register)

		require.NoError(t, registry.RegisterCommand(&reconcileJob{name: "ledger"}))
		require.NoError(t, registry.RegisterCommand(&cliJob{name: "vacuum"}))
		require.NoError(t, registry.RegisterCommand(snapshotJob{}))
		require.NoError(t, registry.Initialize())

		options, err := registry.GetCLIOptions()
		require.NoError(t, err)
		assert.Len(t, options, 2)

		configs := sched.registered()
		require.Len(t, configs, 2)
		assert.Equal(t, "0 0 * * *", configs[0].Expression)
		assert.Equal(t, "@every 5m", configs[1].Expression)
		assert.Equal(t, 2, registry.CronJobs())
	})

	t.Run("twice", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Initialize())

		err := registry.Initialize()
		require.Error(t, err)
		assert.Equal(t, "REGISTRY_ALREADY_INITIALIZED", ErrorCode(err))
	})

	t.Run("scheduler failure is reported", func(t *testing.T) {
		registry := NewRegistry().SetCronRegister((&fakeScheduler{fail: true}).register)
		require.NoError(t, registry.RegisterCommand(snapshotJob{}))

		err := registry.Initialize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduler rejected job")
		assert.True(t, registry.initialized)
		assert.Zero(t, registry.CronJobs())
	})

	t.Run("cron job without scheduler", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.RegisterCommand(snapshotJob{}))

		err := registry.Initialize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cron scheduler not provided")
	})

	t.Run("nil cron register accepts jobs", func(t *testing.T) {
		registry := NewRegistry().SetCronRegister(NilCronRegister)
		require.NoError(t, registry.RegisterCommand(snapshotJob{}))
		require.NoError(t, registry.Initialize())
		assert.Equal(t, 1, registry.CronJobs())
	})
}

func TestGetCLIOptions(t *testing.T) {
	t.Run("returns a copy", func(t *testing.T) {
		registry := NewRegistry()
		registry.initialized = true
		registry.cliOptions = append(registry.cliOptions, kong.DynamicCommand("ledger", "desc", "jobs", &runCommand{}))

		options, err := registry.GetCLIOptions()
		require.NoError(t, err)
		require.Len(t, options, 1)

		_ = append(options, kong.DynamicCommand("other", "desc", "jobs", &runCommand{}))
		assert.Len(t, registry.cliOptions, 1)
	})

	t.Run("before initialize", func(t *testing.T) {
		options, err := NewRegistry().GetCLIOptions()
		require.Error(t, err)
		assert.Equal(t, "REGISTRY_NOT_INITIALIZED", ErrorCode(err))
		assert.Nil(t, options)
	})

	t.Run("command without interfaces", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.RegisterCommand(&struct{}{}))
		require.NoError(t, registry.Initialize())

		options, err := registry.GetCLIOptions()
		require.NoError(t, err)
		assert.Empty(t, options)
	})
}

func TestNestedCLICommandsParse(t *testing.T) {
	registry := NewRegistry()
	vacuum := &cliJob{name: "vacuum", path: []string{"maintenance"}}
	reindex := &cliJob{name: "re-index", path: []string{"maintenance"}}
	require.NoError(t, registry.RegisterCommand(vacuum))
	require.NoError(t, registry.RegisterCommand(reindex))
	require.NoError(t, registry.Initialize())

	options, err := registry.GetCLIOptions()
	require.NoError(t, err)
	require.Len(t, options, 1)

	var root struct{}
	parser, err := kong.New(&root, append(options, kong.Exit(func(int) {}))...)
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"maintenance", "re-index"})
	require.NoError(t, err)
	assert.Equal(t, "maintenance re-index", kctx.Command())
	require.NoError(t, kctx.Run())
}

func TestNestedCLIConflicts(t *testing.T) {
	root := newCLINode("")
	require.NoError(t, root.insert(CLIConfig{Name: "vacuum", Path: []string{"maintenance"}}, &runCommand{}))

	err := root.insert(CLIConfig{Name: "vacuum", Path: []string{"maintenance"}}, &runCommand{})
	assert.Equal(t, "CLI_PATH_CONFLICT", ErrorCode(err))

	err = root.insert(CLIConfig{Name: "deep", Path: []string{"maintenance", "vacuum"}}, &runCommand{})
	assert.Equal(t, "CLI_PATH_CONFLICT", ErrorCode(err))

	err = root.insert(CLIConfig{Name: "bad", Path: []string{"maintenance"}}, runCommand{})
	assert.Equal(t, "CLI_HANDLER_INVALID", ErrorCode(err))

	err = root.insert(CLIConfig{Path: []string{"maintenance"}}, &runCommand{})
	assert.Equal(t, "CLI_PATH_EMPTY", ErrorCode(err))
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "SweepOverdue", fieldName("sweep-overdue"))
	assert.Equal(t, "Cmd2fa", fieldName("2fa"))
	assert.Equal(t, "Cmd", fieldName("--"))
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry().SetCronRegister((&fakeScheduler{}).register)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := registry.RegisterCommand(&reconcileJob{name: fmt.Sprintf("job-%d", id)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("register: %v", err)
	}

	require.NoError(t, registry.Initialize())
	assert.Len(t, registry.commandsToRegister, 10)
	assert.Equal(t, 10, registry.CronJobs())

	wg = sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.GetCLIOptions()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
