package coordinator

import (
	"context"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/entity"
	"github.com/goliatone/go-biocore/flow"
)

// SweepResult counts what one pass over the invoices did.
type SweepResult struct {
	Scanned int      `json:"scanned"`
	Marked  []string `json:"marked"`
	Failed  []string `json:"failed,omitempty"`
}

// OverdueSweep moves every payable invoice past its due date to overdue. It
// runs as a cron job and as a CLI sub command.
type OverdueSweep struct {
	invoices   *flow.Executor[*entity.Invoice, entity.InvoiceStatus]
	expression string
	timeout    time.Duration
	clock      func() time.Time
	logger     biocore.Logger
}

type SweepOption func(*OverdueSweep)

func WithSweepClock(clock func() time.Time) SweepOption {
	return func(s *OverdueSweep) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithSweepLogger(l biocore.Logger) SweepOption {
	return func(s *OverdueSweep) { s.logger = biocore.NormalizeLogger(l) }
}

// WithSweepTimeout bounds a single pass.
func WithSweepTimeout(d time.Duration) SweepOption {
	return func(s *OverdueSweep) { s.timeout = d }
}

func NewOverdueSweep(invoices *flow.Executor[*entity.Invoice, entity.InvoiceStatus], expression string, opts ...SweepOption) *OverdueSweep {
	s := &OverdueSweep{
		invoices:   invoices,
		expression: expression,
		timeout:    time.Minute,
		clock:      time.Now,
		logger:     biocore.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run does one pass. A failing invoice is logged and skipped; only a failure
// to list aborts the pass.
func (s *OverdueSweep) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	invoices, err := s.invoices.List(ctx)
	if err != nil {
		return result, err
	}
	now := s.clock()
	for _, inv := range invoices {
		result.Scanned++
		if !inv.Overdue(now) {
			continue
		}
		_, _, err := s.invoices.Apply(ctx, inv.ID, entity.InvoiceOverdue, flow.Metadata{
			Reason: "due date passed",
			Actor:  "overdue-sweep",
		})
		if err != nil {
			result.Failed = append(result.Failed, inv.ID)
			s.logger.Warn("overdue sweep skipped invoice %s: %s", inv.ID, biocore.ErrorMessage(err))
			continue
		}
		result.Marked = append(result.Marked, inv.ID)
	}
	s.logger.Info("overdue sweep scanned=%d marked=%d failed=%d", result.Scanned, len(result.Marked), len(result.Failed))
	return result, nil
}

func (s *OverdueSweep) CronHandler() func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, err := s.Run(ctx)
		return err
	}
}

func (s *OverdueSweep) CronOptions() biocore.HandlerConfig {
	return biocore.HandlerConfig{
		Expression: s.expression,
		Timeout:    s.timeout,
		MaxRetries: 1,
	}
}

func (s *OverdueSweep) CLIHandler() any {
	return &sweepCommand{sweep: s}
}

func (s *OverdueSweep) CLIOptions() biocore.CLIConfig {
	return biocore.CLIConfig{
		Name:        "sweep-overdue",
		Description: "Mark payable invoices past their due date as overdue",
		Group:       "Run scheduled jobs once",
		Path:        []string{"jobs"},
		Aliases:     []string{"sweep"},
	}
}

type sweepCommand struct {
	sweep *OverdueSweep
}

func (c *sweepCommand) Run() error {
	return c.sweep.CronHandler()()
}
