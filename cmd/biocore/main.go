package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/entity"
	"github.com/goliatone/go-biocore/flow"
	"github.com/goliatone/go-biocore/modules"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type CLI struct {
	Config string `short:"c" type:"path" env:"BIOCORE_CONFIG" help:"YAML or JSON configuration file."`

	Tables     tablesCmd     `cmd:"" help:"Print entity transition tables."`
	Transition transitionCmd `cmd:"" help:"Transition an entity document to a new state."`
	Signal     signalCmd     `cmd:"" help:"Publish a domain event and print the report."`
	Demo       demoCmd       `cmd:"" help:"Run the built in scenarios in memory and print the dashboard."`
	Schedule   scheduleCmd   `cmd:"" help:"Run the scheduled jobs until interrupted."`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "biocore: "+err.Error())
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run(args []string) error {
	cfg, err := loadConfig(configPath(args))
	if err != nil {
		return errors.New(biocore.ErrorMessage(err))
	}
	logger := biocore.NewDefaultGLogger(os.Stderr, cfg.Logging.Level, cfg.JSONLogs())

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring failed: %s", biocore.ErrorMessage(err))
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("closing runtime: %v", err)
		}
	}()

	jobs, err := rt.registry.GetCLIOptions()
	if err != nil {
		return fmt.Errorf("job commands unavailable: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	parser, err := kong.New(&cli, append([]kong.Option{
		kong.Name("biocore"),
		kong.Description("Entity lifecycles coordinated by bio-inspired modules."),
		kong.UsageOnError(),
		kong.Bind(rt),
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, jobs...)...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) && parseErr.Context != nil {
			_ = parseErr.Context.PrintUsage(false)
		}
		return err
	}
	return kctx.Run()
}

type tablesCmd struct {
	Kind string `arg:"" optional:"" help:"Entity kind; all kinds when omitted."`
}

func (c *tablesCmd) Run() error {
	tables := entity.Describe()
	if c.Kind != "" {
		kind, ok := entity.ParseKind(c.Kind)
		if !ok {
			return fmt.Errorf("unknown entity kind %q", c.Kind)
		}
		for _, t := range tables {
			if t.Kind == kind {
				tables = []entity.TableInfo{t}
				break
			}
		}
	}
	return writeYAML(os.Stdout, tables)
}

type transitionCmd struct {
	Kind   string `arg:"" help:"Entity kind."`
	File   string `short:"f" type:"existingfile" required:"" help:"Entity document, YAML or JSON."`
	To     string `required:"" help:"Target state."`
	Reason string `help:"Transition reason."`
	Amount string `help:"Decimal amount for payments and refunds."`
	Actor  string `help:"Who requested the transition."`
}

func (c *transitionCmd) Run(ctx context.Context, rt *runtime) error {
	kind, ok := entity.ParseKind(c.Kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %q", c.Kind)
	}
	doc, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	meta := flow.Metadata{Reason: c.Reason, Actor: c.Actor}
	if c.Amount != "" {
		amount, err := decimal.NewFromString(c.Amount)
		if err != nil {
			return fmt.Errorf("amount %q: %w", c.Amount, err)
		}
		meta = meta.WithAmount(amount)
	}
	out, err := rt.machines.TransitionDocument(ctx, kind, doc, c.To, meta)
	if err != nil {
		return errors.New(biocore.ErrorCode(err) + ": " + biocore.ErrorMessage(err))
	}
	return writeYAML(os.Stdout, out)
}

type signalCmd struct {
	Topic  string             `arg:"" help:"Event topic, e.g. product.price."`
	Values map[string]float64 `short:"s" name:"set" help:"Numeric payload values, key=value."`
	Alert  bool               `help:"Send as an alert instead of a trigger."`
}

func (c *signalCmd) Run(ctx context.Context, rt *runtime) error {
	payload := make(map[string]any, len(c.Values)+1)
	for k, v := range c.Values {
		payload[k] = v
	}
	if c.Alert {
		payload["alert"] = true
	}
	report, err := rt.coord.Signal(ctx, c.Topic, payload)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, report)
}

type demoCmd struct{}

func (c *demoCmd) Run(ctx context.Context, rt *runtime) error {
	if err := runScenarios(ctx, rt); err != nil {
		return err
	}
	return writeJSON(os.Stdout, rt.dashboard.GetDashboardData())
}

type scheduleCmd struct {
	MetricsAddr string `help:"Serve Prometheus metrics on this address; overrides dashboard.metrics_addr."`
}

func (c *scheduleCmd) Run(ctx context.Context, rt *runtime) error {
	if _, err := rt.snapshotJob(); err != nil {
		return err
	}

	addr := c.MetricsAddr
	if addr == "" {
		addr = rt.cfg.Dashboard.MetricsAddr
	}

	g, ctx := errgroup.WithContext(ctx)
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.dashboard.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			rt.logger.Info("serving metrics on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info("scheduler running %d jobs", rt.scheduler.Jobs())
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return rt.scheduler.Stop(stopCtx)
	})
	return g.Wait()
}

// runScenarios drives the wired runtime through a few representative flows.
func runScenarios(ctx context.Context, rt *runtime) error {
	order := entity.NewOrder("")
	order.Items = []entity.OrderItem{{SKU: "SKU-1", Quantity: 50, UnitPrice: decimal.NewFromInt(100)}}
	order.ShippingAddress = "1 Harbour Way"
	order.Total = order.ItemsTotal()
	order.PaymentConfirmed = true
	if err := rt.exec.Orders.Create(ctx, order); err != nil {
		return err
	}
	if _, _, err := rt.exec.Orders.Apply(ctx, order.ID, entity.OrderPendingPayment, flow.Metadata{}); err != nil {
		return err
	}
	paid := flow.Metadata{Actor: "demo", Extra: map[string]any{modules.KeyAverageAmount: 120.0}}
	if _, _, err := rt.exec.Orders.Apply(ctx, order.ID, entity.OrderPaid, paid.WithAmount(order.Total)); err != nil {
		return err
	}

	signals := []struct {
		topic   string
		payload map[string]any
	}{
		{"product.price", map[string]any{modules.KeyPriceChangePct: 18.0}},
		{"system.load", map[string]any{modules.KeyErrorRatePct: 35.0, modules.KeyDemandGrowth: 20.0}},
		{"shipment.in_transit", map[string]any{modules.KeyDelayMinutes: 45}},
	}
	for _, s := range signals {
		if _, err := rt.coord.Signal(ctx, s.topic, s.payload); err != nil {
			return err
		}
	}

	inv := entity.NewInvoice("", decimal.NewFromInt(640))
	due := time.Now().Add(-24 * time.Hour)
	inv.DueDate = &due
	inv.Status = entity.InvoiceSent
	if err := rt.exec.Invoices.Create(ctx, inv); err != nil {
		return err
	}
	_, err := rt.sweep.Run(ctx)
	return err
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
