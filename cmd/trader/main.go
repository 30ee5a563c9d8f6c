package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"venuelink/internal/bus"
	"venuelink/internal/cache"
	"venuelink/internal/client"
	"venuelink/internal/journal"
	"venuelink/internal/obs"
	"venuelink/internal/ops"
	"venuelink/internal/order"
	"venuelink/internal/risk"
	"venuelink/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config/trader.yaml", "path to YAML config")
	profile := flag.Bool("profile", false, "enable continuous profiling regardless of config")
	statsInterval := flag.Duration("stats-interval", 15*time.Second, "stats log interval (0=disable)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		os.Exit(1)
	}
	if *profile {
		loaded.Profiling.Enabled = true
	}

	if loaded.Profiling.Enabled {
		profiler, err := startProfiler(loaded.Profiling)
		if err != nil {
			logs.Errorf("start profiler, err: %+v", err)
			os.Exit(1)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(loaded, *statsInterval); err != nil {
		logs.Errorf("trader stopped, err: %+v", err)
		os.Exit(1)
	}
	logs.Info("trader stopped")
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

// app holds what run wires up, so shutdown can unwind it.
type app struct {
	bus     *bus.MessageBus
	queue   *bus.Queue
	cache   *cache.Cache
	metrics *obs.Metrics
	risk    []order.Option

	data        []client.DataClient
	executions  []*order.Usecase
	background  []func(ctx context.Context)
	subaccounts []func(ctx context.Context) error
	closers     []func() error
}

func run(loaded ops.Loaded, statsInterval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &app{
		bus:     bus.NewMessageBus(loaded.Bus.Name),
		queue:   bus.NewQueue(loaded.Bus.QueueSize),
		cache:   cache.New(),
		metrics: obs.NewMetrics(),
	}
	if err := a.cache.Attach(a.bus); err != nil {
		return err
	}
	if err := a.metrics.Attach(a.bus); err != nil {
		return err
	}
	a.metrics.TrackQueue(a.queue)
	defer a.close()

	if !loaded.Risk.IsZero() {
		engine, err := risk.NewEngine(loaded.Risk, a.cache)
		if err != nil {
			return err
		}
		a.risk = append(a.risk, order.WithRisk(engine))
	}

	if loaded.Journal != nil {
		if err := a.setupJournal(ctx, *loaded.Journal); err != nil {
			return err
		}
	}
	if loaded.BitMEX != nil {
		if err := a.setupBitMEX(loaded, *loaded.BitMEX); err != nil {
			return err
		}
	}
	if loaded.DYDX != nil {
		if err := a.setupDYDX(loaded, *loaded.DYDX); err != nil {
			return err
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		a.queue.Run(egCtx, a.bus)
		return nil
	})
	for _, use := range a.executions {
		if err := use.Register(a.bus); err != nil {
			return err
		}
		eg.Go(func() error {
			use.Run(egCtx)
			return nil
		})
	}
	for _, fn := range a.background {
		eg.Go(func() error {
			fn(egCtx)
			return nil
		})
	}
	eg.Go(func() error {
		obs.Report(egCtx, a.metrics, statsInterval)
		return nil
	})
	eg.Go(func() error {
		purgeRequests(egCtx, a.bus, loaded.Bus.RequestTTL)
		return nil
	})

	for _, dc := range a.data {
		if err := dc.Connect(ctx); err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
	}
	if err := a.subscribeAll(ctx, loaded); err != nil {
		logs.Errorf("subscribe, err: %+v", err)
	}

	select {
	case <-sys.Shutdown():
		logs.Info("shutdown signal received")
	case <-egCtx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), loaded.ShutdownTimeout)
	defer stopCancel()
	for _, dc := range a.data {
		if err := dc.Disconnect(stopCtx); err != nil {
			logs.Errorf("disconnect %s, err: %+v", dc.Venue(), err)
		}
	}
	a.queue.Close()
	cancel()
	return eg.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logs.Errorf("close, err: %+v", err)
		}
	}
}

func (a *app) setupJournal(ctx context.Context, cfg ops.Journal) error {
	pg, err := conn.NewPostgres(ctx, conn.Option{ConnString: cfg.DSN.Reveal()})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pg.Close)

	store, err := journal.NewGormStore(pg.DB())
	if err != nil {
		return err
	}
	j := journal.New(journal.Config{}, store)
	if err := j.Attach(a.bus); err != nil {
		return err
	}
	a.background = append(a.background, j.Run)
	return nil
}

func purgeRequests(ctx context.Context, b *bus.MessageBus, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := b.PurgeExpired(now); n > 0 {
				logs.Infof("warn: purged %d expired bus requests", n)
			}
		}
	}
}

func orderConfig(venue string, cfg ops.OrderConfig) order.Config {
	return order.Config{
		Venue:          venue,
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		SubmitRate:     cfg.SubmitRate,
		SubmitBurst:    cfg.SubmitBurst,
		CommandTimeout: cfg.CommandTimeout,
	}
}
