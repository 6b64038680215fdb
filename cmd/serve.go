package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/alert"
	"github.com/hotelops/livesync/internal/cacheinv"
	"github.com/hotelops/livesync/internal/config"
	"github.com/hotelops/livesync/internal/connectivity"
	"github.com/hotelops/livesync/internal/db"
	"github.com/hotelops/livesync/internal/engine"
	httpSrv "github.com/hotelops/livesync/internal/http"
	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/metrics"
	"github.com/hotelops/livesync/internal/mirror"
	"github.com/hotelops/livesync/internal/model"
	"github.com/hotelops/livesync/internal/registry"
	"github.com/hotelops/livesync/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event coordination engine for one tenant session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.TenantID == "" {
			return fmt.Errorf("tenant_id is required (set LIVESYNC_TENANT_ID or config)")
		}

		logger.Init(cfg.LogLevel)
		defer logger.Sync()
		metrics.MustRegister(prometheus.DefaultRegisterer)

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		sqliteDB, err := db.NewSQLiteConnection(cfg.Mirror.Path, db.SQLiteOpts{
			PingTimeout: cfg.Mirror.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer func() { _ = sqliteDB.Close() }()

		store := mirror.NewSQLiteStore(sqliteDB)
		if err := store.Migrate(context.Background()); err != nil {
			return fmt.Errorf("mirror schema: %w", err)
		}

		reg, err := buildRegistry(cfg.Categories)
		if err != nil {
			return err
		}

		inv := cacheinv.NewRedis(redisClient, cfg.Redis.CachePrefix+cfg.TenantID+":", 512)
		channel := alert.NewRedisChannel(redisClient, cfg.Redis.AlertChannel+":"+cfg.TenantID)
		gateway := alert.NewGateway(channel, alert.NewMemoryCooldowns(), cfg.Engine.CooldownWindow)
		gateway.Format("orders", orderFormatter)

		eng := engine.New(engine.Config{
			TenantID:      cfg.TenantID,
			QueueCapacity: cfg.Engine.QueueCapacity,
			BatchSize:     cfg.Engine.BatchSize,
			BatchWindow:   cfg.Engine.BatchWindow,
		}, reg, inv, gateway, mirror.NewReplicator(store))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		inv.Start(ctx)
		eng.Start(ctx)
		defer eng.Close()

		monitor := connectivity.NewMonitor()
		monitor.OnChange(eng.SetOnline)
		probeAddr := cfg.Connectivity.ProbeAddr
		if probeAddr == "" && len(cfg.Kafka.Brokers) > 0 {
			probeAddr = cfg.Kafka.Brokers[0]
		}
		if probeAddr != "" {
			probe := connectivity.NewDialProbe(probeAddr, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
			go monitor.Run(ctx, probe)
		}

		for _, category := range reg.Categories() {
			consumer := source.NewConsumerFromConfig(source.Config{
				Brokers:        cfg.Kafka.Brokers,
				Topic:          cfg.Kafka.TopicPrefix + "." + category,
				GroupID:        cfg.Kafka.GroupID + "-" + cfg.TenantID,
				MinBytes:       cfg.Kafka.MinBytes,
				MaxBytes:       cfg.Kafka.MaxBytes,
				CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
			})
			defer consumer.Close()

			sub := source.NewSubscriber(category, consumer, eng)
			if cfg.Kafka.FailThreshold > 0 {
				sub.FailThreshold = cfg.Kafka.FailThreshold
			}
			go sub.Run(ctx)
		}

		server := httpSrv.NewServer(cfg, eng, store)

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Info("starting http", zap.String("addr", cfg.HTTP.Addr))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			logger.Log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		return nil
	},
}

func buildRegistry(categories []config.CategoryConfig) (*registry.Registry, error) {
	descs := make([]registry.Descriptor, 0, len(categories))
	for _, cc := range categories {
		prio, ok := model.ParsePriority(cc.Priority)
		if !ok {
			return nil, fmt.Errorf("category %q: invalid priority %q", cc.Name, cc.Priority)
		}
		ops := make([]model.Operation, 0, len(cc.Operations))
		for _, o := range cc.Operations {
			op, ok := model.ParseOperation(o)
			if !ok {
				return nil, fmt.Errorf("category %q: invalid operation %q", cc.Name, o)
			}
			ops = append(ops, op)
		}
		descs = append(descs, registry.Descriptor{
			Category:    cc.Name,
			Priority:    prio,
			Invalidates: cc.Invalidates,
			Alert:       registry.Alert{Audible: cc.Alert.Audible, Visual: cc.Alert.Visual},
			Operations:  ops,
		})
	}
	return registry.New(descs)
}

// orderFormatter renders room-service orders, e.g.
// "New breakfast request from room 204".
func orderFormatter(ev model.ChangeEvent) (string, string) {
	var rec struct {
		Service string `json:"service"`
		Room    string `json:"room"`
	}
	_ = json.Unmarshal(ev.Entity, &rec)

	title := "Room service"
	switch {
	case ev.Operation != model.OpCreated:
		return title, fmt.Sprintf("Order #%s %s", ev.EntityID, ev.Operation)
	case rec.Service != "" && rec.Room != "":
		return title, fmt.Sprintf("New %s request from room %s", rec.Service, rec.Room)
	default:
		return title, fmt.Sprintf("New order #%s", ev.EntityID)
	}
}
