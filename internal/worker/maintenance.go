package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/logging"
)

// maintenanceQueue is kept apart from the job queues so a flood of user
// jobs never delays a sweep.
const maintenanceQueue = "maintenance"

// Maintenance runs periodic housekeeping tasks on asynq: a scheduler that
// enqueues the stale-job and settlement sweeps and a small server that
// processes them.
type Maintenance struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	interval  time.Duration
	log       *zerolog.Logger
}

// NewMaintenance wires the reaper and the settlement sweep onto asynq.
func NewMaintenance(cfg *config.Config, reaper *Reaper, settlements *Settlements, logger *zerolog.Logger) *Maintenance {
	l := logging.Component(logger, "Maintenance")
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	alog := asynqLogger{log: l}
	level := AsynqLogLevel(cfg.Server.LogLevel)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{maintenanceQueue: 1},
		Logger:      alog,
		LogLevel:    level,
	})
	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   alog,
		LogLevel: level,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeReapStale, reaper.ProcessTask)
	mux.HandleFunc(TaskTypeSettle, settlements.ProcessTask)

	interval := time.Duration(cfg.Worker.ReapIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	return &Maintenance{
		server:    srv,
		scheduler: sched,
		mux:       mux,
		interval:  interval,
		log:       l,
	}
}

// Run blocks until ctx is done, then stops the scheduler and server.
func (m *Maintenance) Run(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", m.interval)
	for _, task := range []*asynq.Task{NewReapTask(), NewSettleTask()} {
		if _, err := m.scheduler.Register(spec, task,
			asynq.Queue(maintenanceQueue),
			asynq.Unique(m.interval),
			asynq.MaxRetry(0),
		); err != nil {
			return fmt.Errorf("register %s schedule: %w", task.Type(), err)
		}
	}

	if err := m.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := m.server.Start(m.mux); err != nil {
		m.scheduler.Shutdown()
		return fmt.Errorf("start maintenance server: %w", err)
	}
	m.log.Info().Dur("interval", m.interval).Msg("maintenance started")

	<-ctx.Done()

	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.log.Info().Msg("maintenance stopped")
	return nil
}

// AsynqLogLevel maps the service log level onto asynq's levels.
func AsynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log *zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.log.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.log.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.log.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.log.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.log.Fatal().Msg(fmt.Sprint(args...)) }
