package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mlsync/config"
	"mlsync/models"
	"mlsync/storage"
)

// Syncer runs one sync for a provider. Satisfied by the orchestrator.
type Syncer interface {
	SyncProvider(ctx context.Context, cfg *models.ProviderConfig, syncType string) (*models.SyncRun, error)
}

// ProviderSource reads provider configs and flips cancel flags.
type ProviderSource interface {
	ListProviderConfigs(ctx context.Context, onlyEnabled bool) ([]*models.ProviderConfig, error)
	GetProviderConfig(ctx context.Context, id string) (*models.ProviderConfig, error)
	RequestCancel(ctx context.Context, providerID string) (bool, error)
}

// CommandQueue is the local operator command store.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

// Scheduler decides when each provider syncs: cron or ticker driven,
// per-provider intervals, and operator commands from the local queue. The
// run lock in storage is what prevents overlap, so dispatching a provider
// that turns out to be busy is harmless.
type Scheduler struct {
	cfg       *config.Config
	syncer    Syncer
	providers ProviderSource
	commands  CommandQueue
	cron      *cron.Cron
	ticker    *time.Ticker
	stopCh    chan struct{}
	paused    atomic.Bool
}

func New(cfg *config.Config, syncer Syncer, providers ProviderSource, commands CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		syncer:    syncer,
		providers: providers,
		commands:  commands,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runDue(ctx, false)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	log.Printf("Starting scheduler with tick: %s", s.cfg.Scheduler.Tick)
	s.ticker = time.NewTicker(s.cfg.Scheduler.Tick)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runDue(ctx, false)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// runDue dispatches every enabled provider whose interval has elapsed.
// force ignores the interval check (operator "sync now").
func (s *Scheduler) runDue(ctx context.Context, force bool) {
	if s.paused.Load() {
		return
	}

	configs, err := s.providers.ListProviderConfigs(ctx, true)
	if err != nil {
		log.Printf("Scheduler: list providers: %v", err)
		return
	}

	now := time.Now()
	for _, cfg := range configs {
		if !force && !cfg.Due(now) {
			continue
		}
		go s.dispatch(ctx, cfg, "")
	}
}

// dispatch runs one provider sync. Each provider gets its own goroutine so
// a slow feed never delays the others; the storage lock rejects overlap.
func (s *Scheduler) dispatch(ctx context.Context, cfg *models.ProviderConfig, syncType string) {
	if _, err := s.syncer.SyncProvider(ctx, cfg, syncType); err != nil && err != storage.ErrRunActive {
		log.Printf("Scheduler: sync %s: %v", cfg.ID, err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scheduler.CommandPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.commands.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.HandleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.commands.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdSyncNow:
		s.runDue(ctx, true)
		return nil
	case models.CmdSyncProvider:
		if params.Provider == "" {
			s.runDue(ctx, true)
			return nil
		}
		cfg, err := s.providers.GetProviderConfig(ctx, params.Provider)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("unknown provider: %s", params.Provider)
		}
		go s.dispatch(ctx, cfg, params.SyncType)
		return nil
	case models.CmdCancel:
		cancelled, err := s.providers.RequestCancel(ctx, params.Provider)
		if err != nil {
			return err
		}
		if !cancelled {
			log.Printf("No active run for %s, cancel ignored", params.Provider)
		}
		return nil
	case models.CmdPause:
		s.paused.Store(true)
		log.Println("Scheduler paused")
		return nil
	case models.CmdResume:
		s.paused.Store(false)
		log.Println("Scheduler resumed")
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

// TriggerNow dispatches all enabled providers regardless of interval.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runDue(ctx, true)
}
