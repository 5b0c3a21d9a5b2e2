// Package relay wires the relay's components into one explicitly owned
// runtime: created once at startup, closed once at shutdown.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"badgeup.io/relay/internal/api"
	"badgeup.io/relay/internal/award"
	"badgeup.io/relay/internal/cache"
	"badgeup.io/relay/internal/config"
	"badgeup.io/relay/internal/dispatch"
	"badgeup.io/relay/internal/host"
	"badgeup.io/relay/internal/listener"
	"badgeup.io/relay/internal/persistence/indexdb"
	plog "badgeup.io/relay/internal/persistence/log"
	"badgeup.io/relay/internal/position"
	"badgeup.io/relay/internal/progress"
	"badgeup.io/relay/internal/protocol"
)

type Runtime struct {
	cfg    config.Config
	logger *log.Logger

	client       *api.Client
	achievements *cache.Cache[api.Achievement]
	dispatcher   *dispatch.Dispatcher
	progress     *progress.Service
	blocks       *listener.Blocks

	journal *plog.DropJournal
	index   *indexdb.SQLiteIndex
}

// Stats is a point-in-time view of the runtime's counters.
type Stats struct {
	Dispatch       dispatch.Stats `json:"dispatch"`
	Cache          cache.Stats    `json:"cache"`
	JournalWritten uint64         `json:"journal_written"`
	JournalLost    uint64         `json:"journal_lost"`
	IndexSkipped   uint64         `json:"index_skipped"`
}

// New builds the runtime. httpClient may be nil.
func New(cfg config.Config, logger *log.Logger, httpClient *http.Client) (*Runtime, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	client, err := api.New(api.Config{
		BaseURL:    cfg.API.BaseURL,
		APIKey:     cfg.API.APIKey,
		Timeout:    cfg.API.Timeout,
		MaxPages:   cfg.API.MaxPages,
		UserAgent:  cfg.API.UserAgent,
		Logger:     logger,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	r := &Runtime{cfg: cfg, logger: logger, client: client}

	var recorders []dispatch.Recorder
	if cfg.Data.DropJournal {
		r.journal = plog.NewDropJournal(cfg.Data.Dir, 0, logger)
		recorders = append(recorders, r.journal)
	}
	if cfg.Data.OutcomeIndex {
		idx, err := indexdb.OpenSQLite(indexdb.PathFor(cfg.Data.Dir), logger)
		if err != nil {
			_ = r.journal.Close()
			return nil, fmt.Errorf("outcome index: %w", err)
		}
		r.index = idx
		recorders = append(recorders, idx)
	}

	opts := cache.Options{
		FetchTimeout:         cfg.API.Timeout,
		MaxConcurrentFetches: int64(cfg.Cache.MaxConcurrentFetches),
		TTL:                  cfg.Cache.TTL,
		FailureTTL:           cfg.Cache.FailureTTL,
		Retry:                cache.RetryPolicy{MaxAttempts: cfg.Cache.RetryAttempts},
		Logger:               logger,
	}
	r.achievements = cache.New[api.Achievement](client.GetAchievement, opts)

	r.dispatcher = dispatch.New(client, dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		SendTimeout: cfg.API.Timeout,
		Logger:      logger,
		Recorders:   recorders,
	})
	r.progress = progress.NewService(client, r.achievements, cfg.Progress.Parallelism)
	r.blocks = listener.NewBlocks(r.dispatcher, logger)
	return r, nil
}

// Close stops intake, drains the dispatcher within ctx, then releases the
// cache, journal and index.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := r.achievements.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("drop journal: %w", err))
		}
	}
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome index: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BlockChange decodes a BLOCK_BREAK or BLOCK_PLACE message and submits its
// envelopes. It returns how many were submitted.
func (r *Runtime) BlockChange(msg protocol.BlockChangeMsg) (int, error) {
	c, err := DecodeBlockChange(msg)
	if err != nil {
		return 0, err
	}
	switch msg.Type {
	case protocol.TypeBlockBreak:
		return r.blocks.OnBreak(c), nil
	case protocol.TypeBlockPlace:
		return r.blocks.OnPlace(c), nil
	default:
		return 0, protocol.Errorf(protocol.ErrProtoBadRequest, "type", "not a block change: %q", msg.Type)
	}
}

// Progress lists a subject's progress joined with achievement definitions.
func (r *Runtime) Progress(ctx context.Context, subject string) ([]progress.Entry, error) {
	return r.progress.ForSubject(ctx, subject)
}

// Grant executes an award for player on world.
func (r *Runtime) Grant(ctx context.Context, world host.World, msg protocol.AwardMsg) error {
	id, err := uuid.Parse(msg.PlayerID)
	if err != nil {
		return protocol.Wrap(protocol.ErrMalformedValue, "player_id", err)
	}
	player := host.StaticPlayer{PlayerID: id, At: position.FromArray(msg.Position)}
	switch msg.Award.Type {
	case award.TypeEntity:
		e := &award.Entity{World: world, Logger: r.logger}
		return e.Grant(ctx, player, msg.Award.Data)
	case "":
		return protocol.Errorf(protocol.ErrMissingField, "award.type", "award type is empty")
	default:
		return protocol.Errorf(protocol.ErrLookupNotFound, "award.type", "unknown award type %q", msg.Award.Type)
	}
}

func (r *Runtime) Stats() Stats {
	st := Stats{
		Dispatch: r.dispatcher.Stats(),
		Cache:    r.achievements.Stats(),
	}
	if r.journal != nil {
		st.JournalWritten = r.journal.Written()
		st.JournalLost = r.journal.Lost()
	}
	if r.index != nil {
		st.IndexSkipped = r.index.Skipped()
	}
	return st
}

// Index is the outcome index, nil when disabled.
func (r *Runtime) Index() *indexdb.SQLiteIndex { return r.index }

func (r *Runtime) Logger() *log.Logger { return r.logger }
