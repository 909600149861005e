// Package supervisor implements the per-connector worker supervisor
// (§4.G): one long-running task per configured source, driving the fetch
// → classify → translate → apply loop and owning the connector's slice of
// the shared status surface.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/synchdb-go/synchdb/src/applier"
	"github.com/synchdb-go/synchdb/src/ddltranslator"
	"github.com/synchdb-go/synchdb/src/dmltranslator"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/infra/debezium"
	"github.com/synchdb-go/synchdb/src/producer"
	"github.com/synchdb-go/synchdb/src/status"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

const defaultNapTime = 5 * time.Second

// defaultMetadataBaseDir matches the original extension's
// $PGDATA/pg_synchdb/ bootstrap location, relative to this process's
// working directory instead of a Postgres data directory.
const defaultMetadataBaseDir = "./pg_synchdb"

// Supervisor drives one connector's event loop from Initializing through
// Syncing/Paused until a shutdown is requested.
type Supervisor struct {
	logger *slog.Logger
	cfg    domain.ConnectorConfig

	statusTbl       *status.Table
	producer        producer.Producer
	ddl             *ddltranslator.Translator
	dml             *dmltranslator.Translator
	apply           *applier.Applier
	metadataBaseDir string
	offsetFilePath  string

	wake chan struct{}
}

func New(
	logger *slog.Logger,
	cfg domain.ConnectorConfig,
	statusTbl *status.Table,
	prod producer.Producer,
	ddl *ddltranslator.Translator,
	dml *dmltranslator.Translator,
	apply *applier.Applier,
) *Supervisor {
	return &Supervisor{
		logger:          logger,
		cfg:             cfg,
		statusTbl:       statusTbl,
		producer:        prod,
		ddl:             ddl,
		dml:             dml,
		apply:           apply,
		metadataBaseDir: defaultMetadataBaseDir,
		wake:            make(chan struct{}, 1),
	}
}

// WithMetadataBaseDir overrides the directory under which this
// connector's metadata subdirectory (and offset file) is created — the
// equivalent of the original extension's $PGDATA/pg_synchdb/ location.
func (s *Supervisor) WithMetadataBaseDir(base string) *Supervisor {
	s.metadataBaseDir = base
	return s
}

// Wake interrupts the latch wait early, used by the admin surface after
// posting a control request so it takes effect promptly.
func (s *Supervisor) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the blocking event loop; it returns when ctx is cancelled or an
// unrecoverable failure stops the connector.
func (s *Supervisor) Run(ctx context.Context, pid int) error {
	if err := s.statusTbl.Acquire(s.cfg.Name, s.cfg.SourceFlavor, pid); err != nil {
		return synchdberr.Errorf(synchdberr.KindConfig, "failed to acquire status slot for %s: %w", s.cfg.Name, err)
	}
	defer s.statusTbl.Release(s.cfg.Name)

	s.statusTbl.SetStage(s.cfg.Name, domain.StageUndef)
	s.statusTbl.ClearError(s.cfg.Name)
	s.statusTbl.SetDatabases(s.cfg.Name, s.cfg.SourceDatabase, s.cfg.DestinationDatabase)

	// Persisted state layout (spec §8): the metadata directory is created at
	// initialization, tolerating a pre-existing directory from a prior run,
	// and an offset file already in it is read back.
	metadataDir := s.cfg.MetadataDir(s.metadataBaseDir)
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		s.logger.Warn("failed to create metadata directory, offset persistence disabled", "connector", s.cfg.Name, "dir", metadataDir, "err", err)
	}
	s.offsetFilePath = s.cfg.OffsetFilePath(metadataDir)
	if persisted, err := os.ReadFile(s.offsetFilePath); err == nil {
		s.statusTbl.SetOffset(s.cfg.Name, string(persisted))
	}

	if err := s.producer.Start(ctx, s.cfg); err != nil {
		s.statusTbl.SetState(s.cfg.Name, domain.StateStopped)
		s.statusTbl.SetError(s.cfg.Name, err.Error())
		return synchdberr.Errorf(synchdberr.KindProducer, "producer failed to start for %s: %w", s.cfg.Name, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 100*time.Second)
		defer cancel()
		if err := s.producer.Stop(stopCtx); err != nil {
			s.logger.Warn("producer stop failed", "connector", s.cfg.Name, "err", err)
		}
	}()

	s.statusTbl.SetState(s.cfg.Name, domain.StateSyncing)

	napTime := defaultNapTime
	if s.cfg.NapTime > 0 {
		napTime = time.Duration(s.cfg.NapTime) * time.Second
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.handleRequest(ctx)

		snapshot, _ := s.statusTbl.Get(s.cfg.Name)
		if snapshot.State == domain.StateStopped {
			return nil
		}

		if snapshot.State == domain.StateSyncing {
			if stop := s.runBatch(ctx); stop {
				return nil
			}
		}

		s.waitLatch(ctx, napTime)
	}
}

// handleRequest drains and applies one pending control request, per §4.G
// step 1: the slot is always cleared, whether or not the transition is
// legal from the current state.
func (s *Supervisor) handleRequest(ctx context.Context) {
	req, ok := s.statusTbl.DrainRequest(s.cfg.Name)
	if !ok {
		return
	}

	snapshot, _ := s.statusTbl.Get(s.cfg.Name)

	if req.State == domain.RequestStop {
		s.statusTbl.SetState(s.cfg.Name, domain.StateStopped)
		return
	}

	next, allowed := domain.NextState(snapshot.State, req.State)
	if !allowed {
		s.logger.Warn("ignoring disallowed state transition", "connector", s.cfg.Name, "from", snapshot.State, "request", req.State)
		return
	}

	s.statusTbl.SetState(s.cfg.Name, next)

	if next == domain.StateOffsetUpdate {
		if err := s.producer.SetOffset(ctx, s.cfg.SourceDatabase, req.Data, s.offsetFilePath); err != nil {
			s.statusTbl.SetError(s.cfg.Name, err.Error())
		} else {
			s.statusTbl.SetOffset(s.cfg.Name, req.Data)
			if s.offsetFilePath != "" {
				if err := os.WriteFile(s.offsetFilePath, []byte(req.Data), 0o644); err != nil {
					s.logger.Warn("failed to persist offset file", "connector", s.cfg.Name, "path", s.offsetFilePath, "err", err)
				}
			}
		}
		// Must return to Paused once the offset update settles (§4.G).
		s.statusTbl.SetState(s.cfg.Name, domain.StatePaused)
	}
}

// runBatch fetches and processes one batch of events. Returns true if the
// connector must stop (an unrecoverable failure occurred).
func (s *Supervisor) runBatch(ctx context.Context) bool {
	s.statusTbl.SetState(s.cfg.Name, domain.StateParsing)

	events, err := s.producer.FetchEvents(ctx)
	if err != nil {
		s.statusTbl.SetState(s.cfg.Name, domain.StateStopped)
		s.statusTbl.SetError(s.cfg.Name, err.Error())
		return true
	}

	if len(events) == 0 {
		s.statusTbl.SetState(s.cfg.Name, domain.StateSyncing)
		return false
	}

	for _, raw := range events {
		if s.processOne(ctx, raw) {
			return true
		}
	}

	s.statusTbl.UpdateStats(s.cfg.Name, func(st *domain.Stats) { st.RecordBatch(len(events)) })
	s.statusTbl.SetState(s.cfg.Name, domain.StateSyncing)
	return false
}

func (s *Supervisor) processOne(ctx context.Context, raw string) (stop bool) {
	ev, err := debezium.ParseRawEvent([]byte(raw))
	if err != nil {
		return s.handleEventError(err)
	}

	switch {
	case ev.Payload.IsDDL():
		s.statusTbl.SetState(s.cfg.Name, domain.StateConverting)
		stmts, fqid, err := s.ddl.Translate(ctx, ev.Payload)
		if err != nil {
			return s.handleEventError(err)
		}
		s.statusTbl.SetState(s.cfg.Name, domain.StateExecuting)
		for _, stmt := range stmts {
			if err := s.apply.ApplyDDL(ctx, s.cfg.Name, stmt); err != nil {
				if s.handleEventError(err) {
					return true
				}
			}
		}
		// The DML Translator's DataCache is keyed by {schema, table} and
		// must never survive a DDL that touched that table (§3).
		if fqid.Table != "" {
			schema := fqid.Schema
			if schema == "" {
				schema = "public"
			}
			s.dml.Invalidate(schema, fqid.Table)
		}
		s.statusTbl.UpdateStats(s.cfg.Name, func(st *domain.Stats) { st.DDLOps++ })

	case ev.Payload.IsDML():
		s.statusTbl.SetState(s.cfg.Name, domain.StateConverting)
		rec, err := s.dml.Translate(ctx, ev)
		if err != nil {
			return s.handleEventError(err)
		}
		s.statusTbl.SetState(s.cfg.Name, domain.StateExecuting)
		if err := s.apply.ApplyDML(ctx, s.cfg.Name, rec, s.cfg.SQLMode, rec.PKColumns); err != nil {
			if s.handleEventError(err) {
				return true
			}
		}
		s.bumpDMLStats(rec.Op)

	default:
		s.logger.Warn("event carries neither ddl nor op, dropping", "connector", s.cfg.Name)
	}

	if ev.Payload.Source.Snapshot == "true" || ev.Payload.Source.Snapshot == "last" {
		s.statusTbl.SetStage(s.cfg.Name, domain.StageInitialSnapshot)
	} else {
		s.statusTbl.SetStage(s.cfg.Name, domain.StageChangeDataCapture)
	}

	s.persistOffset(ctx)
	return false
}

// persistOffset saves the producer's current opaque offset to the
// metadata file and the shared status surface, once the event that
// advanced it has committed (§8: "persisted offset >= pre-commit offset
// after apply_dml commits"). A failure here is logged, not fatal — the
// event itself already committed.
func (s *Supervisor) persistOffset(ctx context.Context) {
	offset, err := s.producer.GetOffset(ctx, s.cfg.SourceDatabase)
	if err != nil {
		s.logger.Warn("failed to read producer offset", "connector", s.cfg.Name, "err", err)
		return
	}
	if offset == "" {
		return
	}

	s.statusTbl.SetOffset(s.cfg.Name, offset)
	if s.offsetFilePath == "" {
		return
	}
	if err := os.WriteFile(s.offsetFilePath, []byte(offset), 0o644); err != nil {
		s.logger.Warn("failed to persist offset file", "connector", s.cfg.Name, "path", s.offsetFilePath, "err", err)
	}
}

func (s *Supervisor) bumpDMLStats(op domain.Op) {
	s.statusTbl.UpdateStats(s.cfg.Name, func(st *domain.Stats) {
		st.DMLOps++
		switch op {
		case domain.OpRead:
			st.Reads++
		case domain.OpCreate:
			st.Inserts++
		case domain.OpUpdate:
			st.Updates++
		case domain.OpDelete:
			st.Deletes++
		}
	})
}

// handleEventError applies the configured failure policy (§7): skip logs
// and continues, exit stops the connector, retry degrades to skip since
// this producer has no redelivery facility.
func (s *Supervisor) handleEventError(err error) (stop bool) {
	s.logger.Error("event processing failed", "connector", s.cfg.Name, "err", err, "kind", synchdberr.Classify(err))
	s.statusTbl.SetError(s.cfg.Name, err.Error())
	s.statusTbl.UpdateStats(s.cfg.Name, func(st *domain.Stats) { st.BadEvents++ })

	switch s.cfg.ErrorStrategy {
	case domain.StrategyExitOnError:
		s.statusTbl.SetState(s.cfg.Name, domain.StateStopped)
		return true
	default: // skip_on_error, retry_on_error (no redelivery facility => skip)
		return false
	}
}

func (s *Supervisor) waitLatch(ctx context.Context, napTime time.Duration) {
	timer := time.NewTimer(napTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-s.wake:
	}
}
