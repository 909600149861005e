package domain

import "time"

// SourceFlavor identifies the upstream relational engine a connector captures from.
type SourceFlavor string

const (
	FlavorMySQL     SourceFlavor = "mysql"
	FlavorSQLServer SourceFlavor = "sqlserver"
	FlavorOracle    SourceFlavor = "oracle"
)

// SnapshotMode mirrors the Debezium snapshot.mode values the producer honors.
type SnapshotMode string

const (
	SnapshotInitial     SnapshotMode = "initial"
	SnapshotInitialOnly SnapshotMode = "initial_only"
	SnapshotNever       SnapshotMode = "never"
	SnapshotNoData      SnapshotMode = "no_data"
	SnapshotAlways       SnapshotMode = "always"
	SnapshotSchemaSync  SnapshotMode = "schemasync"
)

// ErrorStrategy governs how the supervisor reacts to a per-event failure.
type ErrorStrategy string

const (
	StrategySkipOnError  ErrorStrategy = "skip_on_error"
	StrategyExitOnError  ErrorStrategy = "exit_on_error"
	StrategyRetryOnError ErrorStrategy = "retry_on_error"
)

// ConnectorConfig is the immutable per-connector descriptor an admin command
// creates and a supervisor task owns for its lifetime.
type ConnectorConfig struct {
	Name                string
	SourceFlavor        SourceFlavor
	Host                string
	Port                int
	User                string
	Credential          string
	SourceDatabase      string
	DestinationDatabase string
	TableIncludeList    []string
	SnapshotMode        SnapshotMode
	ErrorStrategy       ErrorStrategy
	SQLMode             bool // true = emit textual SQL, false = tuple mode
	NapTime             int  // seconds, default 5
	RulesFilePath       string
	Restart             RestartPolicy
}

// RestartPolicy bounds how many times a connector's supervisor goroutine is
// launched (MaxAttempts counts the first launch too) when it exits after an
// unrecoverable producer failure, with exponential backoff between attempts. The original recycles the whole backend process
// via the postmaster's bgw_restart_time; this repo recycles the goroutine
// instead, since every connector shares one Go binary (§ REDESIGN FLAGS).
type RestartPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRestartPolicy is used when a ConnectorConfig leaves Restart
// zero-valued.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxAttempts: 5, Backoff: 2 * time.Second}
}

// Effective returns p if it names a positive attempt budget, else the
// default policy.
func (p RestartPolicy) Effective() RestartPolicy {
	if p.MaxAttempts <= 0 {
		return DefaultRestartPolicy()
	}
	return p
}

// NextBackoff returns the bounded exponential delay before restart attempt
// number attempt (1-indexed), capped at ten times the base backoff.
func (p RestartPolicy) NextBackoff(attempt int) time.Duration {
	eff := p.Effective()
	backoff := eff.Backoff
	if backoff <= 0 {
		backoff = DefaultRestartPolicy().Backoff
	}
	maxBackoff := backoff * 10
	d := backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// MetadataDir is the directory under which the connector's offset file and
// any other persisted per-connector state lives.
func (c ConnectorConfig) MetadataDir(base string) string {
	return base + "/" + string(c.SourceFlavor) + "_" + c.Name
}

// OffsetFilePath is the file holding the producer-opaque offset string.
func (c ConnectorConfig) OffsetFilePath(metadataDir string) string {
	return metadataDir + "/" + string(c.SourceFlavor) + "_" + c.Name + "_offsets.dat"
}
