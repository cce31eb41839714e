// Package sqlcommon holds what the SQL datastores share: configuration,
// document reads and writes over squirrel, readiness and migrations.
package sqlcommon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/build"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/storage/sqlcommon")

// DefaultMaxDocumentsPerWrite bounds the rows of one insert statement.
const DefaultMaxDocumentsPerWrite = 100

// Config defines the configuration parameters
// for setting up and managing a sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxDocumentsPerWrite int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// DatastoreOption defines a function type
// used for configuring a Config object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxDocumentsPerWrite returns a DatastoreOption that sets
// the maximum number of rows per insert statement.
func WithMaxDocumentsPerWrite(n int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxDocumentsPerWrite = n
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the
// maximum number of open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the
// maximum number of idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets
// the maximum idle time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets
// the maximum lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetrics returns a DatastoreOption that
// enables the export of metrics in the Config.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values
// and applies any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	if cfg.MaxDocumentsPerWrite <= 0 {
		cfg.MaxDocumentsPerWrite = DefaultMaxDocumentsPerWrite
	}

	return cfg
}

type errorHandlerFn func(error, ...interface{}) error

// DBInfo encapsulates DB information for use in common method.
type DBInfo struct {
	db             *sql.DB
	stbl           sq.StatementBuilderType
	HandleSQLError errorHandlerFn

	dialect      goose.Dialect
	migrationDir string
	upsertSuffix string
	maxPerWrite  int
}

// NewDBInfo constructs a [DBInfo] object. upsertSuffix is appended to
// inserts so a row with an existing (entity, doc_id) replaces the body.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, errorHandler errorHandlerFn, dialect goose.Dialect, migrationDir, upsertSuffix string, cfg *Config) *DBInfo {
	return &DBInfo{
		db:             db,
		stbl:           stbl,
		HandleSQLError: errorHandler,
		dialect:        dialect,
		migrationDir:   migrationDir,
		upsertSuffix:   upsertSuffix,
		maxPerWrite:    cfg.MaxDocumentsPerWrite,
	}
}

// ConfigureDB applies the pool settings of cfg, waits for the database to
// answer and registers its connection stats when metrics are enabled.
func ConfigureDB(db *sql.DB, cfg *Config) (prometheus.Collector, error) {
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := WaitForDB(context.Background(), db, time.Minute, cfg.Logger); err != nil {
		return nil, err
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return collector, nil
}

// WaitForDB pings db with exponential backoff until it answers or timeout
// elapses.
func WaitForDB(ctx context.Context, db *sql.DB, timeout time.Duration, log logger.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil {
			log.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Find provides the common method for reading the documents of an entity
// across sql storage. Identity constraints of q are pushed down; the rest
// of q is evaluated on the decoded bodies.
func Find(ctx context.Context, dbInfo *DBInfo, entity *metadata.Entity, q query.Expression, opts storage.FindOptions) (*storage.FindResult, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.Find", trace.WithAttributes(
		attribute.String("entity", entity.Name),
	))
	defer span.End()

	sb := dbInfo.stbl.
		Select("body").
		From("document").
		Where(sq.Eq{"entity": entity.Name}).
		OrderBy("ulid")
	if keys, ok := identityKeys(entity, q); ok {
		if len(keys) == 0 {
			return storage.SortAndRange(nil, opts), nil
		}
		sb = sb.Where(sq.Eq{"doc_id": keys})
		span.SetAttributes(attribute.Int("identity_keys", len(keys)))
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	var matches []document.Doc
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, dbInfo.HandleSQLError(err)
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: entity %s", storage.ErrCorruptDocument, entity.Name)
		}
		doc, err := document.Parse(body)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %s: %w", storage.ErrCorruptDocument, entity.Name, err)
		}
		ok, err := query.Evaluate(q, doc)
		if err != nil {
			return nil, fmt.Errorf("evaluating query on %s: %w", entity.IdentityOf(doc), err)
		}
		if ok {
			matches = append(matches, doc)
		}
	}
	if err := rows.Err(); err != nil {
		telemetry.TraceError(span, err)
		return nil, dbInfo.HandleSQLError(err)
	}

	span.SetAttributes(attribute.Int("matches", len(matches)))
	return storage.SortAndRange(matches, opts), nil
}

// identityKeys returns the doc_id values a top-level identity conjunct of q
// restricts the entity to. ok is false when no conjunct does.
func identityKeys(entity *metadata.Entity, q query.Expression) ([]string, bool) {
	ids := entity.IdentityFields()
	if len(ids) != 1 {
		return nil, false
	}
	for _, c := range query.Conjuncts(q) {
		var values []any
		switch x := c.(type) {
		case *query.ValueComparison:
			if x.Op != query.OpEq || x.Value == nil || !x.Field.Equal(ids[0]) {
				continue
			}
			values = []any{x.Value}
		case *query.NaryValue:
			if x.Op != query.OpIn || !x.Field.Equal(ids[0]) {
				continue
			}
			values = x.Values
		default:
			continue
		}
		keys := make([]string, 0, len(values))
		seen := map[string]bool{}
		for _, v := range values {
			if v == nil {
				continue
			}
			d := document.Doc{}
			if err := document.Set(d, ids[0], v); err != nil {
				return nil, false
			}
			key := entity.IdentityOf(d).Key()
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
		return keys, true
	}
	return nil, false
}

type row struct {
	key  string
	body string
}

// Write provides the common method for writing documents across sql
// storage. Documents repeating an identity within docs collapse to the
// last one.
func Write(ctx context.Context, dbInfo *DBInfo, entity *metadata.Entity, docs []document.Doc) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.Write", trace.WithAttributes(
		attribute.String("entity", entity.Name),
		attribute.Int("documents", len(docs)),
	))
	defer span.End()

	var rows []row
	pos := map[string]int{}
	for _, d := range docs {
		body, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("%w: %w", storage.ErrCorruptDocument, err)
		}
		key := entity.IdentityOf(d).Key()
		if i, ok := pos[key]; ok {
			rows[i].body = string(body)
			continue
		}
		pos[key] = len(rows)
		rows = append(rows, row{key: key, body: string(body)})
	}
	if len(rows) == 0 {
		return nil
	}

	txn, err := dbInfo.db.BeginTx(ctx, nil)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	for start := 0; start < len(rows); start += dbInfo.maxPerWrite {
		end := min(start+dbInfo.maxPerWrite, len(rows))
		ib := dbInfo.stbl.
			Insert("document").
			Columns("entity", "doc_id", "ulid", "body").
			Suffix(dbInfo.upsertSuffix).
			RunWith(txn)
		for _, r := range rows[start:end] {
			ib = ib.Values(entity.Name, r.key, ulid.Make().String(), r.body)
		}
		if _, err := ib.ExecContext(ctx); err != nil {
			telemetry.TraceError(span, err)
			return dbInfo.HandleSQLError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return dbInfo.HandleSQLError(err)
	}
	return nil
}

// IsReady returns true if connection to datastore is successful AND
// the datastore has the latest migration applied.
func IsReady(ctx context.Context, dbInfo *DBInfo) (storage.ReadinessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// do ping first to ensure we have better error message
	// if error is due to connection issue.
	if pingErr := dbInfo.db.PingContext(ctx); pingErr != nil {
		return storage.ReadinessStatus{}, pingErr
	}

	revision, err := CurrentVersion(ctx, dbInfo.db, dbInfo.dialect, dbInfo.migrationDir)
	if err != nil {
		return storage.ReadinessStatus{}, err
	}

	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return storage.ReadinessStatus{
			Message: "datastore requires migrations: at revision '" +
				strconv.FormatInt(revision, 10) +
				"', but requires '" +
				strconv.FormatInt(build.MinimumSupportedDatastoreSchemaRevision, 10) +
				"'. Run '" + build.ProjectName + " migrate'.",
			IsReady: false,
		}, nil
	}
	return storage.ReadinessStatus{
		IsReady: true,
	}, nil
}
