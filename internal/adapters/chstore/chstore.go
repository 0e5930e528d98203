// Package chstore implements per-hero ClickHouse persistence: one table per
// hero id, batched inserts from the scheduler's Save/Completed events, and
// the pivot scan the query planner needs.
package chstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/big"
	"time"

	"dota2index/internal/core/mask"
	"dota2index/internal/core/planner"
	"dota2index/internal/core/seqrange"
	perr "dota2index/internal/platform/errors"
	"dota2index/internal/platform/logger"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// maxHero mirrors the mask package's hero id ceiling; kept local to avoid an
// import solely for a constant.
const maxHero = 255

const persistMaxBackoff = 30 * time.Second

// Options configures a Store's connection to ClickHouse
type Options struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	Secure      bool
	DialTimeout time.Duration
	MaxRetries  int
	RetryBase   time.Duration
}

// Store is the ClickHouse-backed implementation of scheduler.Persister and
// planner.Index
type Store struct {
	conn clickhouse.Conn
	opts Options
	log  *logger.Logger
}

// Open connects to ClickHouse and returns a Store. It does not create tables;
// call EnsureSchema once at startup.
func Open(ctx context.Context, o Options) (*Store, error) {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}

	var tlsCfg *tls.Config
	if o.Secure {
		tlsCfg = &tls.Config{}
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		TLS:         tlsCfg,
		DialTimeout: o.DialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: open")
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: ping")
	}

	return &Store{conn: conn, opts: o, log: logger.Named("chstore")}, nil
}

// Close releases the underlying connection
func (s *Store) Close() error { return s.conn.Close() }

// EnsureSchema creates every per-hero table, idempotently
func (s *Store) EnsureSchema(ctx context.Context) error {
	for h := 1; h <= maxHero; h++ {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				match_id UInt64,
				radiant UInt256,
				dire UInt256
			)
			ENGINE = MergeTree
			PARTITION BY intDiv(match_id, 100000000)
			ORDER BY match_id
			PRIMARY KEY match_id
		`, tableName(uint8(h)))
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeDB, "chstore: create table for hero %d", h)
		}
	}
	return nil
}

func tableName(hero uint8) string {
	return fmt.Sprintf("index_mask_%d", hero)
}

// Persist buckets each mask into every hero table it touches (Radiant ∪ Dire,
// up to ten heroes per match) and batch-inserts one row per (hero, match).
// Transient storage failures (connection drops, batch send timeouts) are
// retried with exponential backoff up to opts.MaxRetries; anything else
// returns immediately.
func (s *Store) Persist(ctx context.Context, _ seqrange.Range, masks []mask.MatchMask) error {
	byHero := bucketByHero(masks)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return perr.Wrap(err, perr.ErrorCodeTransport, "chstore: context cancelled")
		}

		err := s.persistOnce(ctx, byHero)
		if err == nil {
			return nil
		}
		if !perr.IsRetryable(err) || attempt >= s.opts.MaxRetries {
			return err
		}

		back := s.backoff(attempt)
		s.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempt).Msg("chstore persist failed, retrying")
		s.sleep(ctx, back)
	}
}

func (s *Store) persistOnce(ctx context.Context, byHero map[uint8][]mask.MatchMask) error {
	for hero, rows := range byHero {
		if err := s.insertHero(ctx, hero, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) backoff(attempt int) time.Duration {
	d := s.opts.RetryBase << uint(attempt)
	if d > persistMaxBackoff {
		d = persistMaxBackoff
	}
	return d
}

func (s *Store) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// bucketByHero groups masks under every hero id present across either side,
// matching the persistence schema's "one row per (hero, match)" layout.
func bucketByHero(masks []mask.MatchMask) map[uint8][]mask.MatchMask {
	byHero := make(map[uint8][]mask.MatchMask)
	for _, m := range masks {
		for _, h := range m.Radiant.Or(m.Dire).All() {
			byHero[h] = append(byHero[h], m)
		}
	}
	return byHero
}

// insertHero's failures are classified Unavailable (retryable) rather than
// DB (fatal): PrepareBatch/Append/Send all fail the same way on a dropped
// connection or a slow node, which is exactly the transient case Persist's
// retry loop exists for.
func (s *Store) insertHero(ctx context.Context, hero uint8, rows []mask.MatchMask) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+tableName(hero))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "chstore: prepare batch for hero %d", hero)
	}
	for _, r := range rows {
		if err := batch.Append(r.MatchID, r.Radiant.ToBigInt(), r.Dire.ToBigInt()); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "chstore: append row for hero %d", hero)
		}
	}
	if err := batch.Send(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "chstore: send batch for hero %d", hero)
	}
	return nil
}

// CountHero implements planner.Index
func (s *Store) CountHero(ctx context.Context, hero uint8) (int64, error) {
	row := s.conn.QueryRow(ctx, "SELECT count(*) FROM "+tableName(hero))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: count hero %d", hero)
	}
	return n, nil
}

// buildPivotQuery renders the scan SQL and its positional args for a pivot
// hero table under pred. Kept separate from ScanPivot so the SQL shape is
// unit-testable without a live connection.
func buildPivotQuery(pivot uint8, pred planner.Predicate, limit, offset int) (string, []any) {
	if pred.Single {
		query := fmt.Sprintf(`
			SELECT match_id, radiant, dire FROM %s
			WHERE (radiant | ?) = radiant OR (dire | ?) = dire
			ORDER BY match_id DESC
			LIMIT ? OFFSET ?
		`, tableName(pivot))
		p := pred.Primary.ToBigInt()
		return query, []any{p, p, limit, offset}
	}

	query := fmt.Sprintf(`
		SELECT match_id, radiant, dire FROM %s
		WHERE ((radiant | ?) = radiant AND (dire | ?) = dire)
		   OR ((radiant | ?) = radiant AND (dire | ?) = dire)
		ORDER BY match_id DESC
		LIMIT ? OFFSET ?
	`, tableName(pivot))
	p, o := pred.Primary.ToBigInt(), pred.Secondary.ToBigInt()
	return query, []any{p, o, o, p, limit, offset}
}

// ScanPivot implements planner.Index
func (s *Store) ScanPivot(ctx context.Context, pivot uint8, pred planner.Predicate, limit, offset int) ([]mask.MatchDraft, error) {
	query, args := buildPivotQuery(pivot, pred, limit, offset)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: scan pivot hero %d", pivot)
	}
	defer rows.Close()

	out := make([]mask.MatchDraft, 0, limit)
	for rows.Next() {
		var (
			matchID uint64
			radiant big.Int
			dire    big.Int
		)
		if err := rows.Scan(&matchID, &radiant, &dire); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: scan row")
		}
		m := mask.MatchMask{
			MatchID: matchID,
			Radiant: mask.FromBigInt(&radiant),
			Dire:    mask.FromBigInt(&dire),
		}
		out = append(out, mask.Decode(m))
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chstore: row iteration")
	}
	return out, nil
}
