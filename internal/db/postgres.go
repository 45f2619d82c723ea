package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/txguard-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for TxGuard Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("TxGuard scan-event schema initialized")
	return nil
}

// SaveScanEvent persists one emitted scan event. The emitter calls this
// off the hot path, so a failure here never affects a scan response.
func (s *PostgresStore) SaveScanEvent(ctx context.Context, ev models.ScanEvent) error {
	sql := `
		INSERT INTO scan_events
			(scan_id, user_wallet, risk_level, risk_score, confidence, scan_time_ms,
			 program_count, instruction_count, pattern_matches_count, scan_type, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (scan_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		ev.ScanID,
		ev.UserWallet,
		string(ev.RiskLevel),
		ev.RiskScore,
		ev.Confidence,
		ev.ScanTimeMs,
		ev.ProgramCount,
		ev.InstructionCount,
		ev.PatternMatchesCount,
		ev.ScanType,
		ev.Timestamp,
	)
	return err
}

// RecentScanEvents pages through the newest persisted events.
func (s *PostgresStore) RecentScanEvents(ctx context.Context, page, limit int) ([]models.ScanEvent, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_events`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT scan_id, user_wallet, risk_level, risk_score, confidence, scan_time_ms,
		       program_count, instruction_count, pattern_matches_count, scan_type, scanned_at
		FROM scan_events
		ORDER BY scanned_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]models.ScanEvent, 0)
	for rows.Next() {
		var ev models.ScanEvent
		var level string
		if err := rows.Scan(&ev.ScanID, &ev.UserWallet, &level, &ev.RiskScore, &ev.Confidence,
			&ev.ScanTimeMs, &ev.ProgramCount, &ev.InstructionCount, &ev.PatternMatchesCount,
			&ev.ScanType, &ev.Timestamp); err != nil {
			return nil, 0, err
		}
		ev.RiskLevel = models.RiskLevel(level)
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return events, totalCount, nil
}

// HighRiskScanEvents returns recent CAUTION/DANGER events, newest first.
// Backs the alert-history endpoint.
func (s *PostgresStore) HighRiskScanEvents(ctx context.Context, since time.Time, limit int) ([]models.ScanEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sql := `
		SELECT scan_id, user_wallet, risk_level, risk_score, confidence, scan_time_ms,
		       program_count, instruction_count, pattern_matches_count, scan_type, scanned_at
		FROM scan_events
		WHERE risk_level IN ('CAUTION', 'DANGER') AND scanned_at >= $1
		ORDER BY scanned_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, sql, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.ScanEvent, 0)
	for rows.Next() {
		var ev models.ScanEvent
		var level string
		if err := rows.Scan(&ev.ScanID, &ev.UserWallet, &level, &ev.RiskScore, &ev.Confidence,
			&ev.ScanTimeMs, &ev.ProgramCount, &ev.InstructionCount, &ev.PatternMatchesCount,
			&ev.ScanType, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.RiskLevel = models.RiskLevel(level)
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// VerdictBreakdown aggregates persisted events per risk level.
type VerdictBreakdown struct {
	RiskLevel    string  `json:"riskLevel"`
	Count        int64   `json:"count"`
	AvgRiskScore float64 `json:"avgRiskScore"`
	AvgScanTime  float64 `json:"avgScanTimeMs"`
}

// ScanStats aggregates the scan_events table for the stats endpoint.
func (s *PostgresStore) ScanStats(ctx context.Context, since time.Time) ([]VerdictBreakdown, error) {
	sql := `
		SELECT risk_level, COUNT(*), AVG(risk_score), AVG(scan_time_ms)
		FROM scan_events
		WHERE scanned_at >= $1
		GROUP BY risk_level
		ORDER BY risk_level
	`
	rows, err := s.pool.Query(ctx, sql, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make([]VerdictBreakdown, 0, 3)
	for rows.Next() {
		var b VerdictBreakdown
		if err := rows.Scan(&b.RiskLevel, &b.Count, &b.AvgRiskScore, &b.AvgScanTime); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return breakdown, nil
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
