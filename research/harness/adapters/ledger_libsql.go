package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ZanzyTHEbar/investment-research/research/cost"
)

// timestampLayout has fixed-width fractions so rows sort lexically by time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// LibSQLCostLedger persists cost records in the cost_records table. Dollar
// amounts are stored as decimal strings so no precision is lost.
type LibSQLCostLedger struct {
	db *sql.DB
}

// NewLibSQLCostLedger creates a ledger over an already-migrated database.
func NewLibSQLCostLedger(db *sql.DB) *LibSQLCostLedger {
	return &LibSQLCostLedger{db: db}
}

// Append inserts rec. Re-appending the same query id replaces the row.
func (l *LibSQLCostLedger) Append(ctx context.Context, rec cost.Record) error {
	tickers, err := json.Marshal(rec.Tickers)
	if err != nil {
		return fmt.Errorf("failed to marshal tickers: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO cost_records
			(query_id, query, period, provider, model, tickers,
			 input_tokens, output_tokens, input_cost, output_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query,
		rec.QueryID.String(), rec.Query, rec.Period, rec.Provider, rec.Model, string(tickers),
		rec.Tokens.Input, rec.Tokens.Output,
		rec.Cost.Input.String(), rec.Cost.Output.String(),
		rec.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save cost record: %w", err)
	}
	return nil
}

// List returns every record, oldest first.
func (l *LibSQLCostLedger) List(ctx context.Context) ([]cost.Record, error) {
	query := `
		SELECT query_id, query, period, provider, model, tickers,
		       input_tokens, output_tokens, input_cost, output_cost, created_at
		FROM cost_records
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	var out []cost.Record
	for rows.Next() {
		var (
			id, tickers, inCost, outCost string
			created                      any
			rec                          cost.Record
		)
		if err := rows.Scan(&id, &rec.Query, &rec.Period, &rec.Provider, &rec.Model, &tickers,
			&rec.Tokens.Input, &rec.Tokens.Output, &inCost, &outCost, &created); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}

		if rec.QueryID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("cost record %q: bad query id: %w", id, err)
		}
		if err := json.Unmarshal([]byte(tickers), &rec.Tickers); err != nil {
			return nil, fmt.Errorf("cost record %s: bad tickers: %w", id, err)
		}
		if rec.Cost.Input, err = decimal.NewFromString(inCost); err != nil {
			return nil, fmt.Errorf("cost record %s: bad input cost: %w", id, err)
		}
		if rec.Cost.Output, err = decimal.NewFromString(outCost); err != nil {
			return nil, fmt.Errorf("cost record %s: bad output cost: %w", id, err)
		}
		if rec.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, fmt.Errorf("cost record %s: bad timestamp: %w", id, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cost records: %w", err)
	}
	return out, nil
}

// parseTimestamp reads created_at as the driver returns it. The driver turns
// timestamp-looking TEXT into time.Time, or back into RFC 3339 text without
// the fraction, so the stored layout cannot be assumed on read.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimestampText(t)
	case []byte:
		return parseTimestampText(string(t))
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampText(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Reset deletes every record.
func (l *LibSQLCostLedger) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM cost_records`); err != nil {
		return fmt.Errorf("failed to reset cost ledger: %w", err)
	}
	return nil
}

var _ cost.Ledger = (*LibSQLCostLedger)(nil)
