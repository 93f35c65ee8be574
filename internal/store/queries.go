package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"polymarket-engine/pkg/types"
)

const timeLayout = time.RFC3339

// UpsertResult reports the outcome of a market batch write.
type UpsertResult struct {
	Inserted int
	Skipped  int
}

// BatchUpsertMarkets writes markets with insert-if-absent semantics: a
// conditionId already present is left untouched and counted as skipped.
func (s *Store) BatchUpsertMarkets(ctx context.Context, markets []types.Market) (UpsertResult, error) {
	var res UpsertResult
	if len(markets) == 0 {
		return res, nil
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO markets (
			condition_id, question, slug, category, outcomes, clob_token_ids, end_date,
			active, closed, restricted, enable_order_book, approved, ready, funded,
			featured, is_new, neg_risk,
			order_min_size, order_price_min_tick_size, accepting_orders, accepting_orders_timestamp,
			uma_bond, uma_reward, resolved_by, resolution_source, submitted_by,
			group_item_title, group_item_threshold, custom_liveness, image, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return res, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(timeLayout)
	for i := range markets {
		m := &markets[i]
		outcomes, _ := json.Marshal(m.Outcomes)
		tokens, _ := json.Marshal(m.ClobTokenIDs)

		r, err := stmt.ExecContext(ctx,
			m.ConditionID, m.Question, m.Slug, m.Category, string(outcomes), string(tokens),
			formatTime(m.EndDate),
			m.Active, m.Closed, m.Restricted, m.EnableOrderBook, m.Approved, m.Ready,
			m.Funded, m.Featured, m.IsNew, m.NegRisk,
			m.OrderMinSize, m.OrderPriceMinTickSize, m.AcceptingOrders, formatTime(m.AcceptingOrdersTimestamp),
			m.UMABond, m.UMAReward, m.ResolvedBy, m.ResolutionSource, m.SubmittedBy,
			m.GroupItemTitle, m.GroupItemThreshold, m.CustomLiveness, m.Image, now,
		)
		if err != nil {
			return res, fmt.Errorf("upsert %s: %w", m.ConditionID, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// BatchRecordPriceSnapshots appends snapshots. A snapshot whose conditionId
// has no market row is dropped, keeping the store referentially consistent.
// Returns the number of rows written.
func (s *Store) BatchRecordPriceSnapshots(ctx context.Context, snaps []types.PriceSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_snapshots (
			condition_id, outcome_prices, best_bid, best_ask, spread, last_trade_price,
			price_change_1h, price_change_1d, price_change_1wk, price_change_1mo, price_change_1y,
			volume_num, volume_24hr, volume_1wk, volume_1mo, volume_1yr,
			volume_amm, volume_24hr_amm, volume_clob, volume_24hr_clob,
			liquidity_num, liquidity_amm, liquidity_clob,
			competitive, comment_count, recorded_at
		)
		SELECT ?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?
		WHERE EXISTS (SELECT 1 FROM markets WHERE condition_id = ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i := range snaps {
		sn := &snaps[i]
		prices, _ := json.Marshal(sn.OutcomePrices)
		recordedAt := sn.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}

		r, err := stmt.ExecContext(ctx,
			sn.ConditionID, string(prices), sn.BestBid, sn.BestAsk, sn.Spread, sn.LastTradePrice,
			sn.PriceChange1h, sn.PriceChange1d, sn.PriceChange1wk, sn.PriceChange1mo, sn.PriceChange1y,
			sn.Volume, sn.Volume24h, sn.Volume1wk, sn.Volume1mo, sn.Volume1y,
			sn.VolumeAMM, sn.Volume24hAMM, sn.VolumeCLOB, sn.Volume24hCLOB,
			sn.Liquidity, sn.LiquidityAMM, sn.LiquidityCLOB,
			sn.Competitive, sn.CommentCount, recordedAt.Format(timeLayout),
			sn.ConditionID,
		)
		if err != nil {
			return written, fmt.Errorf("record snapshot %s: %w", sn.ConditionID, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// InsertMarketPricesIgnoreDuplicates appends precise-price rows. Rows with
// both sides nil or any non-finite value are dropped before insert;
// duplicates on (conditionId, tokenId, fetchedAt) are ignored.
func (s *Store) InsertMarketPricesIgnoreDuplicates(ctx context.Context, prices []types.MarketPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO market_prices (
			condition_id, token_id, outcome, outcome_index,
			buy_price, sell_price, mid_price, spread, spread_pct, fetched_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i := range prices {
		p := &prices[i]
		if p.BuyPrice == nil && p.SellPrice == nil {
			continue
		}
		if !finitePtr(p.BuyPrice) || !finitePtr(p.SellPrice) ||
			!finitePtr(p.MidPrice) || !finitePtr(p.Spread) || !finitePtr(p.SpreadPct) {
			continue
		}
		fetchedAt := p.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = time.Now().UTC()
		}

		r, err := stmt.ExecContext(ctx,
			p.ConditionID, p.TokenID, p.Outcome, p.OutcomeIndex,
			nullFloat(p.BuyPrice), nullFloat(p.SellPrice),
			nullFloat(p.MidPrice), nullFloat(p.Spread), nullFloat(p.SpreadPct),
			fetchedAt.Format(timeLayout),
		)
		if err != nil {
			return written, fmt.Errorf("insert price %s/%s: %w", p.ConditionID, p.TokenID, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// Query filters and orders a market listing.
type Query struct {
	Limit        int
	Offset       int
	OrderBy      string // whitelisted sort key
	OrderDesc    bool
	Active       *bool
	Category     string
	Search       string
	LiquidityMin float64
	LiquidityMax float64
	VolumeMin    float64
	VolumeMax    float64
	EndDateMin   time.Time
	EndDateMax   time.Time
	StartDateMin time.Time
	StartDateMax time.Time
}

// sortColumns maps the external sort keys onto SQL expressions over the
// market row joined with its latest snapshot.
var sortColumns = map[string]string{
	"volume":               "s.volume_num",
	"volume_24hr":          "s.volume_24hr",
	"volume_1wk":           "s.volume_1wk",
	"liquidity":            "s.liquidity_num",
	"end_date":             "m.end_date",
	"one_day_price_change": "s.price_change_1d",
	"updated_at":           "s.recorded_at",
	"created_at":           "m.created_at",
}

// GetMarkets returns one page of markets matching the query plus the total
// match count. Numeric range filters apply against the latest snapshot.
func (s *Store) GetMarkets(ctx context.Context, q Query) ([]types.Market, int, error) {
	var conds []string
	var args []any

	if q.Active != nil {
		if *q.Active {
			conds = append(conds, "m.active = 1 AND m.closed = 0")
		} else {
			conds = append(conds, "(m.active = 0 OR m.closed = 1)")
		}
	}
	if q.Category != "" {
		conds = append(conds, "m.category = ?")
		args = append(args, q.Category)
	}
	if q.Search != "" {
		conds = append(conds, "(m.question LIKE ? OR m.slug LIKE ?)")
		needle := "%" + q.Search + "%"
		args = append(args, needle, needle)
	}
	if q.LiquidityMin > 0 {
		conds = append(conds, "s.liquidity_num >= ?")
		args = append(args, q.LiquidityMin)
	}
	if q.LiquidityMax > 0 {
		conds = append(conds, "s.liquidity_num <= ?")
		args = append(args, q.LiquidityMax)
	}
	if q.VolumeMin > 0 {
		conds = append(conds, "s.volume_num >= ?")
		args = append(args, q.VolumeMin)
	}
	if q.VolumeMax > 0 {
		conds = append(conds, "s.volume_num <= ?")
		args = append(args, q.VolumeMax)
	}
	if !q.EndDateMin.IsZero() {
		conds = append(conds, "m.end_date >= ?")
		args = append(args, q.EndDateMin.Format(timeLayout))
	}
	if !q.EndDateMax.IsZero() {
		conds = append(conds, "m.end_date <= ?")
		args = append(args, q.EndDateMax.Format(timeLayout))
	}
	if !q.StartDateMin.IsZero() {
		conds = append(conds, "m.created_at >= ?")
		args = append(args, q.StartDateMin.Format(timeLayout))
	}
	if !q.StartDateMax.IsZero() {
		conds = append(conds, "m.created_at <= ?")
		args = append(args, q.StartDateMax.Format(timeLayout))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// Latest snapshot per market for dynamic-field filters and sorting.
	from := ` FROM markets m
		LEFT JOIN (
			SELECT p.* FROM price_snapshots p
			JOIN (SELECT condition_id, MAX(id) AS max_id FROM price_snapshots GROUP BY condition_id) latest
			ON p.id = latest.max_id
		) s ON s.condition_id = m.condition_id`

	var total int
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*)"+from+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count markets: %w", err)
	}

	order, ok := sortColumns[q.OrderBy]
	if !ok {
		order = "m.created_at"
	}
	dir := "DESC"
	if !q.OrderDesc {
		dir = "ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + marketColumns + from + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", order, dir)
	args = append(args, limit, q.Offset)

	rows, err := s.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// TokenRef identifies one outcome token of a stored market.
type TokenRef struct {
	ConditionID  string
	TokenID      string
	Outcome      string
	OutcomeIndex int
}

// TokensForPriceScan flattens the eligible markets into per-token refs:
// order book enabled, non-empty token list, optionally active and above a
// liquidity floor (judged on the latest snapshot).
func (s *Store) TokensForPriceScan(ctx context.Context, activeOnly bool, minLiquidity float64) ([]TokenRef, error) {
	conds := []string{"m.enable_order_book = 1", "m.clob_token_ids != '[]'", "m.clob_token_ids != ''"}
	var args []any
	if activeOnly {
		conds = append(conds, "m.active = 1", "m.closed = 0")
	}
	if minLiquidity > 0 {
		conds = append(conds, "COALESCE(s.liquidity_num, 0) >= ?")
		args = append(args, minLiquidity)
	}

	query := `SELECT m.condition_id, m.outcomes, m.clob_token_ids FROM markets m
		LEFT JOIN (
			SELECT p.condition_id, p.liquidity_num FROM price_snapshots p
			JOIN (SELECT condition_id, MAX(id) AS max_id FROM price_snapshots GROUP BY condition_id) latest
			ON p.id = latest.max_id
		) s ON s.condition_id = m.condition_id
		WHERE ` + strings.Join(conds, " AND ")

	rows, err := s.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var refs []TokenRef
	for rows.Next() {
		var conditionID, outcomesJSON, tokensJSON string
		if err := rows.Scan(&conditionID, &outcomesJSON, &tokensJSON); err != nil {
			return nil, err
		}
		var outcomes, tokens []string
		json.Unmarshal([]byte(outcomesJSON), &outcomes)
		if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
			continue
		}
		for i, tok := range tokens {
			if tok == "" {
				continue
			}
			ref := TokenRef{ConditionID: conditionID, TokenID: tok, OutcomeIndex: i}
			if i < len(outcomes) {
				ref.Outcome = outcomes[i]
			}
			refs = append(refs, ref)
		}
	}
	return refs, rows.Err()
}

// Stats summarizes table sizes for the control surface.
type Stats struct {
	Markets      int `json:"markets"`
	Snapshots    int `json:"snapshots"`
	MarketPrices int `json:"marketPrices"`
}

// GetStats returns row counts per table.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM markets").Scan(&st.Markets); err != nil {
		return st, err
	}
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM price_snapshots").Scan(&st.Snapshots); err != nil {
		return st, err
	}
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM market_prices").Scan(&st.MarketPrices); err != nil {
		return st, err
	}
	return st, nil
}

const marketColumns = `
	m.condition_id, m.question, m.slug, m.category, m.outcomes, m.clob_token_ids, m.end_date,
	m.active, m.closed, m.restricted, m.enable_order_book, m.approved, m.ready, m.funded,
	m.featured, m.is_new, m.neg_risk,
	m.order_min_size, m.order_price_min_tick_size, m.accepting_orders, m.accepting_orders_timestamp,
	m.uma_bond, m.uma_reward, m.resolved_by, m.resolution_source, m.submitted_by,
	m.group_item_title, m.group_item_threshold, m.custom_liveness, m.image`

func scanMarket(rows *sql.Rows) (types.Market, error) {
	var m types.Market
	var outcomesJSON, tokensJSON, endDate, acceptingTS string
	err := rows.Scan(
		&m.ConditionID, &m.Question, &m.Slug, &m.Category, &outcomesJSON, &tokensJSON, &endDate,
		&m.Active, &m.Closed, &m.Restricted, &m.EnableOrderBook, &m.Approved, &m.Ready, &m.Funded,
		&m.Featured, &m.IsNew, &m.NegRisk,
		&m.OrderMinSize, &m.OrderPriceMinTickSize, &m.AcceptingOrders, &acceptingTS,
		&m.UMABond, &m.UMAReward, &m.ResolvedBy, &m.ResolutionSource, &m.SubmittedBy,
		&m.GroupItemTitle, &m.GroupItemThreshold, &m.CustomLiveness, &m.Image,
	)
	if err != nil {
		return m, fmt.Errorf("scan market: %w", err)
	}
	json.Unmarshal([]byte(outcomesJSON), &m.Outcomes)
	json.Unmarshal([]byte(tokensJSON), &m.ClobTokenIDs)
	m.EndDate = parseStoredTime(endDate)
	m.AcceptingOrdersTimestamp = parseStoredTime(acceptingTS)
	return m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func finitePtr(p *float64) bool {
	if p == nil {
		return true
	}
	return !math.IsNaN(*p) && !math.IsInf(*p, 0)
}
