package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/store"
)

const tradeDateLayout = "2006-01-02"

// SQLiteSource 在 daily_prices 表中保存并读取日收盘价。
type SQLiteSource struct {
	store  *store.Store
	logger *zap.Logger
}

// NewSQLiteSource 创建价格源并初始化表结构。
func NewSQLiteSource(ctx context.Context, st *store.Store, logger *zap.Logger) (*SQLiteSource, error) {
	if st == nil {
		return nil, errors.New("market: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	err := st.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS daily_prices (
			code TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			close REAL NOT NULL,
			PRIMARY KEY (code, trade_date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(trade_date);`,
	)
	if err != nil {
		return nil, fmt.Errorf("market: 初始化价格表失败: %w", err)
	}

	return &SQLiteSource{store: st, logger: logger}, nil
}

// SaveCloses 写入（或覆盖）某资产的收盘价。
func (s *SQLiteSource) SaveCloses(ctx context.Context, code string, closes []Close) error {
	if code == "" {
		return errors.New("market: code 不能为空")
	}
	if len(closes) == 0 {
		return nil
	}

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO daily_prices (code, trade_date, close) VALUES (?, ?, ?)
			 ON CONFLICT(code, trade_date) DO UPDATE SET close = excluded.close`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range closes {
			if _, err := stmt.ExecContext(ctx, code, calendar.Day(c.Date).Format(tradeDateLayout), c.Price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("market: 写入 %s 收盘价失败: %w", code, err)
	}

	s.logger.Debug("已写入收盘价", zap.String("code", code), zap.Int("rows", len(closes)))
	return nil
}

// Load 读取指定资产的全部收盘价并构建价格表。codes 为空时读取全部资产。
func (s *SQLiteSource) Load(ctx context.Context, codes []string) (*Table, error) {
	query := `SELECT code, trade_date, close FROM daily_prices`
	args := make([]interface{}, 0, len(codes))
	if len(codes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
		query += ` WHERE code IN (` + placeholders + `)`
		for _, c := range codes {
			args = append(args, c)
		}
	}
	query += ` ORDER BY code, trade_date`

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("market: 查询收盘价失败: %w", err)
	}
	defer rows.Close()

	series := make(map[string][]Close)
	for rows.Next() {
		var (
			code  string
			day   string
			price float64
		)
		if err := rows.Scan(&code, &day, &price); err != nil {
			return nil, fmt.Errorf("market: 读取收盘价失败: %w", err)
		}
		d, err := time.Parse(tradeDateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("market: 解析交易日 %q 失败: %w", day, err)
		}
		series[code] = append(series[code], Close{Date: d, Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("market: 遍历收盘价失败: %w", err)
	}

	for _, c := range codes {
		if _, ok := series[c]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCode, c)
		}
	}

	table, err := FromCloses(series)
	if err != nil {
		return nil, err
	}
	s.logger.Info("已加载价格表",
		zap.Int("codes", len(series)),
		zap.Int("days", table.Calendar().Len()),
	)
	return table, nil
}
