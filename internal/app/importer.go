package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"portfolio-lab/internal/config"
	"portfolio-lab/internal/exchange"
	"portfolio-lab/internal/market"
	"portfolio-lab/internal/monitor"
)

// closesFetcher 由 exchange.Client 实现，测试中可替换。
type closesFetcher interface {
	FetchDailyCloses(ctx context.Context, symbol string, since time.Time) ([]market.Close, error)
}

// Import 从交易所拉取配置中各交易对的日线收盘价写入 SQLite，
// 数据源为 parquet 时同时写入 parquet 文件。
func (a *App) Import(ctx context.Context) error {
	client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败: %w", err)
	}
	return a.importWith(ctx, client)
}

func (a *App) importWith(ctx context.Context, fetcher closesFetcher) error {
	monitorSvc, err := monitor.NewService(ctx, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}
	sqliteSrc, err := market.NewSQLiteSource(ctx, a.store, a.logger)
	if err != nil {
		return err
	}
	var parquetSrc *market.ParquetSource
	if a.cfg.Data.Source == config.SourceParquet {
		parquetSrc = market.NewParquetSource(a.cfg.Data.ParquetDir, a.cfg.Data.Market, a.logger)
	}

	var errs error
	for _, symbol := range a.cfg.Exchange.Symbols {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}

		code := CodeForSymbol(symbol)
		closes, err := fetcher.FetchDailyCloses(ctx, symbol, a.cfg.Exchange.Since)
		if err != nil {
			monitorSvc.RecordError(ctx, "拉取日线失败", err, map[string]interface{}{"symbol": symbol})
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		if err := sqliteSrc.SaveCloses(ctx, code, closes); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		if parquetSrc != nil {
			if err := parquetSrc.WriteCloses(code, closes); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
				continue
			}
		}

		payload := monitor.ImportPayload{
			Exchange: a.cfg.Exchange.Name,
			Symbol:   symbol,
			Code:     code,
			Bars:     len(closes),
		}
		if n := len(closes); n > 0 {
			payload.First = closes[0].Date.Format(config.DateLayout)
			payload.Last = closes[n-1].Date.Format(config.DateLayout)
		}
		monitorSvc.RecordImport(ctx, payload)

		a.logger.Info("日线导入完成",
			zap.String("symbol", symbol),
			zap.String("code", code),
			zap.Int("bars", len(closes)),
		)
	}
	return errs
}

// CodeForSymbol 将交易对转为资产代码，例如 "BTC/USDT" -> "BTCUSDT"。
func CodeForSymbol(symbol string) string {
	code := strings.ToUpper(strings.TrimSpace(symbol))
	code = strings.ReplaceAll(code, "/", "")
	return strings.ReplaceAll(code, ":", "")
}
