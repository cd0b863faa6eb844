package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/config"
	"portfolio-lab/internal/market"
)

// TimeframeDaily 为导入使用的K线周期。
const TimeframeDaily = "1d"

type ohlcvFetcher interface {
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// Client 从交易所拉取日线收盘价，并实现重试机制。
type Client struct {
	cfg    config.ExchangeConfig
	logger *zap.Logger
	api    ohlcvFetcher
	now    func() time.Time
}

// NewClient 按配置中的交易所名称构造 ccxt 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	var api ohlcvFetcher
	switch cfg.Name {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	return newClient(cfg, api, logger), nil
}

func newClient(cfg config.ExchangeConfig, api ohlcvFetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		api:    api,
		now:    time.Now,
	}
}

// FetchDailyCloses 自 since 起分页拉取日线收盘价，直到没有新数据。
func (c *Client) FetchDailyCloses(ctx context.Context, symbol string, since time.Time) ([]market.Close, error) {
	if symbol == "" {
		return nil, errors.New("exchange: symbol 不能为空")
	}
	limit := int64(c.cfg.Limit)
	if limit <= 0 {
		limit = 1000
	}

	var closes []market.Close
	cursor := since.UTC().UnixMilli()
	for {
		var page []ccxt.OHLCV
		err := c.callWithRetry(ctx, "fetch_ohlcv_1d", func() error {
			result, err := c.api.FetchOHLCV(
				symbol,
				ccxt.WithFetchOHLCVTimeframe(TimeframeDaily),
				ccxt.WithFetchOHLCVSince(cursor),
				ccxt.WithFetchOHLCVLimit(limit),
			)
			if err != nil {
				return err
			}
			page = result
			return nil
		})
		if err != nil {
			return nil, err
		}

		advanced := false
		for _, item := range page {
			if item.Timestamp < cursor {
				continue
			}
			closes = append(closes, market.Close{
				Date:  calendar.Day(time.UnixMilli(item.Timestamp).UTC()),
				Price: item.Close,
			})
			cursor = item.Timestamp + 1
			advanced = true
		}

		if !advanced || int64(len(page)) < limit || cursor > c.now().UnixMilli() {
			break
		}
	}

	c.logger.Info("已拉取日线收盘价",
		zap.String("exchange", c.cfg.Name),
		zap.String("symbol", symbol),
		zap.Int("rows", len(closes)),
	)
	return closes, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
