package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

// BarRecord 为日线 Parquet 文件的行结构。
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ParquetSource 读取按资产、年份分文件存放的日线：
//
//	<Dir>/<Market>/daily/<CODE>/<YYYY>.parquet
type ParquetSource struct {
	Dir    string
	Market string
	logger *zap.Logger
}

// NewParquetSource 创建 Parquet 价格源。
func NewParquetSource(dir, market string, logger *zap.Logger) *ParquetSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetSource{Dir: dir, Market: market, logger: logger}
}

// WriteCloses 将收盘价按年份写入 Parquet 文件，与已有记录按时间戳合并。
func (s *ParquetSource) WriteCloses(code string, closes []Close) error {
	groups := make(map[int][]BarRecord)
	for _, c := range closes {
		groups[c.Date.Year()] = append(groups[c.Date.Year()], BarRecord{
			Symbol:    code,
			Timestamp: c.Date.UnixMilli(),
			Open:      c.Price,
			High:      c.Price,
			Low:       c.Price,
			Close:     c.Price,
		})
	}

	for year, records := range groups {
		path := s.barPath(code, year)
		existing, err := parquet.ReadFile[BarRecord](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("market: 读取已有 %s/%d 失败: %w", code, year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("market: 创建目录失败: %w", err)
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("market: 写入 %s/%d 失败: %w", code, year, err)
		}
	}
	return nil
}

// Load 读取指定资产全部年份的日线并构建价格表。
func (s *ParquetSource) Load(ctx context.Context, codes []string) (*Table, error) {
	if len(codes) == 0 {
		return nil, errors.New("market: 需要指定资产代码")
	}

	series := make(map[string][]Close, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		years, err := s.listYears(code)
		if err != nil {
			return nil, err
		}
		if len(years) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCode, code)
		}

		for _, year := range years {
			records, err := parquet.ReadFile[BarRecord](s.barPath(code, year))
			if err != nil {
				return nil, fmt.Errorf("market: 读取 %s/%d 失败: %w", code, year, err)
			}
			for _, r := range records {
				series[code] = append(series[code], Close{
					Date:  time.UnixMilli(r.Timestamp).UTC(),
					Price: r.Close,
				})
			}
		}
	}

	table, err := FromCloses(series)
	if err != nil {
		return nil, err
	}
	s.logger.Info("已加载 Parquet 价格表",
		zap.String("dir", s.Dir),
		zap.Int("codes", len(codes)),
		zap.Int("days", table.Calendar().Len()),
	)
	return table, nil
}

func (s *ParquetSource) barPath(code string, year int) string {
	return filepath.Join(s.Dir, s.Market, "daily", strings.ToUpper(code), strconv.Itoa(year)+".parquet")
}

func (s *ParquetSource) listYears(code string) ([]int, error) {
	dir := filepath.Join(s.Dir, s.Market, "daily", strings.ToUpper(code))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("market: 读取目录 %q 失败: %w", dir, err)
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet"))
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

// mergeBarRecords 按时间戳去重，新记录覆盖旧记录。
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
