package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portfolio-lab/internal/backtest"
	"portfolio-lab/internal/store"
)

// Service 负责持久化回测与导入事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type)`,
	); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordRun 记录完成的回测摘要。
func (s *Service) RecordRun(ctx context.Context, res backtest.Result) {
	if err := s.Record(ctx, Event{
		Type:    EventRunCompleted,
		Payload: NewRunPayload(res),
	}); err != nil {
		s.logger.Warn("记录回测结果失败", zap.String("name", res.Name), zap.Error(err))
	}
}

// RecordRunFailure 记录中止的回测。
func (s *Service) RecordRunFailure(ctx context.Context, name string, runErr error) {
	if err := s.Record(ctx, Event{
		Type:    EventRunFailed,
		Payload: RunFailedPayload{Name: name, Error: runErr.Error()},
	}); err != nil {
		s.logger.Warn("记录回测失败事件失败", zap.String("name", name), zap.Error(err))
	}
}

// RecordImport 记录日线导入。
func (s *Service) RecordImport(ctx context.Context, payload ImportPayload) {
	if err := s.Record(ctx, Event{
		Type:    EventPriceImport,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("记录导入事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，新事件在前。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = s.now()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// ListRuns 返回最近完成的回测摘要。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunPayload, error) {
	events, err := s.ListEvents(ctx, EventRunCompleted, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]RunPayload, 0, len(events))
	for _, ev := range events {
		raw, ok := ev.Payload.(json.RawMessage)
		if !ok {
			continue
		}
		var p RunPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("monitor: 解析回测摘要失败: %w", err)
		}
		runs = append(runs, p)
	}
	return runs, nil
}
