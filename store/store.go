// Package store persists sessions, coaches and messages behind the
// roundtable service. It owns connection pooling and schema migration; the
// orchestration core never touches it directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fretelli/AIWendy/internal/metrics"
	"github.com/fretelli/AIWendy/roundtable"
	"github.com/fretelli/AIWendy/types"
)

// =============================================================================
// Configuration
// =============================================================================

// Config selects the database backend and pool sizing.
type Config struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string. For sqlite it is the
	// file path, or ":memory:" for an in-process database.
	DSN string `yaml:"dsn" json:"dsn"`

	// Pool sizing.
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// HealthCheckInterval enables a background ping loop when positive.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns a local sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:              "sqlite",
		DSN:                 "aiwendy.db",
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store wraps the database with pool management and the persistence
// operations the service needs.
type Store struct {
	db        *gorm.DB
	sqlDB     *sql.DB
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector
	mu        sync.RWMutex
	closed    bool
}

// Open connects, tunes the pool and migrates the schema.
func Open(cfg Config, logger *zap.Logger, collector *metrics.Collector) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.AutoMigrate(&Coach{}, &Session{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{
		db:        db,
		sqlDB:     sqlDB,
		config:    cfg,
		logger:    logger.With(zap.String("component", "store")),
		collector: collector,
	}

	if cfg.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("store initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return s, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.sqlDB.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sqlDB.Stats()
}

// Close shuts the pool down.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing store")
	return s.sqlDB.Close()
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("database health check failed", zap.Error(err))
		}
		cancel()
	}
}

func (s *Store) observe(op string, start time.Time) {
	s.collector.RecordStoreQuery(op, time.Since(start))
}

// =============================================================================
// Coaches
// =============================================================================

// SeedCoaches inserts coaches that do not exist yet. Existing rows are left
// untouched so operator edits survive restarts.
func (s *Store) SeedCoaches(ctx context.Context, coaches []Coach) error {
	defer s.observe("seed_coaches", time.Now())
	for _, c := range coaches {
		res := s.db.WithContext(ctx).
			Where("id = ?", c.ID).
			Attrs(c).
			FirstOrCreate(&Coach{})
		if res.Error != nil {
			return fmt.Errorf("seed coach %s: %w", c.ID, res.Error)
		}
	}
	return nil
}

// ListCoaches returns all active coaches in sort order.
func (s *Store) ListCoaches(ctx context.Context) ([]Coach, error) {
	defer s.observe("list_coaches", time.Now())
	var coaches []Coach
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order asc, id asc").
		Find(&coaches).Error
	return coaches, err
}

// GetCoaches resolves coaches by id, preserving the requested order. Missing
// ids produce ErrCoachNotFound.
func (s *Store) GetCoaches(ctx context.Context, ids []string) ([]Coach, error) {
	defer s.observe("get_coaches", time.Now())
	var rows []Coach
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]Coach, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	out := make([]Coach, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, types.NewError(types.ErrCoachNotFound, fmt.Sprintf("coach %q not found", id))
		}
		out = append(out, c)
	}
	return out, nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession persists a new session and returns it with its generated id.
func (s *Store) CreateSession(ctx context.Context, session Session) (*Session, error) {
	defer s.observe("create_session", time.Now())
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Title == "" {
		session.Title = "Roundtable " + time.Now().Format("2006-01-02 15:04")
	}
	session.IsActive = true
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &session, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	defer s.observe("get_session", time.Now())
	var session Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %q not found", id))
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	defer s.observe("list_sessions", time.Now())
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var sessions []Session
	q := s.db.WithContext(ctx).Order("updated_at desc").Limit(limit).Offset(offset)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// SessionSettings are the updatable session-level defaults.
type SessionSettings struct {
	Provider        *string  `json:"provider,omitempty"`
	Model           *string  `json:"model,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	KBTiming        *string  `json:"kb_timing,omitempty"`
	KBTopK          *int     `json:"kb_top_k,omitempty"`
	KBMaxCandidates *int     `json:"kb_max_candidates,omitempty"`
}

// UpdateSessionSettings persists the supplied settings; nil fields are left
// alone.
func (s *Store) UpdateSessionSettings(ctx context.Context, id string, settings SessionSettings) (*Session, error) {
	defer s.observe("update_session", time.Now())

	updates := map[string]any{}
	if settings.Provider != nil {
		updates["llm_provider"] = strings.TrimSpace(*settings.Provider)
	}
	if settings.Model != nil {
		updates["llm_model"] = strings.TrimSpace(*settings.Model)
	}
	if settings.Temperature != nil {
		updates["llm_temperature"] = *settings.Temperature
	}
	if settings.MaxTokens != nil {
		updates["llm_max_tokens"] = *settings.MaxTokens
	}
	if settings.KBTiming != nil {
		updates["kb_timing"] = strings.TrimSpace(*settings.KBTiming)
	}
	if settings.KBTopK != nil {
		updates["kb_top_k"] = *settings.KBTopK
	}
	if settings.KBMaxCandidates != nil {
		updates["kb_max_candidates"] = *settings.KBMaxCandidates
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %q not found", id))
		}
	}
	return s.GetSession(ctx, id)
}

// EndSession marks a session inactive.
func (s *Store) EndSession(ctx context.Context, id string) error {
	defer s.observe("end_session", time.Now())
	res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %q not found", id))
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// AppendMessage persists one message and bumps the session counters.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (*Message, error) {
	defer s.observe("append_message", time.Now())
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).Where("id = ?", msg.SessionID).
			Updates(map[string]any{
				"message_count": gorm.Expr("message_count + 1"),
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// BumpRounds advances a session's completed round counter.
func (s *Store) BumpRounds(ctx context.Context, sessionID string, rounds int) error {
	defer s.observe("bump_rounds", time.Now())
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).
		Updates(map[string]any{
			"round_count": gorm.Expr("round_count + ?", rounds),
			"updated_at":  time.Now(),
		}).Error
}

// History loads a session's messages in chronological order.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	defer s.observe("history", time.Now())
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc, turn_number asc, sequence_in_turn asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []Message
	err := q.Find(&msgs).Error
	return msgs, err
}

// =============================================================================
// Domain mapping
// =============================================================================

// ToRoundtableSession assembles the orchestration view of a stored session.
func ToRoundtableSession(session *Session, coaches []Coach, moderator *Coach) *roundtable.Session {
	rt := &roundtable.Session{
		ID:   session.ID,
		Mode: roundtable.DiscussionMode(session.DiscussionMode),
		Defaults: roundtable.ModelParams{
			Provider:    session.LLMProvider,
			Model:       session.LLMModel,
			Temperature: session.LLMTemperature,
			MaxTokens:   session.LLMMaxTokens,
		},
		Active: session.IsActive,
	}
	rt.Coaches = make([]roundtable.Coach, len(coaches))
	for i, c := range coaches {
		rt.Coaches[i] = toRoundtableCoach(c)
	}
	if moderator != nil {
		m := toRoundtableCoach(*moderator)
		rt.Moderator = &m
	}
	return rt
}

func toRoundtableCoach(c Coach) roundtable.Coach {
	return roundtable.Coach{
		ID:           c.ID,
		Name:         c.Name,
		AvatarURL:    c.AvatarURL,
		Style:        c.Style,
		Description:  c.Description,
		SystemPrompt: c.SystemPrompt,
		Temperature:  c.Temperature,
	}
}

// ToHistory converts stored messages to the orchestration history, resolving
// coach names from the given roster.
func ToHistory(msgs []Message, roster []Coach) []roundtable.HistoryMessage {
	names := make(map[string]string, len(roster))
	for _, c := range roster {
		names[c.ID] = c.Name
	}
	out := make([]roundtable.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		kind := roundtable.MessageKind(m.MessageType)
		if kind == "" {
			kind = roundtable.KindResponse
		}
		out = append(out, roundtable.HistoryMessage{
			CoachID:     m.CoachID,
			CoachName:   names[m.CoachID],
			Role:        types.Role(m.Role),
			Content:     m.Content,
			Kind:        kind,
			Attachments: m.Attachments,
		})
	}
	return out
}
