package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type GormPersist struct {
	db *gorm.DB
}

var _ Persister = (*GormPersist)(nil)

func NewGormPersister(cfg *config.Config) (*GormPersist, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	logWriter := globals.AppLogger.Named("gorm").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: gormlogger.New(logWriter, gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
		}),
	})
	if err != nil {
		return nil, err
	}
	if cfg.PersistenceConfig.Type == "sqlite" {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&types.Room{}, &types.Session{}, &types.SessionParticipant{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) CreateRoom(ctx context.Context, room *types.Room) (bool, error) {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (p *GormPersist) GetRoom(ctx context.Context, roomName string) (*types.Room, error) {
	room := &types.Room{}
	if err := p.db.WithContext(ctx).First(room, "room_name = ?", roomName).Error; err != nil {
		return nil, notFound(err)
	}
	return room, nil
}

func (p *GormPersist) GetRooms(ctx context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.WithContext(ctx).Order("room_name").Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) roomQuery(ctx context.Context, roomName string) *gorm.DB {
	return p.db.WithContext(ctx).Model(&types.Room{}).Where("room_name = ?", roomName)
}

func (p *GormPersist) SetHost(ctx context.Context, roomName string, hostID *string) error {
	res := p.roomQuery(ctx, roomName).Update("current_host_id", hostID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) ClaimHost(ctx context.Context, roomName, hostID string) (bool, error) {
	res := p.roomQuery(ctx, roomName).Where("current_host_id IS NULL").Update("current_host_id", hostID)
	return res.RowsAffected == 1, res.Error
}

func (p *GormPersist) MarkEmpty(ctx context.Context, roomName string, since time.Time) error {
	return p.roomQuery(ctx, roomName).Where("empty_since IS NULL").Update("empty_since", since.UTC()).Error
}

func (p *GormPersist) MarkActive(ctx context.Context, roomName string, at time.Time) error {
	return p.roomQuery(ctx, roomName).Updates(map[string]interface{}{
		"empty_since":    nil,
		"last_active_at": at.UTC(),
	}).Error
}

func (p *GormPersist) DeleteRoom(ctx context.Context, roomName string) error {
	return p.db.WithContext(ctx).Where("room_name = ?", roomName).Delete(&types.Room{}).Error
}

func (p *GormPersist) CreateSession(ctx context.Context, session *types.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	return p.db.WithContext(ctx).Create(session).Error
}

func (p *GormPersist) LatestOpenSession(ctx context.Context, roomName string) (*types.Session, error) {
	session := &types.Session{}
	err := p.db.WithContext(ctx).
		Where("room_name = ? AND ended_at IS NULL", roomName).
		Order("started_at DESC").
		First(session).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (p *GormPersist) CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res := p.db.WithContext(ctx).Model(&types.Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", at.UTC())
	return res.RowsAffected == 1, res.Error
}

func (p *GormPersist) GetSessions(ctx context.Context, roomName string) ([]*types.Session, error) {
	sessions := make([]*types.Session, 0)
	err := p.db.WithContext(ctx).Where("room_name = ?", roomName).Order("started_at").Find(&sessions).Error
	return sessions, err
}

func (p *GormPersist) OpenParticipant(ctx context.Context, participant *types.SessionParticipant) (bool, error) {
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(participant)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (p *GormPersist) CloseParticipant(ctx context.Context, sessionID, identity string, at time.Time) (bool, error) {
	res := p.db.WithContext(ctx).Model(&types.SessionParticipant{}).
		Where("session_id = ? AND identity = ? AND left_at IS NULL", sessionID, identity).
		Update("left_at", at.UTC())
	return res.RowsAffected == 1, res.Error
}

func (p *GormPersist) GetParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error) {
	participants := make([]*types.SessionParticipant, 0)
	err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("joined_at, identity").Find(&participants).Error
	return participants, err
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
