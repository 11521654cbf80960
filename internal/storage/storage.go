package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"claimhub/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// DefaultHistoryLimit caps GetChatHistory when the caller passes no limit.
const DefaultHistoryLimit = 200

type Storage interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	GetChatHistory(ctx context.Context, claimID string, limit int) ([]models.ChatMessage, error)

	ArchiveJob(ctx context.Context, job *models.Job) error
	ListArchivedJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.JobRecord, error)
	GetArchivedJob(ctx context.Context, id models.JobID) (*models.JobRecord, error)
	PurgeArchivedJobs(ctx context.Context, olderThan time.Time) (int64, error)

	PublishRoomEvent(ctx context.Context, channel string, re models.RoomEvent) error
	SubscribeRoomEvents(ctx context.Context, channel string) *redis.PubSub
}

// Service implements Storage on PostgreSQL (history, job archive) and Redis
// (cross-node fan-out). Either handle may be nil when the deployment does not
// need that half.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the tables owned by this service.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.ChatHistory{}, &models.JobRecord{})
}

// SaveMessage stores a chat message. Saving the same message id twice is a no-op.
func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	history := models.NewChatHistory(msg)
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(history).Error
	if err != nil {
		return fmt.Errorf("save message for claim %s: %w", msg.ClaimID, err)
	}
	msg.ID = history.ID
	return nil
}

// GetChatHistory returns the latest messages of a claim in chronological order.
func (s *Service) GetChatHistory(ctx context.Context, claimID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	var rows []models.ChatHistory
	err := s.DB.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get chat history for claim %s: %w", claimID, err)
	}

	out := make([]models.ChatMessage, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].ChatMessage()
	}
	return out, nil
}

// ArchiveJob records a job that reached a terminal state. Archiving is an
// upsert so a job reclaimed and finished again keeps a single row.
func (s *Service) ArchiveJob(ctx context.Context, job *models.Job) error {
	rec, err := models.NewJobRecord(job)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

// ListArchivedJobs returns archived jobs with the given status, newest first.
// An empty status lists every archived job.
func (s *Service) ListArchivedJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.JobRecord, error) {
	q := s.DB.WithContext(ctx).Order("finished_at desc")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.JobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Service) GetArchivedJob(ctx context.Context, id models.JobID) (*models.JobRecord, error) {
	var rec models.JobRecord
	err := s.DB.WithContext(ctx).First(&rec, int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeArchivedJobs deletes archived jobs finished before olderThan and
// returns how many rows were removed.
func (s *Service) PurgeArchivedJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("finished_at < ?", olderThan).Delete(&models.JobRecord{})
	return res.RowsAffected, res.Error
}

// PublishRoomEvent publishes a room broadcast to every node listening on channel.
func (s *Service) PublishRoomEvent(ctx context.Context, channel string, re models.RoomEvent) error {
	payload, err := json.Marshal(re)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, channel, payload).Err()
}

func (s *Service) SubscribeRoomEvents(ctx context.Context, channel string) *redis.PubSub {
	return s.Redis.Subscribe(ctx, channel)
}
