package services

import (
	"context"
	"log/slog"
	"time"

	"flower-classifier-backend/internal/models"

	"github.com/google/uuid"
)

// HistoryService builds an owner's upload history and keeps live views of it
// current from the change feed.
type HistoryService struct {
	store     HistoryStore
	storage   ObjectStorage
	feed      ChangeFeed
	dbTimeout time.Duration
	logger    *slog.Logger
}

func NewHistoryService(store HistoryStore, storage ObjectStorage, feed ChangeFeed, dbTimeout time.Duration, logger *slog.Logger) *HistoryService {
	if dbTimeout <= 0 {
		dbTimeout = 10 * time.Second
	}
	return &HistoryService{
		store:     store,
		storage:   storage,
		feed:      feed,
		dbTimeout: dbTimeout,
		logger:    logger.With("component", "history"),
	}
}

// List returns the owner's uploads, newest first.
func (s *HistoryService) List(ctx context.Context, ownerID uuid.UUID) ([]models.HistoryItem, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	rows, err := s.store.ListHistory(dbCtx, ownerID)
	if err != nil {
		return nil, newError(KindTransport, StageLookup, err)
	}

	items := make([]models.HistoryItem, 0, len(rows))
	for _, row := range rows {
		item := models.HistoryItem{
			ID:        row.Upload.ID.String(),
			ImagePath: row.Upload.ImagePath,
			ImageURL:  s.storage.GetPublicURL(row.Upload.ImagePath),
			CreatedAt: row.Upload.CreatedAt,
			Status:    row.Upload.Status,
		}
		if row.Upload.ErrorMessage.Valid {
			item.ErrorMessage = row.Upload.ErrorMessage.String
		}
		if row.TopPrediction != nil {
			item.TopPrediction = &models.TopPredictionResponse{
				ClassName:  row.TopPrediction.PredictedClass,
				Confidence: row.TopPrediction.ConfidenceScore,
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Watch emits the owner's full history once, then again after every change to
// one of their uploads, until ctx is done. The channel is closed on return.
// A slow reader sees coalesced snapshots, never a stale final one.
func (s *HistoryService) Watch(ctx context.Context, ownerID uuid.UUID) (<-chan []models.HistoryItem, error) {
	// Subscribe before the first read so no change falls between the two.
	events, unsubscribe := s.feed.Subscribe(ownerID)

	initial, err := s.List(ctx, ownerID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	out := make(chan []models.HistoryItem, 1)
	out <- initial

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				items, err := s.List(ctx, ownerID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("failed to refresh history", "user_id", ownerID, "resync", ev.Resync, "error", err)
					continue
				}
				select {
				case out <- items:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
