package services

import (
	"context"

	"flower-classifier-backend/internal/classifier"
	"flower-classifier-backend/internal/gemini"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/supabase"

	"github.com/google/uuid"
)

// ObjectStorage is satisfied by *supabase.StorageClient.
type ObjectStorage interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
	GetPublicURL(path string) string
}

// Predictor is satisfied by *classifier.Client.
type Predictor interface {
	Predict(ctx context.Context, filename string, data []byte) ([]classifier.Prediction, error)
}

// TextSynthesizer is satisfied by *gemini.Client.
type TextSynthesizer interface {
	Complete(ctx context.Context, prompt string, opts gemini.CompletionOptions) (string, error)
}

type UploadStore interface {
	CreateUpload(ctx context.Context, userID uuid.UUID, imagePath string) (*models.Upload, error)
	GetUpload(ctx context.Context, uploadID, userID uuid.UUID) (*models.Upload, error)
	UpdateUploadStatus(ctx context.Context, uploadID uuid.UUID, status, errorMsg string) error
	CreatePredictions(ctx context.Context, predictions []models.Prediction) ([]models.Prediction, error)
	GetPredictions(ctx context.Context, uploadID uuid.UUID) ([]models.Prediction, error)
}

type FlowerStore interface {
	GetFlower(ctx context.Context, key string) (*models.FlowerMonograph, error)
	CreateFlower(ctx context.Context, flower *models.FlowerMonograph) (*models.FlowerMonograph, error)
	GetFlowerQuestion(ctx context.Context, key, normalizedQuestion string) (*models.FlowerQuestion, error)
	CreateFlowerQuestion(ctx context.Context, q *models.FlowerQuestion) error
}

type HistoryStore interface {
	ListHistory(ctx context.Context, userID uuid.UUID) ([]models.HistoryRow, error)
}

// ChangeFeed is satisfied by *supabase.RealtimeClient.
type ChangeFeed interface {
	Subscribe(userID uuid.UUID) (<-chan supabase.UploadEvent, func())
}

// MonographProvider is the slice of KnowledgeService the orchestrator needs.
type MonographProvider interface {
	GetOrCreate(ctx context.Context, label string) (*models.FlowerMonograph, error)
}

var (
	_ ObjectStorage   = (*supabase.StorageClient)(nil)
	_ Predictor       = (*classifier.Client)(nil)
	_ TextSynthesizer = (*gemini.Client)(nil)
	_ UploadStore     = (*supabase.DatabaseClient)(nil)
	_ FlowerStore     = (*supabase.DatabaseClient)(nil)
	_ HistoryStore    = (*supabase.DatabaseClient)(nil)
	_ ChangeFeed      = (*supabase.RealtimeClient)(nil)
)
