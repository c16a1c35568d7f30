package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	UploadStatusProcessing = "processing"
	UploadStatusCompleted  = "completed"
	UploadStatusFailed     = "failed"
)

type Upload struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ImagePath    string
	Status       string
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Prediction is one ranked label attached to an upload. Rank 0 is the top prediction.
type Prediction struct {
	ID              uuid.UUID
	UploadID        uuid.UUID
	PredictedClass  string
	ConfidenceScore float64
	IsTopPrediction bool
	Rank            int
	CreatedAt       time.Time
}

// HistoryRow is an upload joined with its top prediction, if one was stored.
type HistoryRow struct {
	Upload        Upload
	TopPrediction *Prediction
}
