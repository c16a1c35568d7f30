package models

import "time"

type PredictionResponse struct {
	ClassName       string  `json:"class_name"`
	Confidence      float64 `json:"confidence"`
	IsTopPrediction bool    `json:"is_top_prediction"`
}

type UploadResponse struct {
	Success     bool                 `json:"success"`
	UploadID    string               `json:"upload_id"`
	Status      string               `json:"status"`
	ImagePath   string               `json:"image_path"`
	ImageURL    string               `json:"image_url"`
	Predictions []PredictionResponse `json:"predictions"`
	FlowerInfo  *FlowerMonograph     `json:"flowerInfo,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

type ClassifyResponse struct {
	Success    bool             `json:"success"`
	FlowerInfo *FlowerMonograph `json:"flowerInfo"`
}

type FlowerResponse struct {
	Success    bool             `json:"success"`
	FlowerInfo *FlowerMonograph `json:"flowerInfo"`
}

type AnswerResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	Cached  bool   `json:"cached"`
}

type TopPredictionResponse struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

type HistoryItem struct {
	ID            string                 `json:"id"`
	ImagePath     string                 `json:"image_path"`
	ImageURL      string                 `json:"imageUrl"`
	CreatedAt     time.Time              `json:"created_at"`
	Status        string                 `json:"status"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	TopPrediction *TopPredictionResponse `json:"topPrediction,omitempty"`
}

type HistoryResponse struct {
	Success bool          `json:"success"`
	History []HistoryItem `json:"history"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
