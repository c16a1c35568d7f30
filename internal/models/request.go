package models

type ClassifyRequest struct {
	UploadID       string `json:"upload_id" binding:"required"`
	ScientificName string `json:"scientific_name" binding:"required"`
}

type QuestionRequest struct {
	ScientificName string `json:"scientific_name" binding:"required"`
	Question       string `json:"question" binding:"required"`
}

type ErrorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	UploadID string `json:"upload_id,omitempty"`
	Status   string `json:"status,omitempty"`
}
