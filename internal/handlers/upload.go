package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadPipeline is satisfied by *services.UploadService.
type UploadPipeline interface {
	Submit(ctx context.Context, in services.SubmitInput) (*services.UploadResult, error)
	Classify(ctx context.Context, ownerID, uploadID uuid.UUID, scientificName string) (*models.FlowerMonograph, error)
	Get(ctx context.Context, ownerID, uploadID uuid.UUID) (*models.Upload, []models.Prediction, string, error)
}

type UploadHandler struct {
	uploads  UploadPipeline
	maxBytes int64
}

func NewUploadHandler(uploads UploadPipeline, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		uploads:  uploads,
		maxBytes: maxBytes,
	}
}

// Upload godoc
// @Summary     Upload and classify a flower photo
// @Description Stores the image, runs the classifier, persists ranked predictions
// @Description and returns them with the monograph for the top label.
// @Tags        uploads
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       file formData file true "Flower image"
// @Success     200 {object} models.UploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     413 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Success: false, Error: "file too large"})
			return
		}
		badRequest(c, "no file provided", err.Error())
		return
	}
	if fileHeader.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Success: false, Error: "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "failed to open file", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "failed to read file", err.Error())
		return
	}

	res, err := h.uploads.Submit(c.Request.Context(), services.SubmitInput{
		OwnerID:  userID,
		Filename: fileHeader.Filename,
		Data:     data,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		Success:     true,
		UploadID:    res.Upload.ID.String(),
		Status:      res.Upload.Status,
		ImagePath:   res.Upload.ImagePath,
		ImageURL:    res.ImageURL,
		Predictions: predictionResponses(res.Predictions),
		FlowerInfo:  res.Monograph,
		CreatedAt:   res.Upload.CreatedAt,
	})
}

// GetUpload godoc
// @Summary     Get an upload
// @Description Returns one of the caller's uploads with its ranked predictions
// @Tags        uploads
// @Produce     json
// @Security    Bearer
// @Param       upload_id path string true "Upload ID (UUID)"
// @Success     200 {object} models.UploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /uploads/{upload_id} [get]
func (h *UploadHandler) GetUpload(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	uploadID, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		badRequest(c, "invalid upload id", err.Error())
		return
	}

	upload, predictions, imageURL, err := h.uploads.Get(c.Request.Context(), userID, uploadID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		Success:     true,
		UploadID:    upload.ID.String(),
		Status:      upload.Status,
		ImagePath:   upload.ImagePath,
		ImageURL:    imageURL,
		Predictions: predictionResponses(predictions),
		CreatedAt:   upload.CreatedAt,
	})
}

// Classify godoc
// @Summary     Fetch flower information for an upload
// @Description Returns the monograph for scientific_name, generating it on first
// @Description request, and completes the upload if it is still processing.
// @Tags        uploads
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.ClassifyRequest true "Upload and label"
// @Success     200 {object} models.ClassifyResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /classify [post]
func (h *UploadHandler) Classify(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	var req models.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "missing required fields", err.Error())
		return
	}
	uploadID, err := uuid.Parse(req.UploadID)
	if err != nil {
		badRequest(c, "invalid upload id", err.Error())
		return
	}

	monograph, err := h.uploads.Classify(c.Request.Context(), userID, uploadID, req.ScientificName)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ClassifyResponse{Success: true, FlowerInfo: monograph})
}

func predictionResponses(predictions []models.Prediction) []models.PredictionResponse {
	out := make([]models.PredictionResponse, len(predictions))
	for i, p := range predictions {
		out[i] = models.PredictionResponse{
			ClassName:       p.PredictedClass,
			Confidence:      p.ConfidenceScore,
			IsTopPrediction: p.IsTopPrediction,
		}
	}
	return out
}
