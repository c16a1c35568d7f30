package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flower-classifier-backend/internal/handlers"
	"flower-classifier-backend/internal/middleware"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubUploads struct {
	submitted services.SubmitInput
	result    *services.UploadResult
	monograph *models.FlowerMonograph
	upload    *models.Upload
	preds     []models.Prediction
	err       error
}

func (s *stubUploads) Submit(_ context.Context, in services.SubmitInput) (*services.UploadResult, error) {
	s.submitted = in
	return s.result, s.err
}

func (s *stubUploads) Classify(context.Context, uuid.UUID, uuid.UUID, string) (*models.FlowerMonograph, error) {
	return s.monograph, s.err
}

func (s *stubUploads) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Upload, []models.Prediction, string, error) {
	if s.err != nil {
		return nil, nil, "", s.err
	}
	return s.upload, s.preds, "https://cdn.example/" + s.upload.ImagePath, nil
}

type stubKnowledge struct {
	monograph *models.FlowerMonograph
	answer    *services.AnswerResult
	err       error
}

func (s *stubKnowledge) Get(context.Context, string) (*models.FlowerMonograph, error) {
	return s.monograph, s.err
}

func (s *stubKnowledge) Answer(context.Context, string, string) (*services.AnswerResult, error) {
	return s.answer, s.err
}

type stubHistory struct {
	items     []models.HistoryItem
	snapshots [][]models.HistoryItem
	err       error
}

func (s *stubHistory) List(context.Context, uuid.UUID) ([]models.HistoryItem, error) {
	return s.items, s.err
}

func (s *stubHistory) Watch(context.Context, uuid.UUID) (<-chan []models.HistoryItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan []models.HistoryItem, len(s.snapshots))
	for _, snap := range s.snapshots {
		ch <- snap
	}
	close(ch)
	return ch, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func withUser(id uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, id)
		c.Next()
	}
}

func newRouter(userID uuid.UUID, uploads handlers.UploadPipeline, knowledge handlers.Knowledge, history handlers.History) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", handlers.HealthHandler)

	api := router.Group("/api/v1")
	if userID != uuid.Nil {
		api.Use(withUser(userID))
	}
	uploadHandler := handlers.NewUploadHandler(uploads, 1<<10)
	api.POST("/uploads", uploadHandler.Upload)
	api.GET("/uploads/:upload_id", uploadHandler.GetUpload)
	api.POST("/classify", uploadHandler.Classify)

	flowerHandler := handlers.NewFlowerHandler(knowledge)
	api.GET("/flowers/:name", flowerHandler.GetFlower)
	api.POST("/questions", flowerHandler.AskQuestion)

	historyHandler := handlers.NewHistoryHandler(history, time.Minute)
	api.GET("/history", historyHandler.GetHistory)
	api.GET("/history/stream", historyHandler.StreamHistory)
	return router
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthHandler(t *testing.T) {
	router := newRouter(uuid.Nil, &stubUploads{}, &stubKnowledge{}, &stubHistory{})

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestReadyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for name, tc := range map[string]struct {
		err  error
		code int
	}{
		"up":   {code: http.StatusOK},
		"down": {err: errors.New("connection refused"), code: http.StatusServiceUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			router := gin.New()
			router.GET("/ready", handlers.ReadyHandler(stubPinger{err: tc.err}, time.Second))

			req, _ := http.NewRequest("GET", "/ready", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestUpload_Success(t *testing.T) {
	userID := uuid.New()
	uploadID := uuid.New()
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	uploads := &stubUploads{result: &services.UploadResult{
		Upload: &models.Upload{
			ID:        uploadID,
			UserID:    userID,
			ImagePath: userID.String() + "/1.png",
			Status:    models.UploadStatusCompleted,
			CreatedAt: created,
		},
		Predictions: []models.Prediction{
			{PredictedClass: "rose", ConfidenceScore: 0.95, IsTopPrediction: true},
			{PredictedClass: "tulip", ConfidenceScore: 0.03, Rank: 1},
		},
		Monograph: &models.FlowerMonograph{ScientificName: "rose", Description: "A woody perennial."},
		ImageURL:  "https://cdn.example/" + userID.String() + "/1.png",
	}}
	router := newRouter(userID, uploads, &stubKnowledge{}, &stubHistory{})

	body, contentType := multipartBody(t, "file", "rose.png", pngBytes)
	req, _ := http.NewRequest("POST", "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, userID, uploads.submitted.OwnerID)
	assert.Equal(t, "rose.png", uploads.submitted.Filename)
	assert.Equal(t, pngBytes, uploads.submitted.Data)

	resp := decode[models.UploadResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, uploadID.String(), resp.UploadID)
	assert.Equal(t, models.UploadStatusCompleted, resp.Status)
	require.Len(t, resp.Predictions, 2)
	assert.Equal(t, "rose", resp.Predictions[0].ClassName)
	assert.True(t, resp.Predictions[0].IsTopPrediction)
	assert.False(t, resp.Predictions[1].IsTopPrediction)
	require.NotNil(t, resp.FlowerInfo)
	assert.Equal(t, "rose", resp.FlowerInfo.ScientificName)
	assert.Contains(t, w.Body.String(), `"flowerInfo"`)
}

func TestUpload_BadRequests(t *testing.T) {
	userID := uuid.New()

	t.Run("missing file field", func(t *testing.T) {
		router := newRouter(userID, &stubUploads{}, &stubKnowledge{}, &stubHistory{})
		body, contentType := multipartBody(t, "image", "rose.png", pngBytes)
		req, _ := http.NewRequest("POST", "/api/v1/uploads", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "no file provided", decode[models.ErrorResponse](t, w).Error)
	})

	t.Run("too large", func(t *testing.T) {
		router := newRouter(userID, &stubUploads{}, &stubKnowledge{}, &stubHistory{})
		body, contentType := multipartBody(t, "file", "rose.png", bytes.Repeat([]byte{0xff}, 2<<10))
		req, _ := http.NewRequest("POST", "/api/v1/uploads", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("no user", func(t *testing.T) {
		router := newRouter(uuid.Nil, &stubUploads{}, &stubKnowledge{}, &stubHistory{})
		body, contentType := multipartBody(t, "file", "rose.png", pngBytes)
		req, _ := http.NewRequest("POST", "/api/v1/uploads", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUpload_ErrorKinds(t *testing.T) {
	uploadID := uuid.New()
	tests := []struct {
		name     string
		err      error
		code     int
		message  string
		uploadID string
		status   string
	}{
		{
			name:    "not an image",
			err:     &services.PipelineError{Kind: services.KindInvalidInput, Stage: services.StageValidate, Err: services.ErrNotAnImage},
			code:    http.StatusBadRequest,
			message: "file must be an image",
		},
		{
			name:    "storage down",
			err:     &services.PipelineError{Kind: services.KindTransport, Stage: services.StageStorage, Err: errors.New("bucket unavailable")},
			code:    http.StatusBadGateway,
			message: "Failed to store image: service unavailable",
		},
		{
			name:     "classifier garbage",
			err:      &services.PipelineError{Kind: services.KindMalformedPayload, Stage: services.StagePrediction, UploadID: uploadID, Status: models.UploadStatusFailed, Err: errors.New("status 500, body: <html>Traceback</html>")},
			code:     http.StatusBadGateway,
			message:  "Prediction failed: service returned an unusable response",
			uploadID: uploadID.String(),
			status:   models.UploadStatusFailed,
		},
		{
			name:     "knowledge failed",
			err:      &services.PipelineError{Kind: services.KindPartialFailure, Stage: services.StageKnowledge, UploadID: uploadID, Status: models.UploadStatusFailed, Err: errors.New("quota")},
			code:     http.StatusInternalServerError,
			message:  "Failed to retrieve flower information: service unavailable",
			uploadID: uploadID.String(),
			status:   models.UploadStatusFailed,
		},
		{
			name:     "failure not recorded",
			err:      &services.PipelineError{Kind: services.KindTransport, Stage: services.StagePrediction, UploadID: uploadID, Status: models.UploadStatusProcessing, Err: errors.New("timeout")},
			code:     http.StatusBadGateway,
			message:  "Prediction failed: service unavailable",
			uploadID: uploadID.String(),
			status:   models.UploadStatusProcessing,
		},
		{
			name:    "unclassified",
			err:     errors.New("pq: password authentication failed"),
			code:    http.StatusInternalServerError,
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(uuid.New(), &stubUploads{err: tt.err}, &stubKnowledge{}, &stubHistory{})
			body, contentType := multipartBody(t, "file", "rose.png", pngBytes)
			req, _ := http.NewRequest("POST", "/api/v1/uploads", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			resp := decode[models.ErrorResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Error)
			assert.Equal(t, tt.uploadID, resp.UploadID)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestGetUpload(t *testing.T) {
	userID := uuid.New()
	upload := &models.Upload{ID: uuid.New(), UserID: userID, ImagePath: userID.String() + "/1.png", Status: models.UploadStatusCompleted}
	uploads := &stubUploads{upload: upload, preds: []models.Prediction{{PredictedClass: "rose", ConfidenceScore: 0.9, IsTopPrediction: true}}}
	router := newRouter(userID, uploads, &stubKnowledge{}, &stubHistory{})

	req, _ := http.NewRequest("GET", "/api/v1/uploads/"+upload.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.UploadResponse](t, w)
	assert.Equal(t, "https://cdn.example/"+upload.ImagePath, resp.ImageURL)
	assert.Nil(t, resp.FlowerInfo)

	req, _ = http.NewRequest("GET", "/api/v1/uploads/not-a-uuid", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	uploads.err = &services.PipelineError{Kind: services.KindNotFound, Stage: services.StageLookup, Err: services.ErrUploadNotFound}
	req, _ = http.NewRequest("GET", "/api/v1/uploads/"+uuid.NewString(), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "upload not found", decode[models.ErrorResponse](t, w).Error)
}

func TestClassify(t *testing.T) {
	userID := uuid.New()
	uploads := &stubUploads{monograph: &models.FlowerMonograph{ScientificName: "rosa"}}
	router := newRouter(userID, uploads, &stubKnowledge{}, &stubHistory{})

	for name, tc := range map[string]struct {
		body string
		code int
	}{
		"ok":            {body: fmt.Sprintf(`{"upload_id":%q,"scientific_name":"Rosa"}`, uuid.NewString()), code: http.StatusOK},
		"missing name":  {body: fmt.Sprintf(`{"upload_id":%q}`, uuid.NewString()), code: http.StatusBadRequest},
		"bad upload id": {body: `{"upload_id":"x","scientific_name":"Rosa"}`, code: http.StatusBadRequest},
		"form encoded":  {body: `upload_id=x`, code: http.StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/api/v1/classify", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestAskQuestion(t *testing.T) {
	knowledge := &stubKnowledge{answer: &services.AnswerResult{Text: "Not toxic.", WasCached: true}}
	router := newRouter(uuid.New(), &stubUploads{}, knowledge, &stubHistory{})

	req, _ := http.NewRequest("POST", "/api/v1/questions", strings.NewReader(`{"scientific_name":"rosa","question":"Is it toxic?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"answer":"Not toxic.","cached":true}`, w.Body.String())

	knowledge.err = &services.PipelineError{Kind: services.KindNotFound, Stage: services.StageLookup, Err: services.ErrMonographNotFound}
	req, _ = http.NewRequest("POST", "/api/v1/questions", strings.NewReader(`{"scientific_name":"unknown","question":"Is it toxic?"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFlower(t *testing.T) {
	knowledge := &stubKnowledge{monograph: &models.FlowerMonograph{
		ScientificName: "rosa",
		QAndA:          []models.QAEntry{{Question: "Is it toxic?", Answer: "No."}},
	}}
	router := newRouter(uuid.New(), &stubUploads{}, knowledge, &stubHistory{})

	req, _ := http.NewRequest("GET", "/api/v1/flowers/Rosa", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.FlowerResponse](t, w)
	assert.Equal(t, "rosa", resp.FlowerInfo.ScientificName)
	assert.Len(t, resp.FlowerInfo.QAndA, 1)
}

func TestGetHistory(t *testing.T) {
	history := &stubHistory{items: []models.HistoryItem{
		{ID: uuid.NewString(), Status: models.UploadStatusCompleted, TopPrediction: &models.TopPredictionResponse{ClassName: "rose", Confidence: 0.95}},
		{ID: uuid.NewString(), Status: models.UploadStatusFailed, ErrorMessage: "Prediction failed: timeout"},
	}}
	router := newRouter(uuid.New(), &stubUploads{}, &stubKnowledge{}, history)

	req, _ := http.NewRequest("GET", "/api/v1/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.HistoryResponse](t, w)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "rose", resp.History[0].TopPrediction.ClassName)
	assert.Equal(t, "Prediction failed: timeout", resp.History[1].ErrorMessage)
	assert.Contains(t, w.Body.String(), `"topPrediction"`)
}

// streamRecorder adds the CloseNotify support gin's Stream needs.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestStreamHistory(t *testing.T) {
	first := []models.HistoryItem{}
	second := []models.HistoryItem{{ID: uuid.NewString(), Status: models.UploadStatusProcessing}}
	history := &stubHistory{snapshots: [][]models.HistoryItem{first, second}}
	router := newRouter(uuid.New(), &stubUploads{}, &stubKnowledge{}, history)

	req, _ := http.NewRequest("GET", "/api/v1/history/stream", nil)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:history\n"))
	assert.Contains(t, body, `"status":"processing"`)
}

func TestStreamHistory_WatchError(t *testing.T) {
	history := &stubHistory{err: &services.PipelineError{Kind: services.KindTransport, Stage: services.StageLookup, Err: errors.New("db down")}}
	router := newRouter(uuid.New(), &stubUploads{}, &stubKnowledge{}, history)

	req, _ := http.NewRequest("GET", "/api/v1/history/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
