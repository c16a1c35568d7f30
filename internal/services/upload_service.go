package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"flower-classifier-backend/internal/classifier"
	"flower-classifier-backend/internal/metrics"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/supabase"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const maxErrorMessageLen = 500

type UploadOptions struct {
	StorageTimeout    time.Duration
	PredictionTimeout time.Duration
	DatabaseTimeout   time.Duration
}

// UploadService drives one submission through storage, prediction,
// persistence and the knowledge cache. There is no cross-store transaction:
// each failing step is a terminal transition of the upload row.
type UploadService struct {
	storage   ObjectStorage
	store     UploadStore
	predictor Predictor
	fallback  Predictor
	knowledge MonographProvider
	logger    *slog.Logger
	opts      UploadOptions

	now func() time.Time
}

type SubmitInput struct {
	OwnerID  uuid.UUID
	Filename string
	Data     []byte
}

type UploadResult struct {
	Upload      *models.Upload
	Predictions []models.Prediction
	Monograph   *models.FlowerMonograph
	ImageURL    string
}

// NewUploadService wires the orchestrator. fallback may be nil, in which case
// a prediction failure fails the upload.
func NewUploadService(
	storage ObjectStorage,
	store UploadStore,
	predictor Predictor,
	fallback Predictor,
	knowledge MonographProvider,
	logger *slog.Logger,
	opts UploadOptions,
) *UploadService {
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 30 * time.Second
	}
	if opts.PredictionTimeout <= 0 {
		opts.PredictionTimeout = 30 * time.Second
	}
	if opts.DatabaseTimeout <= 0 {
		opts.DatabaseTimeout = 10 * time.Second
	}
	return &UploadService{
		storage:   storage,
		store:     store,
		predictor: predictor,
		fallback:  fallback,
		knowledge: knowledge,
		logger:    logger.With("component", "uploads"),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *UploadService) Submit(ctx context.Context, in SubmitInput) (*UploadResult, error) {
	if len(in.Data) == 0 {
		return nil, newError(KindInvalidInput, StageValidate, errors.New("image is empty"))
	}
	mtype := mimetype.Detect(in.Data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, newError(KindInvalidInput, StageValidate, fmt.Errorf("%w: detected %s", ErrNotAnImage, mtype.String()))
	}

	path := fmt.Sprintf("%s/%d%s", in.OwnerID, s.now().UnixMilli(), imageExtension(in.Filename, mtype))
	log := s.logger.With("user_id", in.OwnerID, "image_path", path)

	storageCtx, cancel := context.WithTimeout(ctx, s.opts.StorageTimeout)
	_, err := s.storage.Put(storageCtx, path, mtype.String(), in.Data)
	cancel()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("aborted", StageStorage).Inc()
		log.Error("image upload failed", "error", err)
		return nil, newError(KindTransport, StageStorage, err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	upload, err := s.store.CreateUpload(dbCtx, in.OwnerID, path)
	cancel()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("aborted", StageCreateUpload).Inc()
		log.Error("failed to create upload row, stored image is orphaned", "error", err)
		return nil, newError(KindTransport, StageCreateUpload, err)
	}
	log = log.With("upload_id", upload.ID)

	raw, err := s.predict(ctx, log, in.Filename, in.Data)
	if err == nil && len(raw) == 0 {
		err = classifier.ErrNoPredictions
	}
	if err != nil {
		return nil, s.fail(ctx, log, upload, StagePrediction, externalKind(err), err)
	}

	dbCtx, cancel = context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	predictions, err := s.store.CreatePredictions(dbCtx, RankPredictions(upload.ID, raw))
	cancel()
	if err != nil {
		return nil, s.fail(ctx, log, upload, StagePersistPredictions, KindTransport, err)
	}

	top := predictions[0]
	monograph, err := s.knowledge.GetOrCreate(ctx, top.PredictedClass)
	if err != nil {
		return nil, s.fail(ctx, log, upload, StageKnowledge, KindPartialFailure, err)
	}

	dbCtx, cancel = context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	err = s.store.UpdateUploadStatus(dbCtx, upload.ID, models.UploadStatusCompleted, "")
	cancel()
	if err != nil {
		return nil, s.fail(ctx, log, upload, StageFinalize, KindTransport, err)
	}
	upload.Status = models.UploadStatusCompleted

	metrics.UploadsTotal.WithLabelValues(models.UploadStatusCompleted, StageFinalize).Inc()
	log.Info("upload classified", "top_class", top.PredictedClass, "confidence", top.ConfidenceScore)

	return &UploadResult{
		Upload:      upload,
		Predictions: predictions,
		Monograph:   monograph,
		ImageURL:    s.storage.GetPublicURL(path),
	}, nil
}

func (s *UploadService) predict(ctx context.Context, log *slog.Logger, filename string, data []byte) ([]classifier.Prediction, error) {
	predCtx, cancel := context.WithTimeout(ctx, s.opts.PredictionTimeout)
	preds, err := s.predictor.Predict(predCtx, filename, data)
	cancel()
	if err == nil || s.fallback == nil {
		return preds, err
	}

	log.Warn("primary prediction failed, trying fallback", "error", err)
	predCtx, cancel = context.WithTimeout(ctx, s.opts.PredictionTimeout)
	preds, fallbackErr := s.fallback.Predict(predCtx, filename, data)
	cancel()
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary: %w; fallback: %w", err, fallbackErr)
	}
	return preds, nil
}

// fail records the failure on the upload row and returns the error for the
// caller. The row update runs on a fresh context so an expired request
// deadline cannot leave the upload stuck in processing.
func (s *UploadService) fail(ctx context.Context, log *slog.Logger, upload *models.Upload, stage string, kind ErrorKind, cause error) error {
	pe := &PipelineError{Kind: kind, Stage: stage, UploadID: upload.ID, Err: cause}
	msg := truncateMessage(pe.Summary(), maxErrorMessageLen)

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DatabaseTimeout)
	defer cancel()
	err := s.store.UpdateUploadStatus(dbCtx, upload.ID, models.UploadStatusFailed, msg)
	switch {
	case err == nil:
		upload.Status = models.UploadStatusFailed
		upload.ErrorMessage.String, upload.ErrorMessage.Valid = msg, true
		pe.Status = upload.Status
	case errors.Is(err, supabase.ErrStatusTransition):
		log.Warn("upload already left processing", "stage", stage)
	default:
		log.Error("failed to mark upload failed", "stage", stage, "error", err)
		pe.Status = upload.Status
	}

	metrics.UploadsTotal.WithLabelValues(models.UploadStatusFailed, stage).Inc()
	log.Error("upload failed", "stage", stage, "kind", kind.String(), "error", cause)
	return pe
}

// Classify runs the knowledge step for an upload the caller owns and completes
// the upload if it is still processing.
func (s *UploadService) Classify(ctx context.Context, ownerID, uploadID uuid.UUID, scientificName string) (*models.FlowerMonograph, error) {
	upload, err := s.getOwned(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("user_id", ownerID, "upload_id", uploadID)

	monograph, err := s.knowledge.GetOrCreate(ctx, scientificName)
	if err != nil {
		if upload.Status == models.UploadStatusProcessing && KindOf(err) != KindInvalidInput {
			return nil, s.fail(ctx, log, upload, StageKnowledge, KindPartialFailure, err)
		}
		return nil, err
	}

	if upload.Status == models.UploadStatusProcessing {
		dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
		err := s.store.UpdateUploadStatus(dbCtx, upload.ID, models.UploadStatusCompleted, "")
		cancel()
		if err != nil && !errors.Is(err, supabase.ErrStatusTransition) {
			log.Error("failed to complete upload", "error", err)
		}
	}
	return monograph, nil
}

// Get returns an owned upload with its ranked predictions.
func (s *UploadService) Get(ctx context.Context, ownerID, uploadID uuid.UUID) (*models.Upload, []models.Prediction, string, error) {
	upload, err := s.getOwned(ctx, ownerID, uploadID)
	if err != nil {
		return nil, nil, "", err
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	defer cancel()
	predictions, err := s.store.GetPredictions(dbCtx, uploadID)
	if err != nil {
		return nil, nil, "", newError(KindTransport, StageLookup, err)
	}
	return upload, predictions, s.storage.GetPublicURL(upload.ImagePath), nil
}

func (s *UploadService) getOwned(ctx context.Context, ownerID, uploadID uuid.UUID) (*models.Upload, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	defer cancel()

	upload, err := s.store.GetUpload(dbCtx, uploadID, ownerID)
	if errors.Is(err, supabase.ErrNotFound) {
		return nil, newError(KindNotFound, StageLookup, ErrUploadNotFound)
	}
	if err != nil {
		return nil, newError(KindTransport, StageLookup, err)
	}
	return upload, nil
}

// RankPredictions orders raw predictions by confidence, highest first, keeping
// the model's order for ties, and marks exactly the head as top.
func RankPredictions(uploadID uuid.UUID, raw []classifier.Prediction) []models.Prediction {
	sorted := make([]classifier.Prediction, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	ranked := make([]models.Prediction, len(sorted))
	for i, p := range sorted {
		ranked[i] = models.Prediction{
			UploadID:        uploadID,
			PredictedClass:  strings.TrimSpace(p.ClassName),
			ConfidenceScore: p.Confidence,
			IsTopPrediction: i == 0,
			Rank:            i,
		}
	}
	return ranked
}

func imageExtension(filename string, mtype *mimetype.MIME) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 1 && len(ext) <= 6 && isAlnum(ext[1:]) {
		return ext
	}
	return mtype.Extension()
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// truncateMessage cuts msg to at most n bytes without splitting a rune.
func truncateMessage(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
