package services

import (
	"context"
	"errors"
	"fmt"

	"flower-classifier-backend/internal/classifier"
	"flower-classifier-backend/internal/gemini"

	"github.com/google/uuid"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidInput
	KindUnauthorized
	KindNotFound
	KindTransport
	KindMalformedPayload
	KindPartialFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindPartialFailure:
		return "partial_failure"
	default:
		return "internal"
	}
}

// Pipeline stages, used in errors, logs and metrics.
const (
	StageValidate           = "validate"
	StageStorage            = "storage"
	StageCreateUpload       = "create_upload"
	StagePrediction         = "prediction"
	StagePersistPredictions = "persist_predictions"
	StageKnowledge          = "knowledge"
	StageFinalize           = "finalize"
	StageLookup             = "lookup"
	StageSynthesis          = "synthesis"
	StageParse              = "parse"
	StageStore              = "store"
)

var (
	ErrMonographNotFound = errors.New("flower not found, classify an image first")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrNotAnImage        = errors.New("file must be an image")
)

// PipelineError is the single error type services return to handlers.
// UploadID is uuid.Nil when the failure happened before a row existed.
// Status is the upload status last written for UploadID, empty when unknown.
type PipelineError struct {
	Kind     ErrorKind
	Stage    string
	UploadID uuid.UUID
	Status   string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Summary is a short message safe to show users and to store on the upload.
// Upstream response bodies stay in Err for logging.
func (e *PipelineError) Summary() string {
	switch e.Kind {
	case KindInvalidInput, KindUnauthorized, KindNotFound:
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return stageMessage(e.Stage) + ": " + causeMessage(e)
}

func stageMessage(stage string) string {
	switch stage {
	case StageValidate:
		return "Invalid request"
	case StageStorage:
		return "Failed to store image"
	case StageCreateUpload:
		return "Failed to record upload"
	case StagePrediction:
		return "Prediction failed"
	case StagePersistPredictions:
		return "Failed to save predictions"
	case StageKnowledge:
		return "Failed to retrieve flower information"
	case StageFinalize:
		return "Failed to finalize upload"
	case StageLookup:
		return "Lookup failed"
	case StageSynthesis, StageParse:
		return "Failed to generate flower information"
	case StageStore:
		return "Failed to save flower information"
	default:
		return "Failed to process image"
	}
}

func causeMessage(e *PipelineError) string {
	kind := e.Kind
	if kind == KindPartialFailure {
		var inner *PipelineError
		if !errors.As(e.Err, &inner) {
			return "service unavailable"
		}
		if inner.Kind == KindPartialFailure {
			return "internal error"
		}
		if inner.Kind == KindInvalidInput || inner.Kind == KindNotFound {
			return inner.Summary()
		}
		kind = inner.Kind
	}
	switch kind {
	case KindTransport:
		return "service unavailable"
	case KindMalformedPayload:
		return "service returned an unusable response"
	default:
		return "internal error"
	}
}

func newError(kind ErrorKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// KindOf reports the outermost kind attached to err.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrMonographNotFound), errors.Is(err, ErrUploadNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotAnImage):
		return KindInvalidInput
	}
	return KindInternal
}

// externalKind classifies a failure coming back from the classifier or the
// synthesis service.
func externalKind(err error) ErrorKind {
	switch {
	case errors.Is(err, classifier.ErrNoPredictions),
		errors.Is(err, classifier.ErrInvalidConfidence),
		errors.Is(err, gemini.ErrEmptyResponse),
		errors.Is(err, gemini.ErrNoJSONObject):
		return KindMalformedPayload
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransport
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransport
}
