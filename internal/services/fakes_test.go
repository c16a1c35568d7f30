package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"flower-classifier-backend/internal/classifier"
	"flower-classifier-backend/internal/gemini"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/supabase"

	"github.com/google/uuid"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

const roseMonographJSON = `{
  "common_names": ["Rose", "Garden Rose"],
  "description": "A woody perennial of the genus Rosa.",
  "botanical_properties": {"family": "Rosaceae", "genus": "Rosa"},
  "common_uses": ["ornamental", "culinary"],
  "visual_states": {"healthy": "deep green leaves"},
  "care_instructions": "Full sun, well-drained soil.",
  "toxicity_info": {"pets": "non-toxic", "humans": "non-toxic"}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu          sync.Mutex
	uploads     map[uuid.UUID]*models.Upload
	predictions map[uuid.UUID][]models.Prediction
	flowers     map[string]*models.FlowerMonograph
	questions   map[string]*models.FlowerQuestion

	createFlowerCalls   atomic.Int32
	createQuestionCalls atomic.Int32

	createUploadErr      error
	createPredictionsErr error
	createQuestionErr    error
	updateStatusErr      error
	listErr              error
	// beforeCreateFlower runs before CreateFlower checks for an existing key.
	beforeCreateFlower func(key string)
	// beforeCreateQuestion runs before CreateFlowerQuestion checks for an existing row.
	beforeCreateQuestion func(q *models.FlowerQuestion)
}

func newMemStore() *memStore {
	return &memStore{
		uploads:     make(map[uuid.UUID]*models.Upload),
		predictions: make(map[uuid.UUID][]models.Prediction),
		flowers:     make(map[string]*models.FlowerMonograph),
		questions:   make(map[string]*models.FlowerQuestion),
	}
}

func questionKey(key, normalized string) string {
	return key + "\x00" + normalized
}

func (m *memStore) CreateUpload(_ context.Context, userID uuid.UUID, imagePath string) (*models.Upload, error) {
	if m.createUploadErr != nil {
		return nil, m.createUploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	u := &models.Upload{
		ID:        uuid.New(),
		UserID:    userID,
		ImagePath: imagePath,
		Status:    models.UploadStatusProcessing,
		CreatedAt: now.Add(time.Duration(len(m.uploads)) * time.Millisecond),
		UpdatedAt: now,
	}
	m.uploads[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUpload(_ context.Context, uploadID, userID uuid.UUID) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok || u.UserID != userID {
		return nil, supabase.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) UpdateUploadStatus(ctx context.Context, uploadID uuid.UUID, status, errorMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return supabase.ErrNotFound
	}
	if u.Status != models.UploadStatusProcessing {
		return supabase.ErrStatusTransition
	}
	u.Status = status
	u.ErrorMessage = sql.NullString{String: errorMsg, Valid: errorMsg != ""}
	return nil
}

func (m *memStore) CreatePredictions(_ context.Context, predictions []models.Prediction) ([]models.Prediction, error) {
	if m.createPredictionsErr != nil {
		return nil, m.createPredictionsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Prediction, len(predictions))
	for i, p := range predictions {
		p.ID = uuid.New()
		p.CreatedAt = time.Now()
		out[i] = p
	}
	if len(out) > 0 {
		m.predictions[out[0].UploadID] = out
	}
	return out, nil
}

func (m *memStore) GetPredictions(_ context.Context, uploadID uuid.UUID) ([]models.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Prediction(nil), m.predictions[uploadID]...), nil
}

func (m *memStore) ListHistory(_ context.Context, userID uuid.UUID) ([]models.HistoryRow, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.HistoryRow
	for _, u := range m.uploads {
		if u.UserID != userID {
			continue
		}
		row := models.HistoryRow{Upload: *u}
		for _, p := range m.predictions[u.ID] {
			if p.IsTopPrediction {
				top := p
				row.TopPrediction = &top
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Upload.CreatedAt.After(rows[j].Upload.CreatedAt)
	})
	return rows, nil
}

func (m *memStore) GetFlower(_ context.Context, key string) (*models.FlowerMonograph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flowers[key]
	if !ok {
		return nil, supabase.ErrNotFound
	}
	cp := *f
	cp.QAndA = []models.QAEntry{}
	var qs []*models.FlowerQuestion
	for _, q := range m.questions {
		if q.FlowerKey == key {
			qs = append(qs, q)
		}
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].CreatedAt.Before(qs[j].CreatedAt) })
	for _, q := range qs {
		cp.QAndA = append(cp.QAndA, models.QAEntry{Question: q.Question, Answer: q.Answer})
	}
	return &cp, nil
}

func (m *memStore) CreateFlower(_ context.Context, flower *models.FlowerMonograph) (*models.FlowerMonograph, error) {
	m.createFlowerCalls.Add(1)
	if m.beforeCreateFlower != nil {
		m.beforeCreateFlower(flower.ScientificName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flowers[flower.ScientificName]; ok {
		return nil, supabase.ErrDuplicate
	}
	cp := *flower
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.flowers[cp.ScientificName] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetFlowerQuestion(_ context.Context, key, normalized string) (*models.FlowerQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionKey(key, normalized)]
	if !ok {
		return nil, supabase.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) CreateFlowerQuestion(_ context.Context, q *models.FlowerQuestion) error {
	m.createQuestionCalls.Add(1)
	if m.beforeCreateQuestion != nil {
		m.beforeCreateQuestion(q)
	}
	if m.createQuestionErr != nil {
		return m.createQuestionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := questionKey(q.FlowerKey, q.NormalizedQuestion)
	if _, ok := m.questions[k]; ok {
		return supabase.ErrDuplicate
	}
	cp := *q
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	m.questions[k] = &cp
	return nil
}

func (m *memStore) putFlower(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowers[key] = &models.FlowerMonograph{
		ID:             uuid.New(),
		ScientificName: key,
		Description:    "stored " + key,
		Source:         models.FlowerSourceSynthesized,
		CreatedAt:      time.Now(),
	}
}

func (m *memStore) putQuestion(key, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := NormalizeKey(question)
	m.questions[questionKey(key, normalized)] = &models.FlowerQuestion{
		ID:                 uuid.New(),
		FlowerKey:          key,
		Question:           question,
		NormalizedQuestion: normalized,
		Answer:             answer,
		CreatedAt:          time.Now(),
	}
}

func (m *memStore) upload(id uuid.UUID) models.Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.uploads[id]
}

func (m *memStore) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok {
		return "", errors.New("object already exists")
	}
	s.objects[path] = data
	return path, nil
}

func (s *memStorage) GetPublicURL(path string) string {
	return supabase.PublicURL("https://project.supabase.co", "flower_images", path)
}

func (s *memStorage) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.objects {
		out = append(out, p)
	}
	return out
}

type stubPredictor struct {
	calls atomic.Int32
	preds []classifier.Prediction
	err   error
}

func (p *stubPredictor) Predict(context.Context, string, []byte) ([]classifier.Prediction, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return append([]classifier.Prediction(nil), p.preds...), nil
}

type stubSynth struct {
	calls atomic.Int32
	// reply returns the completion for a prompt.
	reply func(prompt string) (string, error)
	// gate, when set, blocks every call until it is closed.
	gate chan struct{}
}

func (s *stubSynth) Complete(ctx context.Context, prompt string, _ gemini.CompletionOptions) (string, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply(prompt)
}

func fixedReply(text string) *stubSynth {
	return &stubSynth{reply: func(string) (string, error) { return text, nil }}
}
