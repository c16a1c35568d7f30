package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flower-classifier-backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrStatusTransition is returned when an upload is no longer processing.
	ErrStatusTransition = errors.New("upload status transition not allowed")
)

const uniqueViolation = pq.ErrorCode("23505")

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

const uploadColumns = `id, user_id, image_path, status, error_message, created_at, updated_at`

func scanUpload(row interface{ Scan(...any) error }, upload *models.Upload) error {
	return row.Scan(
		&upload.ID, &upload.UserID, &upload.ImagePath, &upload.Status,
		&upload.ErrorMessage, &upload.CreatedAt, &upload.UpdatedAt,
	)
}

func (d *DatabaseClient) CreateUpload(ctx context.Context, userID uuid.UUID, imagePath string) (*models.Upload, error) {
	var upload models.Upload
	err := scanUpload(d.db.QueryRowContext(ctx, `
		INSERT INTO uploads (user_id, image_path, status)
		VALUES ($1, $2, $3)
		RETURNING `+uploadColumns,
		userID, imagePath, models.UploadStatusProcessing), &upload)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", mapError(err))
	}
	return &upload, nil
}

func (d *DatabaseClient) GetUpload(ctx context.Context, uploadID, userID uuid.UUID) (*models.Upload, error) {
	var upload models.Upload
	err := scanUpload(d.db.QueryRowContext(ctx, `
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE id = $1 AND user_id = $2
	`, uploadID, userID), &upload)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", mapError(err))
	}
	return &upload, nil
}

// UpdateUploadStatus moves a processing upload to a terminal status. Uploads
// that already left processing are not touched and yield ErrStatusTransition.
func (d *DatabaseClient) UpdateUploadStatus(ctx context.Context, uploadID uuid.UUID, status, errorMsg string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE uploads
		SET status = $1, error_message = NULLIF($2, '')
		WHERE id = $3 AND status = 'processing'
	`, status, errorMsg, uploadID)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if n == 0 {
		return ErrStatusTransition
	}
	return nil
}

// CreatePredictions inserts the whole ranked batch in one transaction.
func (d *DatabaseClient) CreatePredictions(ctx context.Context, predictions []models.Prediction) ([]models.Prediction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO predictions (upload_id, predicted_class, confidence_score, is_top_prediction, rank)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare prediction insert: %w", err)
	}
	defer stmt.Close()

	stored := make([]models.Prediction, len(predictions))
	for i, p := range predictions {
		if err := stmt.QueryRowContext(ctx,
			p.UploadID, p.PredictedClass, p.ConfidenceScore, p.IsTopPrediction, p.Rank,
		).Scan(&p.ID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert prediction %q: %w", p.PredictedClass, mapError(err))
		}
		stored[i] = p
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit predictions: %w", err)
	}
	return stored, nil
}

func (d *DatabaseClient) GetPredictions(ctx context.Context, uploadID uuid.UUID) ([]models.Prediction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, upload_id, predicted_class, confidence_score, is_top_prediction, rank, created_at
		FROM predictions
		WHERE upload_id = $1
		ORDER BY rank ASC
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get predictions: %w", err)
	}
	defer rows.Close()

	var predictions []models.Prediction
	for rows.Next() {
		var p models.Prediction
		if err := rows.Scan(&p.ID, &p.UploadID, &p.PredictedClass, &p.ConfidenceScore,
			&p.IsTopPrediction, &p.Rank, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// ListHistory returns the owner's uploads, newest first, each joined with its
// top prediction when one exists.
func (d *DatabaseClient) ListHistory(ctx context.Context, userID uuid.UUID) ([]models.HistoryRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT u.id, u.user_id, u.image_path, u.status, u.error_message, u.created_at, u.updated_at,
		       p.id, p.predicted_class, p.confidence_score, p.created_at
		FROM uploads u
		LEFT JOIN predictions p ON p.upload_id = u.id AND p.is_top_prediction
		WHERE u.user_id = $1
		ORDER BY u.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var history []models.HistoryRow
	for rows.Next() {
		var (
			row        models.HistoryRow
			predID     uuid.NullUUID
			predClass  sql.NullString
			confidence sql.NullFloat64
			predAt     sql.NullTime
		)
		u := &row.Upload
		if err := rows.Scan(&u.ID, &u.UserID, &u.ImagePath, &u.Status, &u.ErrorMessage,
			&u.CreatedAt, &u.UpdatedAt, &predID, &predClass, &confidence, &predAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if predID.Valid {
			row.TopPrediction = &models.Prediction{
				ID:              predID.UUID,
				UploadID:        u.ID,
				PredictedClass:  predClass.String,
				ConfidenceScore: confidence.Float64,
				IsTopPrediction: true,
				CreatedAt:       predAt.Time,
			}
		}
		history = append(history, row)
	}
	return history, rows.Err()
}

// GetFlower loads a monograph and its Q&A entries by normalized key.
func (d *DatabaseClient) GetFlower(ctx context.Context, key string) (*models.FlowerMonograph, error) {
	var flower models.FlowerMonograph
	var commonNames, botanical, uses, visual, toxicity []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT id, scientific_name, common_names, description, botanical_properties, common_uses,
		       visual_states, care_instructions, toxicity_info, source, created_at, updated_at
		FROM flowers
		WHERE scientific_name = $1
	`, key).Scan(
		&flower.ID, &flower.ScientificName, &commonNames, &flower.Description, &botanical, &uses,
		&visual, &flower.CareInstructions, &toxicity, &flower.Source, &flower.CreatedAt, &flower.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get flower %q: %w", key, mapError(err))
	}

	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{commonNames, &flower.CommonNames},
		{botanical, &flower.BotanicalProperties},
		{uses, &flower.CommonUses},
		{visual, &flower.VisualStates},
		{toxicity, &flower.ToxicityInfo},
	} {
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return nil, fmt.Errorf("failed to decode flower %q: %w", key, err)
		}
	}

	questions, err := d.ListFlowerQuestions(ctx, key)
	if err != nil {
		return nil, err
	}
	flower.QAndA = make([]models.QAEntry, len(questions))
	for i, q := range questions {
		flower.QAndA[i] = models.QAEntry{Question: q.Question, Answer: q.Answer}
	}

	return &flower, nil
}

// CreateFlower inserts a monograph. A concurrent insert of the same key
// surfaces as ErrDuplicate.
func (d *DatabaseClient) CreateFlower(ctx context.Context, flower *models.FlowerMonograph) (*models.FlowerMonograph, error) {
	encoded := make([][]byte, 0, 5)
	for _, v := range []any{
		nonNilSlice(flower.CommonNames), nonNilMap(flower.BotanicalProperties),
		nonNilSlice(flower.CommonUses), nonNilMap(flower.VisualStates), nonNilMap(flower.ToxicityInfo),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode flower: %w", err)
		}
		encoded = append(encoded, b)
	}

	created := *flower
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO flowers (scientific_name, common_names, description, botanical_properties,
		                     common_uses, visual_states, care_instructions, toxicity_info, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, flower.ScientificName, encoded[0], flower.Description, encoded[1],
		encoded[2], encoded[3], flower.CareInstructions, encoded[4], flower.Source,
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store flower %q: %w", flower.ScientificName, mapError(err))
	}
	if created.QAndA == nil {
		created.QAndA = []models.QAEntry{}
	}
	return &created, nil
}

func (d *DatabaseClient) GetFlowerQuestion(ctx context.Context, key, normalizedQuestion string) (*models.FlowerQuestion, error) {
	var q models.FlowerQuestion
	err := d.db.QueryRowContext(ctx, `
		SELECT id, flower_key, question, normalized_question, answer, created_at
		FROM flower_questions
		WHERE flower_key = $1 AND normalized_question = $2
	`, key, normalizedQuestion).Scan(
		&q.ID, &q.FlowerKey, &q.Question, &q.NormalizedQuestion, &q.Answer, &q.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", mapError(err))
	}
	return &q, nil
}

func (d *DatabaseClient) ListFlowerQuestions(ctx context.Context, key string) ([]models.FlowerQuestion, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, flower_key, question, normalized_question, answer, created_at
		FROM flower_questions
		WHERE flower_key = $1
		ORDER BY created_at ASC, id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.FlowerQuestion
	for rows.Next() {
		var q models.FlowerQuestion
		if err := rows.Scan(&q.ID, &q.FlowerKey, &q.Question, &q.NormalizedQuestion, &q.Answer, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateFlowerQuestion appends a Q&A entry and bumps the monograph's updated_at.
// Two askers racing on the same normalized question get ErrDuplicate for the loser.
func (d *DatabaseClient) CreateFlowerQuestion(ctx context.Context, q *models.FlowerQuestion) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO flower_questions (flower_key, question, normalized_question, answer)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, q.FlowerKey, q.Question, q.NormalizedQuestion, q.Answer).Scan(&q.ID, &q.CreatedAt); err != nil {
		return fmt.Errorf("failed to store question: %w", mapError(err))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE flowers SET updated_at = NOW() WHERE scientific_name = $1`, q.FlowerKey,
	); err != nil {
		return fmt.Errorf("failed to touch flower: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit question: %w", err)
	}
	return nil
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
