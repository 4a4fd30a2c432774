package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gaimlab/teachlens/internal/models"
)

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Insert(job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (id, asset_id, status, progress, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.Exec(query,
		job.ID,
		job.AssetID,
		string(job.Status),
		job.Progress,
		job.Error,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Update persists the mutable job fields. Attached results are stored as
// JSON documents; absent results stay NULL.
func (r *JobRepository) Update(job *models.AnalysisJob) error {
	transcript, err := marshalNullable(job.Transcript)
	if err != nil {
		return err
	}
	vision, err := marshalNullable(job.Vision)
	if err != nil {
		return err
	}
	emotion, err := marshalNullable(job.Emotion)
	if err != nil {
		return err
	}
	evaluation, err := marshalNullable(job.Evaluation)
	if err != nil {
		return err
	}

	query := `
		UPDATE analysis_jobs
		SET status = ?, progress = ?, error = ?, transcript = ?, vision = ?,
			emotion = ?, evaluation = ?, finished_at = ?
		WHERE id = ?`

	_, err = r.db.conn.Exec(query,
		string(job.Status),
		job.Progress,
		job.Error,
		transcript,
		vision,
		emotion,
		evaluation,
		job.FinishedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// GetByID returns nil without error when no job has the id.
func (r *JobRepository) GetByID(id string) (*models.AnalysisJob, error) {
	query := `
		SELECT id, asset_id, status, progress, error, transcript, vision,
			   emotion, evaluation, created_at, finished_at
		FROM analysis_jobs WHERE id = ?`

	job := &models.AnalysisJob{}
	var status string
	var errDetail, transcript, vision, emotion, evaluation sql.NullString

	err := r.db.conn.QueryRow(query, id).Scan(
		&job.ID,
		&job.AssetID,
		&status,
		&job.Progress,
		&errDetail,
		&transcript,
		&vision,
		&emotion,
		&evaluation,
		&job.CreatedAt,
		&job.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.Error = errDetail.String

	if err := unmarshalNullable(transcript, &job.Transcript); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(vision, &job.Vision); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(emotion, &job.Emotion); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(evaluation, &job.Evaluation); err != nil {
		return nil, err
	}

	return job, nil
}

// ActiveJobForAsset returns the id of a non-terminal job for the asset, or
// the empty string. Backs the at-most-one-active-job-per-asset invariant
// across restarts.
func (r *JobRepository) ActiveJobForAsset(assetID string) (string, error) {
	query := `
		SELECT id FROM analysis_jobs
		WHERE asset_id = ? AND status NOT IN (?, ?)
		LIMIT 1`

	var id string
	err := r.db.conn.QueryRow(query, assetID,
		string(models.StatusCompleted), string(models.StatusFailed)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query active job: %w", err)
	}
	return id, nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *models.TranscriptResult:
		if t == nil {
			return nil, nil
		}
	case *models.VisionResult:
		if t == nil {
			return nil, nil
		}
	case *models.EmotionResult:
		if t == nil {
			return nil, nil
		}
	case *models.Evaluation:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func unmarshalNullable[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal([]byte(col.String), out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	*dst = out
	return nil
}
