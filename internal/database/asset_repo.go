package database

import (
	"database/sql"
	"fmt"

	"github.com/gaimlab/teachlens/internal/models"
)

type AssetRepository struct {
	db *DB
}

func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Insert(asset *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (
			id, filename, stored_name, content_type, size, duration, upload_time
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.Exec(query,
		asset.ID,
		asset.Filename,
		asset.StoredName,
		asset.ContentType,
		asset.Size,
		asset.Duration,
		asset.UploadTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// GetByID returns nil without error when no asset has the id.
func (r *AssetRepository) GetByID(id string) (*models.MediaAsset, error) {
	query := `
		SELECT id, filename, stored_name, content_type, size, duration, upload_time
		FROM media_assets WHERE id = ?`

	asset := &models.MediaAsset{}
	err := r.db.conn.QueryRow(query, id).Scan(
		&asset.ID,
		&asset.Filename,
		&asset.StoredName,
		&asset.ContentType,
		&asset.Size,
		&asset.Duration,
		&asset.UploadTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

func (r *AssetRepository) List() ([]models.MediaAsset, error) {
	query := `
		SELECT id, filename, stored_name, content_type, size, duration, upload_time
		FROM media_assets ORDER BY upload_time DESC`

	rows, err := r.db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.MediaAsset
	for rows.Next() {
		var asset models.MediaAsset
		if err := rows.Scan(
			&asset.ID,
			&asset.Filename,
			&asset.StoredName,
			&asset.ContentType,
			&asset.Size,
			&asset.Duration,
			&asset.UploadTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}
