package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

func (d Datasource) RecordAsset(ctx context.Context, as *model.Asset) (*model.Asset, error) {
	if as.AssetID == "" {
		as.AssetID = model.GenerateUUIDWithSuffix("ast")
	}
	if as.CreatedAt.IsZero() {
		as.CreatedAt = time.Now()
	}
	metaDataJSON, err := json.Marshal(as.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal asset metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO assets(asset_id, account_id, job_id, bucket, storage_key, content_type, byte_size, width, height, format_tag, meta_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		as.AssetID, as.AccountID, as.JobID, as.Bucket, as.StorageKey, as.ContentType, as.ByteSize,
		as.Width, as.Height, as.FormatTag, metaDataJSON, as.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record asset", err)
	}
	return as, nil
}

func (d Datasource) GetAssetsForJob(ctx context.Context, jobID string) ([]model.Asset, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT asset_id, account_id, job_id, bucket, storage_key, content_type, byte_size, width, height, format_tag, meta_data, created_at
		FROM assets
		WHERE job_id = $1
		ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve assets", err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		as := model.Asset{}
		var metaDataJSON []byte
		err = rows.Scan(&as.AssetID, &as.AccountID, &as.JobID, &as.Bucket, &as.StorageKey, &as.ContentType,
			&as.ByteSize, &as.Width, &as.Height, &as.FormatTag, &metaDataJSON, &as.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan asset", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &as.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal asset metadata", err)
			}
		}
		assets = append(assets, as)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over assets", err)
	}

	return assets, nil
}
