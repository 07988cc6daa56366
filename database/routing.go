package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/marcdevi/kpata/model"

	"github.com/marcdevi/kpata/internal/apierror"
)

// GetModelRouting returns the active routing row for a category, or
// sql.ErrNoRows when none is configured so callers can fall back to the
// built-in default pairing.
func (d Datasource) GetModelRouting(ctx context.Context, category string) (*model.ModelRouting, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT category, provider, model, COALESCE(fallback_provider, ''), COALESCE(fallback_model, ''),
			timeout_seconds, COALESCE(prompt_template, ''), active, updated_at
		FROM model_routings
		WHERE category = $1 AND active = TRUE
	`, category)

	routing := &model.ModelRouting{}
	var timeoutSeconds int
	err := row.Scan(&routing.Category, &routing.Provider, &routing.Model, &routing.FallbackProvider,
		&routing.FallbackModel, &timeoutSeconds, &routing.PromptTemplate, &routing.Active, &routing.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve model routing", err)
	}
	routing.Timeout = time.Duration(timeoutSeconds) * time.Second
	return routing, nil
}
