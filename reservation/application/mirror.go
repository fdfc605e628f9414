package application

import (
	"context"
	"fmt"

	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

// CatalogMirror copia as entradas do catálogo para o Store (EnsureResource).
//
// A capacidade de um recurso já espelhado nunca é alterada; divergência com o
// catálogo só gera aviso.
type CatalogMirror struct {
	Catalog domain.Catalog
	Store   domain.Store
	Logger  *zap.Logger
}

// Sync retorna quantos recursos foram espelhados.
func (m CatalogMirror) Sync(ctx context.Context) (int, error) {
	if m.Catalog == nil || m.Store == nil {
		return 0, nil
	}
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := m.Catalog.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	for _, e := range entries {
		res, err := m.Store.EnsureResource(ctx, e.ID, e.Total)
		if err != nil {
			return 0, fmt.Errorf("mirror resource %s: %w", e.ID, err)
		}
		if res.Total != e.Total {
			logger.Warn("catalog capacity differs from mirrored resource; keeping mirrored value",
				zap.String("resource_id", string(e.ID)),
				zap.Int("catalog_total", e.Total),
				zap.Int("mirrored_total", res.Total),
			)
		}
	}
	logger.Info("catalog mirrored", zap.Int("resources", len(entries)))
	return len(entries), nil
}
