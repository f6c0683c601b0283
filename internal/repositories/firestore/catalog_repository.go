package firestore

import (
	"context"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
)

// CatalogRepository reads products maintained by the catalog service.
type CatalogRepository struct {
	base
	docs *pfirestore.BaseRepository[productDocument]
}

func (r *CatalogRepository) FindByID(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	doc, err := r.docs.Get(ctx, productID)
	if err != nil {
		return domain.CatalogProduct{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
