package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
	"github.com/bazaarly/api/internal/repositories"
)

const currentSettingsDoc = "current"

// SettingsRepository keeps the current platform settings plus an immutable history of every
// published version.
type SettingsRepository struct {
	base
}

func (r *SettingsRepository) Current(ctx context.Context) (domain.PlatformSettings, error) {
	ref, err := r.doc(ctx, settingsCollection, currentSettingsDoc)
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.PlatformSettings{}, pfirestore.WrapError("settings.current", err)
	}
	var doc settingsDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PlatformSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return doc.toDomain(), nil
}

// Publish writes settings as the next version. Concurrent publishers conflict on the current
// document and the loser retries with the fresh version number.
func (r *SettingsRepository) Publish(ctx context.Context, settings domain.PlatformSettings) (domain.PlatformSettings, error) {
	currentRef, err := r.doc(ctx, settingsCollection, currentSettingsDoc)
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	history, err := r.collection(ctx, settingsVersionsCollection)
	if err != nil {
		return domain.PlatformSettings{}, err
	}

	var published domain.PlatformSettings
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *domain.PlatformSettings
		snap, err := tx.Get(currentRef)
		switch {
		case err == nil:
			var doc settingsDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode settings: %w", err)
			}
			existing := doc.toDomain()
			current = &existing
		case pfirestore.IsNotFound(err):
		default:
			return err
		}

		next := repositories.NextSettingsVersion(current, settings)
		doc := newSettingsDocument(next)
		if err := tx.Create(history.Doc(fmt.Sprintf("%010d", next.Version)), doc); err != nil {
			return err
		}
		published = next
		return tx.Set(currentRef, doc)
	})
	if err != nil {
		return domain.PlatformSettings{}, pfirestore.WrapError("settings.publish", err)
	}
	return published, nil
}
