package binder

import (
	"github.com/go-playground/validator/v10"
	"github.com/shishobooks/shelfsync/pkg/models"
)

// feedValidator accepts the name of a known feed or the empty string, so it
// can guard optional filters. Combine it with required where a feed must be
// given.
func feedValidator(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", models.FeedMetadata, models.FeedFiles:
		return true
	}
	return false
}
