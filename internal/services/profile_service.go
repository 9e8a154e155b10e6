package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/you/abcauth/domain"
)

const maxHomeStoreLen = 32

// Ensure outcomes reported to metrics
const (
	EnsureExisting = "existing"
	EnsureCreated  = "created"
	EnsureRaced    = "raced"
	EnsureDegraded = "degraded"
)

// EnsureResult is the outcome of lazily creating a profile
type EnsureResult struct {
	Profile  *domain.UserProfile
	Degraded bool
	Outcome  string
}

// ProfileService manages the application profile of signed-in accounts
type ProfileService struct {
	store   domain.ProfileStore
	metrics domain.MetricsRecorder
	logger  *slog.Logger
}

// NewProfileService creates a profile service
func NewProfileService(store domain.ProfileStore, metrics domain.MetricsRecorder, logger *slog.Logger) *ProfileService {
	return &ProfileService{store: store, metrics: metrics, logger: logger}
}

// Ensure returns the profile for identity, creating the default one if none exists.
// Concurrent calls for the same account create exactly one row. When the store keeps
// failing the result is degraded instead of an error.
func (s *ProfileService) Ensure(ctx context.Context, identity domain.AccountIdentity) EnsureResult {
	profile, outcome, err := s.ensureOnce(ctx, identity)
	if err != nil {
		s.logger.WarnContext(ctx, "profile ensure failed, retrying",
			slog.String("account_id", identity.ID),
			slog.String("error", err.Error()),
		)
		profile, outcome, err = s.ensureOnce(ctx, identity)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "profile unavailable, continuing degraded",
			slog.String("account_id", identity.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordProfileEnsure(EnsureDegraded)
		return EnsureResult{Degraded: true, Outcome: EnsureDegraded}
	}

	s.metrics.RecordProfileEnsure(outcome)
	if outcome == EnsureCreated {
		s.logger.InfoContext(ctx, "profile created", slog.String("account_id", identity.ID))
	}
	return EnsureResult{Profile: profile, Outcome: outcome}
}

func (s *ProfileService) ensureOnce(ctx context.Context, identity domain.AccountIdentity) (*domain.UserProfile, string, error) {
	profile, err := s.store.Get(ctx, identity.ID)
	if err == nil {
		return profile, EnsureExisting, nil
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		return nil, "", err
	}

	// insert-or-ignore: an existing row is never overwritten
	profile, err = s.store.Create(ctx, domain.NewDefaultProfile(identity))
	if err == nil {
		return profile, EnsureCreated, nil
	}
	if !errors.Is(err, domain.ErrProfileAlreadyExists) {
		return nil, "", err
	}

	// another sign-in created the row first
	profile, err = s.store.Get(ctx, identity.ID)
	if err != nil {
		return nil, "", err
	}
	return profile, EnsureRaced, nil
}

// Get returns the stored profile
func (s *ProfileService) Get(ctx context.Context, accountID string) (*domain.UserProfile, error) {
	return s.store.Get(ctx, accountID)
}

// SetHomeStore records the onboarding store selection. A missing row is created.
func (s *ProfileService) SetHomeStore(ctx context.Context, identity domain.AccountIdentity, storeID string) (*domain.UserProfile, error) {
	storeID, err := validateHomeStore(storeID)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.Update(ctx, identity.ID, domain.ProfileUpdate{HomeStoreID: &storeID})
	if errors.Is(err, domain.ErrProfileNotFound) {
		fresh := domain.NewDefaultProfile(identity)
		fresh.HomeStoreID = storeID
		profile, err = s.store.Upsert(ctx, fresh)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save home store: %w", err)
	}
	return profile, nil
}

// Update applies a partial update after validating the supplied fields
func (s *ProfileService) Update(ctx context.Context, accountID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	if update.Empty() {
		return nil, domain.ErrNoFieldsProvided
	}

	if update.Email != nil {
		email, err := ValidateEmail(*update.Email)
		if err != nil {
			return nil, err
		}
		inUse, err := s.store.EmailInUse(ctx, email, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if inUse {
			return nil, domain.ErrEmailInUse
		}
		update.Email = &email
	}

	if update.HomeStoreID != nil {
		storeID, err := validateHomeStore(*update.HomeStoreID)
		if err != nil {
			return nil, err
		}
		update.HomeStoreID = &storeID
	}

	return s.store.Update(ctx, accountID, update)
}

// Delete removes the profile row of accountID
func (s *ProfileService) Delete(ctx context.Context, accountID string) error {
	return s.store.Delete(ctx, accountID)
}

func validateHomeStore(storeID string) (string, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" || len(storeID) > maxHomeStoreLen || strings.IndexFunc(storeID, unicode.IsSpace) >= 0 {
		return "", domain.NewAuthError(domain.ErrInvalidHomeStore, "Please choose a valid store", nil)
	}
	return storeID, nil
}
