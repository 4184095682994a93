package promo

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"paperplan/internal/db"
	"paperplan/internal/types"
)

// maxCodeAttempts bounds the collision retry loop for referral code
// generation. The code space (4 random base32 chars on top of the email
// prefix) makes 5 consecutive collisions effectively impossible; hitting
// the bound indicates something systemic and is surfaced as an error.
const maxCodeAttempts = 5

// referralSuffixLen is the number of random characters appended to the
// email-derived prefix.
const referralSuffixLen = 4

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ReferralStore is the data access the referral service needs.
type ReferralStore interface {
	GetCodeByUser(ctx context.Context, userID string) (*types.ReferralCode, error)
	GetCodeOwner(ctx context.Context, code string) (string, error)
	InsertCode(ctx context.Context, c *types.ReferralCode) error
	InsertRecord(ctx context.Context, rec *types.ReferralRecord) error
	UpdateRecordStatus(ctx context.Context, recordID string, status types.ReferralStatus, rewardCents int64) error
	GetStats(ctx context.Context, userID string) (*types.ReferralStats, error)
}

// ReferralService manages referral codes and records. Each user owns at most
// one code, created lazily on first request.
type ReferralService struct {
	store ReferralStore

	// randRead is injectable for deterministic code generation in tests.
	randRead func(b []byte) (int, error)
}

// NewReferralService creates a ReferralService. randRead may be nil
// (crypto/rand).
func NewReferralService(store ReferralStore, randRead func(b []byte) (int, error)) *ReferralService {
	if randRead == nil {
		randRead = rand.Read
	}
	return &ReferralService{store: store, randRead: randRead}
}

// EnsureCode returns the user's referral code, generating and storing one on
// first call. Generation retries on code collision: codes are derived from
// the user's email prefix plus a random suffix, and the unique constraint on
// the code column is the arbiter, not an application-level existence check.
func (s *ReferralService) EnsureCode(ctx context.Context, userID, email string) (*types.ReferralCode, error) {
	existing, err := s.store.GetCodeByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateCode(email)
		if err != nil {
			return nil, err
		}

		c := &types.ReferralCode{UserID: userID, Code: code}
		err = s.store.InsertCode(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, db.ErrReferralCodeTaken) {
			return nil, err
		}

		// The collision may be on user_id rather than the code: a
		// concurrent lazy-create for the same user won the race. Prefer
		// the winner's code over generating another.
		winner, lookupErr := s.store.GetCodeByUser(ctx, userID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner != nil {
			return winner, nil
		}
	}

	return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
		"could not generate a unique referral code", nil)
}

// CreateReferral records an invitation from the owner of the given code to
// the referred email. The record starts pending; signup and reward
// processing move it forward.
func (s *ReferralService) CreateReferral(ctx context.Context, code, referredEmail string) (*types.ReferralRecord, error) {
	ownerID, err := s.store.GetCodeOwner(ctx, code)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, types.NewAppError(types.ErrCodeNotFoundReferral, "referral code not found", nil)
	}

	rec := &types.ReferralRecord{
		ID:            uuid.NewString(),
		ReferrerID:    ownerID,
		ReferredEmail: strings.ToLower(referredEmail),
		Status:        types.ReferralPending,
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CompleteReferral marks a referral as completed (referred user signed up).
func (s *ReferralService) CompleteReferral(ctx context.Context, recordID string) error {
	return s.store.UpdateRecordStatus(ctx, recordID, types.ReferralCompleted, 0)
}

// RewardReferral marks a referral as rewarded with the given payout.
func (s *ReferralService) RewardReferral(ctx context.Context, recordID string, rewardCents int64) error {
	return s.store.UpdateRecordStatus(ctx, recordID, types.ReferralRewarded, rewardCents)
}

// Stats returns the referrer's cached counters.
func (s *ReferralService) Stats(ctx context.Context, userID string) (*types.ReferralStats, error) {
	return s.store.GetStats(ctx, userID)
}

// generateCode builds EMAILPREFIX-XXXX from the part of the email before
// the @, uppercased and stripped to the code alphabet, plus a random suffix.
func (s *ReferralService) generateCode(email string) (string, error) {
	prefix := strings.ToUpper(email)
	if at := strings.IndexByte(prefix, '@'); at >= 0 {
		prefix = prefix[:at]
	}
	var b strings.Builder
	for _, r := range prefix {
		if strings.ContainsRune(codeAlphabet, r) {
			b.WriteRune(r)
		}
		if b.Len() >= 8 {
			break
		}
	}
	if b.Len() == 0 {
		b.WriteString("REF")
	}

	suffix := make([]byte, referralSuffixLen)
	if _, err := s.randRead(suffix); err != nil {
		return "", fmt.Errorf("reading random bytes for referral code: %w", err)
	}
	for i, v := range suffix {
		suffix[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}

	return b.String() + "-" + string(suffix), nil
}
