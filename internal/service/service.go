package service

import (
	"context"
	"errors"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/verification"
)

// ErrNoPendingRequest means the (community, applicant) pair has no live
// admission attempt; the caller should tell the submitter the request
// expired.
var ErrNoPendingRequest = errors.New("no pending join request")

// ErrUnknownAction rejects admin actions outside the approve/decline/ban
// set.
var ErrUnknownAction = errors.New("unknown admin action")

type AdmissionService interface {
	// HandleJoinRequest runs the decision table for an inbound admission
	// request and ignores, auto-passes, or starts a verification saga.
	HandleJoinRequest(ctx context.Context, req domain.AdmissionRequest) (*verification.AdmitResult, error)
	// HandleUserAnswered validates and records an applicant's answer and
	// forwards it to the live saga. A returned result with OK == false is a
	// constraint violation to surface on the submitting channel; the saga
	// stays unresolved.
	HandleUserAnswered(ctx context.Context, communityID, applicantID int64, answer, details string) (*verification.ValidationResult, error)
	// HandleAdminAction forwards an administrator's decision to the live
	// saga. The pending row is removed even when delivery fails.
	HandleAdminAction(ctx context.Context, communityID, applicantID int64, action domain.AdminAction) error
	// LatestPendingRequest returns the applicant's newest unanswered
	// admission attempt, or nil when there is none.
	LatestPendingRequest(ctx context.Context, applicantID int64) (*domain.PendingSummary, error)
}

type CommunityService interface {
	UpdateConfig(ctx context.Context, communityID int64, mode domain.Mode, config *domain.CommunityConfig) error
	GetCommunity(ctx context.Context, communityID int64) (*domain.Community, error)
	// SetPermission reacts to the bot being promoted into or removed from a
	// community: promotion seeds the administrator set, removal drops it.
	SetPermission(ctx context.Context, communityID int64, permitted bool) error
	AddAdmin(ctx context.Context, communityID, userID int64) error
	RemoveAdmin(ctx context.Context, communityID, userID int64) error
	IsAdmin(ctx context.Context, communityID, userID int64) (bool, error)
	// RefreshAdmins re-reads the community's administrator list from the
	// messaging platform and replaces the stored set.
	RefreshAdmins(ctx context.Context, communityID int64) error
}

type StatusService interface {
	UserStatus(ctx context.Context, userID int64) (*domain.UserStatus, error)
}
