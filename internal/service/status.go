package service

import (
	"context"
	"time"

	"gatekeeper-backend/internal/cache"
	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/security"
)

type statusService struct {
	repos     repository.Store
	chats     *messenger.ChatCache
	encryptor *security.Encryptor

	// applicant photo ciphertexts repeat across projections, so they are
	// cached; community photos are re-encrypted every time so the opaque id
	// rotates per response.
	photoIDs *cache.TTL[string]
}

func NewStatusService(repos repository.Store, chats *messenger.ChatCache,
	encryptor *security.Encryptor, photoTTL time.Duration) StatusService {
	return &statusService{
		repos:     repos,
		chats:     chats,
		encryptor: encryptor,
		photoIDs:  cache.NewTTL[string](photoTTL),
	}
}

func (s *statusService) UserStatus(ctx context.Context, userID int64) (*domain.UserStatus, error) {
	adminOf, err := s.repos.Admins.ListCommunitiesByAdmin(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &domain.UserStatus{
		Admins:   make([]domain.AdminCommunityStatus, 0, len(adminOf)),
		Requests: []domain.ApplicantRequestStatus{},
	}

	for _, communityID := range adminOf {
		entry, err := s.projectAdminCommunity(ctx, communityID)
		if err != nil {
			return nil, err
		}
		status.Admins = append(status.Admins, *entry)
	}

	own, err := s.repos.Pending.ListByApplicant(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, row := range own {
		entry, err := s.projectOwnRequest(ctx, row)
		if err != nil {
			return nil, err
		}
		status.Requests = append(status.Requests, *entry)
	}
	return status, nil
}

func (s *statusService) projectAdminCommunity(ctx context.Context, communityID int64) (*domain.AdminCommunityStatus, error) {
	entry := &domain.AdminCommunityStatus{
		ID:        communityID,
		Title:     "unknown",
		Requests:  []domain.CandidateStatus{},
		Responses: []domain.AnswerView{},
	}

	if chat, err := s.chats.GetChat(ctx, communityID); err == nil {
		if chat.Type == messenger.ChatTypeSupergroup {
			entry.Title = chat.Title
		}
		entry.Photo = s.encryptPhoto(chat, false)
	}

	community, err := s.repos.Communities.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if community != nil {
		entry.Config = community.Config
	}

	pending, err := s.repos.Pending.ListByCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for _, row := range pending {
		candidate := domain.CandidateStatus{
			User:     row.ApplicantID,
			UserBio:  row.ApplicantBio,
			Title:    "unknown",
			Date:     row.Date.UnixMilli(),
			Deadline: row.Deadline.UnixMilli(),
		}
		if chat, err := s.chats.GetChat(ctx, row.ApplicantChatID); err == nil {
			candidate.Title = messenger.ChatTitle(chat)
			candidate.Photo = s.encryptPhoto(chat, true)
		}
		entry.Requests = append(entry.Requests, candidate)
	}

	answers, err := s.repos.Answers.ListByCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	for _, rec := range answers {
		entry.Responses = append(entry.Responses, domain.AnswerView{
			User:     rec.ApplicantID,
			Date:     rec.Date.UnixMilli(),
			Answer:   rec.Answer,
			Details:  rec.Details,
			Question: rec.Question,
		})
	}
	return entry, nil
}

func (s *statusService) projectOwnRequest(ctx context.Context, row domain.PendingRequest) (*domain.ApplicantRequestStatus, error) {
	entry := &domain.ApplicantRequestStatus{
		ID:                row.CommunityID,
		Title:             "unknown",
		AnswerConstraints: domain.AnswerConstraints{}.Normalized(),
	}

	community, err := s.repos.Communities.Get(ctx, row.CommunityID)
	if err != nil {
		return nil, err
	}
	if community != nil && community.Config != nil {
		entry.Question = community.Config.Question
		entry.AnswerConstraints = community.Config.AnswerConstraints.Normalized()
	}

	if chat, err := s.chats.GetChat(ctx, row.CommunityID); err == nil {
		entry.Title = messenger.ChatTitle(chat)
		entry.Photo = s.encryptPhoto(chat, true)
	}

	answered, err := s.repos.Answers.Get(ctx, row.CommunityID, row.ApplicantID)
	if err != nil {
		return nil, err
	}
	entry.Answered = answered != nil
	return entry, nil
}

func (s *statusService) encryptPhoto(chat *messenger.ChatInfo, cached bool) string {
	if chat == nil || chat.Photo == nil || chat.Photo.BigFileID == "" {
		return ""
	}
	fileID := chat.Photo.BigFileID

	encrypt := func() (string, error) { return s.encryptor.Encrypt(fileID) }
	var (
		opaque string
		err    error
	)
	if cached {
		opaque, err = s.photoIDs.Wrap(fileID, encrypt)
	} else {
		opaque, err = encrypt()
	}
	if err != nil {
		logger.WithComponent("status").Warn("Could not encrypt photo id", "chat", chat.ID, "error", err)
		return ""
	}
	return opaque
}
