package service

import (
	"context"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/repository"
)

type communityService struct {
	communities repository.CommunityRepository
	admins      repository.AdminRepository
	api         messenger.API
	chats       *messenger.ChatCache
}

func NewCommunityService(communities repository.CommunityRepository,
	admins repository.AdminRepository, api messenger.API,
	chats *messenger.ChatCache) CommunityService {
	return &communityService{
		communities: communities,
		admins:      admins,
		api:         api,
		chats:       chats,
	}
}

// UpdateConfig upserts the community's configuration. An empty mode keeps
// the stored one, defaulting new rows to FORM.
func (s *communityService) UpdateConfig(ctx context.Context, communityID int64, mode domain.Mode, config *domain.CommunityConfig) error {
	if mode == "" {
		existing, err := s.communities.Get(ctx, communityID)
		if err != nil {
			return err
		}
		mode = domain.ModeForm
		if existing != nil && existing.Mode != "" {
			mode = existing.Mode
		}
	}
	return s.communities.Upsert(ctx, &domain.Community{ID: communityID, Mode: mode, Config: config})
}

func (s *communityService) GetCommunity(ctx context.Context, communityID int64) (*domain.Community, error) {
	return s.communities.Get(ctx, communityID)
}

func (s *communityService) SetPermission(ctx context.Context, communityID int64, permitted bool) error {
	if !permitted {
		s.chats.Invalidate(communityID)
		return s.admins.DeleteByCommunity(ctx, communityID)
	}
	return s.RefreshAdmins(ctx, communityID)
}

func (s *communityService) AddAdmin(ctx context.Context, communityID, userID int64) error {
	return s.admins.Add(ctx, communityID, userID)
}

func (s *communityService) RemoveAdmin(ctx context.Context, communityID, userID int64) error {
	return s.admins.Remove(ctx, communityID, userID)
}

func (s *communityService) IsAdmin(ctx context.Context, communityID, userID int64) (bool, error) {
	return s.admins.IsAdmin(ctx, communityID, userID)
}

// RefreshAdmins replaces the stored administrator set with the platform's
// current list, keeping only members allowed to act on admission requests.
// A Forbidden response means the bot was kicked; the set is dropped instead.
func (s *communityService) RefreshAdmins(ctx context.Context, communityID int64) error {
	members, err := s.api.GetChatAdministrators(ctx, communityID)
	if err != nil {
		if messenger.IsForbidden(err) {
			logger.WithComponent("community").Warn("Lost access to community, dropping administrator set",
				"community", communityID)
			s.chats.Invalidate(communityID)
			return s.admins.DeleteByCommunity(ctx, communityID)
		}
		return err
	}

	var userIDs []int64
	for _, member := range members {
		if member.User.IsBot {
			continue
		}
		if messenger.CanManageAdmissions(member) {
			userIDs = append(userIDs, member.User.ID)
		}
	}
	return s.admins.Replace(ctx, communityID, userIDs)
}
