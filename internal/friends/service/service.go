package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/peerhub/peerhub/internal/common/constants"
	commonerrors "github.com/peerhub/peerhub/internal/common/errors"
	"github.com/peerhub/peerhub/internal/common/logger"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
	userrepo "github.com/peerhub/peerhub/internal/user/repository"
)

// Dispatcher pushes a notification to connected recipients. Satisfied by
// the presence hub; delivery is best effort and never blocks the caller.
type Dispatcher interface {
	Dispatch(event string, data any, recipients []string)
}

type Service struct {
	repo       userrepo.Repository
	dispatcher Dispatcher
	validate   *validator.Validate
	log        *logger.Logger
}

func New(repo userrepo.Repository, dispatcher Dispatcher, log *logger.Logger) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		validate:   validator.New(),
		log:        log,
	}
}

// SendRequest records a pending friend request from requester to targetID
// and notifies the target if they are online and subscribed.
func (s *Service) SendRequest(ctx context.Context, requester userdomain.Summary, targetID string) error {
	if err := s.validate.Var(targetID, "required,uuid4"); err != nil {
		return commonerrors.ErrInvalidUserID
	}
	if targetID == string(requester.ID) {
		return commonerrors.ErrSelfFriendRequest
	}

	target := userdomain.ID(targetID)

	if _, err := s.repo.FindByID(ctx, target); err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return commonerrors.ErrUserNotFound
		}
		return commonerrors.ErrUserLookupFailed.WithCause(err)
	}

	alreadyFriends, err := s.repo.AreFriends(ctx, requester.ID, target)
	if err != nil {
		return commonerrors.ErrUserLookupFailed.WithCause(err)
	}
	if alreadyFriends {
		return commonerrors.ErrAlreadyFriend
	}

	if err := s.repo.CreateFriendRequest(ctx, target, requester.ID); err != nil {
		switch {
		case errors.Is(err, userrepo.ErrRequestAlreadyExists):
			return commonerrors.ErrFriendRequestExists
		case errors.Is(err, userrepo.ErrUserNotFound):
			return commonerrors.ErrUserNotFound
		default:
			return commonerrors.ErrUserLookupFailed.WithCause(err)
		}
	}

	s.log.WithFields(ctx, logger.Fields{
		"requester_id": requester.ID,
		"target_id":    targetID,
		"action":       "friend_request_sent",
	}).Info("friend request recorded")

	s.dispatcher.Dispatch(constants.EventFriendRequest, requester, []string{targetID})
	return nil
}

// AcceptRequest consumes the pending request from requesterID and notifies
// the requester their request was accepted.
func (s *Service) AcceptRequest(ctx context.Context, accepter userdomain.Summary, requesterID string) error {
	if err := s.validate.Var(requesterID, "required,uuid4"); err != nil {
		return commonerrors.ErrInvalidUserID
	}

	err := s.repo.AcceptFriendRequest(ctx, accepter.ID, userdomain.ID(requesterID))
	if err != nil {
		if errors.Is(err, userrepo.ErrRequestNotFound) {
			return commonerrors.ErrNoFriendRequest
		}
		return commonerrors.ErrUserLookupFailed.WithCause(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"accepter_id":  accepter.ID,
		"requester_id": requesterID,
		"action":       "friend_request_accepted",
	}).Info("friend request accepted")

	s.dispatcher.Dispatch(constants.EventFriendAccept, accepter, []string{requesterID})
	return nil
}
