package services

import (
	"context"
	"errors"
	"time"

	"spinsettle/internal/models"

	"github.com/sirupsen/logrus"
)

type UserService struct {
	users     UserStore
	referrals *ReferalService
}

func NewUserService(users UserStore, referrals *ReferalService) *UserService {
	return &UserService{
		users:     users,
		referrals: referrals,
	}
}

// EnsureUser registers the user on first interaction. The referrer only
// counts for a new user; a rejected referral does not block registration.
func (s *UserService) EnsureUser(ctx context.Context, id int64, username string, referrerId int64) (*models.User, bool, error) {
	user, err := s.users.FindUser(ctx, id)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	user = &models.User{
		Id:        id,
		Username:  username,
		CreatedAt: time.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			existing, ferr := s.users.FindUser(ctx, id)
			return existing, false, ferr
		}
		log.Error("Failed create user: ", err)
		return nil, false, err
	}

	if referrerId != 0 {
		if _, err := s.referrals.CreateEdge(ctx, referrerId, id); err != nil {
			log.WithFields(logrus.Fields{"user": id, "referrer": referrerId}).Warn("Referral ignored: ", err)
		} else if u, err := s.users.FindUser(ctx, id); err == nil {
			user = u
		}
	}

	return user, true, nil
}

func (s *UserService) GetById(ctx context.Context, id int64) (*models.User, error) {
	return s.users.FindUser(ctx, id)
}
