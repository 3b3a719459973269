package main

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"civic-issue-tracker/pkg/identity"
)

var (
	errEmailTaken   = errors.New("email already registered")
	errUserNotFound = errors.New("user not found")
)

type userStore interface {
	Create(ctx context.Context, u *identity.User) error
	ByEmail(ctx context.Context, email string) (*identity.User, error)
	ByID(ctx context.Context, id int64) (*identity.User, error)
	ListByRole(ctx context.Context, role string) ([]identity.User, error)
	CountByRole(ctx context.Context) (map[string]int64, error)
}

type gormUsers struct {
	db *gorm.DB
}

func (s *gormUsers) Create(ctx context.Context, u *identity.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errEmailTaken
	}
	return err
}

func (s *gormUsers) ByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *gormUsers) ByID(ctx context.Context, id int64) (*identity.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *gormUsers) first(ctx context.Context, query string, arg interface{}) (*identity.User, error) {
	var u identity.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormUsers) ListByRole(ctx context.Context, role string) ([]identity.User, error) {
	var out []identity.User
	err := s.db.WithContext(ctx).Where("role = ?", role).Order("id").Find(&out).Error
	return out, err
}

func (s *gormUsers) CountByRole(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Role  string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&identity.User{}).
		Select("role, count(*) as count").
		Group("role").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Role] = r.Count
	}
	return out, nil
}
