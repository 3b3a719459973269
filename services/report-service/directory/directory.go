// Package directory answers the identity questions the lifecycle engine asks:
// does a department exist, and does a user hold the officer role.
package directory

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/services/report-service/models"
)

// Postgres reads departments and users from the shared database.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (d *Postgres) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&models.Department{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (d *Postgres) IsOfficer(ctx context.Context, userID int64) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&identity.User{}).
		Where("id = ? AND role = ?", userID, identity.RoleOfficer).
		Count(&n).Error
	return n > 0, err
}

// DepartmentByCode returns nil without error when no department has code.
func (d *Postgres) DepartmentByCode(ctx context.Context, code string) (*models.Department, error) {
	var dept models.Department
	err := d.db.WithContext(ctx).Where("code = ?", code).First(&dept).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dept, nil
}

// Departments lists every department ordered by id.
func (d *Postgres) Departments(ctx context.Context) ([]models.Department, error) {
	var out []models.Department
	err := d.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

// Static is an in-memory directory for tests and local runs.
type Static struct {
	mu          sync.RWMutex
	departments map[int64]models.Department
	officers    map[int64]bool
}

func NewStatic() *Static {
	return &Static{
		departments: make(map[int64]models.Department),
		officers:    make(map[int64]bool),
	}
}

func (s *Static) AddDepartment(d models.Department) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[d.ID] = d
	return s
}

func (s *Static) AddOfficer(userID int64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.officers[userID] = true
	return s
}

func (s *Static) DepartmentExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.departments[id]
	return ok, nil
}

func (s *Static) IsOfficer(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.officers[userID], nil
}

func (s *Static) DepartmentByCode(_ context.Context, code string) (*models.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.departments {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, nil
}
