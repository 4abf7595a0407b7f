package templates

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the template store consumed by the issuance pipeline and
// the seeding tool.
type Repository interface {
	Create(ctx context.Context, t *Template) error
	Save(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetByName(ctx context.Context, name string) (*Template, error)
	List(ctx context.Context) ([]Template, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, t *Template) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *gormRepository) Save(ctx context.Context, t *Template) error {
	return r.db.WithContext(ctx).Save(t).Error
}

// GetByID returns nil, nil when no template has the id.
func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetByName(ctx context.Context, name string) (*Template, error) {
	var t Template
	err := r.db.WithContext(ctx).First(&t, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) List(ctx context.Context) ([]Template, error) {
	var out []Template
	err := r.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}
