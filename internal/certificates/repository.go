package certificates

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// ErrNotFound is returned by writes that target a missing record.
var ErrNotFound = errors.New("record not found")

// Repository is the record store behind the issuance, revocation and report
// pipelines. Lookups return nil, nil when nothing matches.
type Repository interface {
	CreateCertificate(ctx context.Context, cert *Certificate) error
	GetCertificateByID(ctx context.Context, id uuid.UUID) (*Certificate, error)
	GetCertificateByLedgerID(ctx context.Context, ledgerID string) (*Certificate, error)
	SetArtifactPath(ctx context.Context, id uuid.UUID, path string) error
	// DeleteCertificateCascade removes every report referencing the
	// certificate and then the certificate itself, atomically.
	DeleteCertificateCascade(ctx context.Context, id uuid.UUID) error

	CreateReport(ctx context.Context, report *Report) error

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	AppendUserCertificate(ctx context.Context, userID, certificateID uuid.UUID) error
	RemoveUserCertificate(ctx context.Context, userID, certificateID uuid.UUID) error
	AppendUserReport(ctx context.Context, userID, reportID uuid.UUID) error

	ListCertificates(ctx context.Context, filter ListFilter) ([]CertificateView, error)
	ListReports(ctx context.Context) ([]ReportView, error)
}

// gormRepository writes through gorm and serves the joined listings through
// sqlx on the same connection pool.
type gormRepository struct {
	db    *gorm.DB
	views *sqlx.DB
}

// NewRepository creates a repository. driverName selects the sqlx bind
// style ("postgres" or "sqlite").
func NewRepository(db *gorm.DB, driverName string) (Repository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &gormRepository{db: db, views: sqlx.NewDb(sqlDB, driverName)}, nil
}

// AutoMigrate creates the tables owned by this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Certificate{}, &Report{}, &User{})
}

func (r *gormRepository) CreateCertificate(ctx context.Context, cert *Certificate) error {
	return r.db.WithContext(ctx).Create(cert).Error
}

func (r *gormRepository) GetCertificateByID(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	return r.firstCertificate(ctx, "id = ?", id)
}

func (r *gormRepository) GetCertificateByLedgerID(ctx context.Context, ledgerID string) (*Certificate, error) {
	return r.firstCertificate(ctx, "ledger_id = ?", ledgerID)
}

func (r *gormRepository) firstCertificate(ctx context.Context, query string, arg any) (*Certificate, error) {
	var cert Certificate
	err := r.db.WithContext(ctx).First(&cert, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) SetArtifactPath(ctx context.Context, id uuid.UUID, path string) error {
	res := r.db.WithContext(ctx).Model(&Certificate{}).Where("id = ?", id).Update("artifact_path", path)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) DeleteCertificateCascade(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("certificate_id = ?", id).Delete(&Report{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Certificate{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormRepository) CreateReport(ctx context.Context, report *Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *gormRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// updateUser loads (or starts) the user row and saves it if mutate reports
// a change.
func (r *gormRepository) updateUser(ctx context.Context, id uuid.UUID, createMissing bool, mutate func(u *User) bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u User
		err := tx.First(&u, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !createMissing {
				return nil
			}
			u = User{ID: id, Certificates: []uuid.UUID{}, Reports: []uuid.UUID{}}
		case err != nil:
			return err
		}
		if !mutate(&u) {
			return nil
		}
		return tx.Save(&u).Error
	})
}

func (r *gormRepository) AppendUserCertificate(ctx context.Context, userID, certificateID uuid.UUID) error {
	return r.updateUser(ctx, userID, true, func(u *User) bool {
		if u.HasCertificate(certificateID) {
			return false
		}
		u.Certificates = append(u.Certificates, certificateID)
		return true
	})
}

func (r *gormRepository) RemoveUserCertificate(ctx context.Context, userID, certificateID uuid.UUID) error {
	return r.updateUser(ctx, userID, false, func(u *User) bool {
		before := len(u.Certificates)
		u.Certificates = slices.DeleteFunc(u.Certificates, func(id uuid.UUID) bool { return id == certificateID })
		return len(u.Certificates) != before
	})
}

func (r *gormRepository) AppendUserReport(ctx context.Context, userID, reportID uuid.UUID) error {
	return r.updateUser(ctx, userID, true, func(u *User) bool {
		if slices.Contains(u.Reports, reportID) {
			return false
		}
		u.Reports = append(u.Reports, reportID)
		return true
	})
}

func (r *gormRepository) ListCertificates(ctx context.Context, filter ListFilter) ([]CertificateView, error) {
	query := `
		SELECT c.id, c.template_id, COALESCE(t.name, '') AS template_name, c.creator_id,
			c.ledger_id, c.transaction_hash, c.artifact_path, c.created_at
		FROM certificates c
		LEFT JOIN templates t ON t.id = c.template_id
		WHERE 1=1`
	var args []any

	if filter.CreatorID != nil {
		query += " AND c.creator_id = ?"
		args = append(args, *filter.CreatorID)
	}
	if filter.PendingOnly {
		query += " AND c.artifact_path IS NULL"
	}
	if filter.Before != nil {
		query += " AND c.created_at < ?"
		args = append(args, *filter.Before)
	}
	query += " ORDER BY c.created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	views := []CertificateView{}
	err := r.views.SelectContext(ctx, &views, r.views.Rebind(query), args...)
	return views, err
}

func (r *gormRepository) ListReports(ctx context.Context) ([]ReportView, error) {
	query := `
		SELECT r.id, r.certificate_id, r.comment, r.created_at,
			c.ledger_id, c.creator_id, COALESCE(t.name, '') AS template_name
		FROM certificate_reports r
		JOIN certificates c ON c.id = r.certificate_id
		LEFT JOIN templates t ON t.id = c.template_id
		ORDER BY r.created_at DESC`

	views := []ReportView{}
	err := r.views.SelectContext(ctx, &views, query)
	return views, err
}

// pendingBefore is the re-render worker's query.
func pendingBefore(before time.Time, limit int) ListFilter {
	return ListFilter{PendingOnly: true, Before: &before, Limit: limit}
}
