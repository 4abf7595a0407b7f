package templates

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
)

// TemplateType categorizes what a certificate attests
type TemplateType string

const (
	TemplateTypeEducation     TemplateType = "education"
	TemplateTypeSeminar       TemplateType = "seminar"
	TemplateTypeTraining      TemplateType = "training"
	TemplateTypeWorkshop      TemplateType = "workshop"
	TemplateTypeParticipation TemplateType = "participation"
	TemplateTypeCompetition   TemplateType = "competition"
	TemplateTypeJob           TemplateType = "job"
	TemplateTypeInternship    TemplateType = "internship"
)

var validTypes = map[TemplateType]bool{
	TemplateTypeEducation:     true,
	TemplateTypeSeminar:       true,
	TemplateTypeTraining:      true,
	TemplateTypeWorkshop:      true,
	TemplateTypeParticipation: true,
	TemplateTypeCompetition:   true,
	TemplateTypeJob:           true,
	TemplateTypeInternship:    true,
}

// Valid reports whether t is a known template type.
func (t TemplateType) Valid() bool {
	return validTypes[t]
}

// Template is a certificate layout with {{ name }} placeholders.
type Template struct {
	ID      uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	Name    string       `json:"name" gorm:"not null"`
	Type    TemplateType `json:"type" gorm:"not null;index"`
	Content string       `json:"content" gorm:"type:text;not null"`

	// Variables is derived from Content on every save.
	Variables datatypes.JSONSlice[string] `json:"variables"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate hook for UUID generation
func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// BeforeSave recomputes Variables so they always match Content.
func (t *Template) BeforeSave(tx *gorm.DB) error {
	if !t.Type.Valid() {
		return fmt.Errorf("invalid template type %q", t.Type)
	}
	t.Variables = datatypes.NewJSONSlice(placeholders.Extract(t.Content))
	return nil
}
