package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ngdi-portal/portal/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxPage keeps the row offset within int range
	MaxPage = math.MaxInt / MaxPageSize
)

var ErrNotFound = errors.New("metadata record not found")

// Service is a thin CRUD layer over metadata records
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates a metadata service
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Input is the writable part of a metadata record
type Input struct {
	Title        string              `json:"title" binding:"required,max=300"`
	Abstract     string              `json:"abstract" binding:"max=10000"`
	Organization string              `json:"organization" binding:"max=200"`
	Keywords     []string            `json:"keywords" binding:"max=50,dive,required,max=64"`
	BBox         *models.BoundingBox `json:"bbox"`
	Properties   map[string]any      `json:"properties"`
}

// Check validates what struct tags cannot express and returns field -> message pairs
func (in Input) Check() map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "is required"
	}
	if in.BBox != nil && !ValidBBox(*in.BBox) {
		fields["bbox"] = bboxMessage
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ListQuery carries pass-through pagination and an optional title/organization filter
type ListQuery struct {
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
	Query string `form:"q"`
}

// Page is one page of records
type Page struct {
	Items []models.MetadataRecord `json:"items"`
	Page  int                     `json:"page"`
	Limit int                     `json:"limit"`
	Total int64                   `json:"total"`
}

// Normalize clamps page and limit into their valid ranges
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	q.Query = strings.TrimSpace(q.Query)
	return q
}

// Create persists a new record owned by createdBy
func (s *Service) Create(ctx context.Context, in Input, createdBy string) (*models.MetadataRecord, error) {
	record := &models.MetadataRecord{CreatedByID: createdBy}
	in.apply(record)

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to create metadata record: %w", err)
	}
	return record, nil
}

// Get loads a record by id
func (s *Service) Get(ctx context.Context, id string) (*models.MetadataRecord, error) {
	var record models.MetadataRecord
	if err := models.FindByID(s.db.WithContext(ctx), id, &record); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load metadata record: %w", err)
	}
	return &record, nil
}

// List returns one page of records, newest first
func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.Normalize()

	query := s.db.WithContext(ctx).Model(&models.MetadataRecord{})
	if q.Query != "" {
		like := "%" + strings.ToLower(q.Query) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(organization) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count metadata records: %w", err)
	}

	items := []models.MetadataRecord{}
	err := query.
		Order("created_at DESC").Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata records: %w", err)
	}

	return &Page{Items: items, Page: q.Page, Limit: q.Limit, Total: total}, nil
}

// Update replaces the writable fields of a record
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.MetadataRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	in.apply(record)
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("failed to update metadata record: %w", err)
	}
	return record, nil
}

// Delete removes a record
func (s *Service) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MetadataRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete metadata record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (in Input) apply(record *models.MetadataRecord) {
	record.Title = strings.TrimSpace(in.Title)
	record.Abstract = in.Abstract
	record.Organization = strings.TrimSpace(in.Organization)
	record.Keywords = in.Keywords
	if record.Keywords == nil {
		record.Keywords = []string{}
	}
	record.BBox = in.BBox
	record.Properties = in.Properties
}
