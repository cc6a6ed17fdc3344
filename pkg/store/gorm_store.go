package store

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docucr/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "name", "original_filename", "storage_key", "status",
			"error_message", "archived", "size_bytes", "total_pages", "metadata", "updated_at",
		}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns an owner's documents, newest first, narrowed by
// filter, plus the total before limit/offset.
func (s *GormStore) ListDocuments(ownerID string, filter domain.ListFilter) ([]domain.Document, int, error) {
	tx := s.db.Model(&DocumentModel{}).Where("owner_id = ?", ownerID)
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		tx = tx.Where("name ILIKE ? OR original_filename ILIKE ?", like, like)
	}
	if !filter.CreatedFrom.IsZero() {
		tx = tx.Where("created_at >= ?", filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		tx = tx.Where("created_at <= ?", filter.CreatedTo)
	}
	if !filter.IncludeArchived {
		tx = tx.Where("archived = ?", false)
	}
	for k, v := range filter.Metadata {
		tx = tx.Where("metadata ->> ? = ?", k, v)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	tx = tx.Order("created_at DESC")
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		tx = tx.Offset(filter.Offset)
	}
	var models []DocumentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, int(total), nil
}

// SetStatus updates document status/error.
func (s *GormStore) SetStatus(id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetArchived flips the archived flag without touching processing status.
func (s *GormStore) SetArchived(id string, archived bool) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"archived":   archived,
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetTotalPages records the extracted page count.
func (s *GormStore) SetTotalPages(id string, pages int) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_pages": pages,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// UpdateMetadata replaces display name and/or custom metadata.
func (s *GormStore) UpdateMetadata(id string, name string, metadata map[string]string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != "" {
		updates["name"] = name
	}
	if metadata != nil {
		updates["metadata"] = metadataToJSON(metadata)
	}
	return s.db.Model(&DocumentModel{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteDocument removes a document row.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Name:             d.Name,
		OriginalFilename: d.OriginalFilename,
		StorageKey:       d.StorageKey,
		Status:           string(d.Status),
		ErrorMessage:     d.ErrorMessage,
		Archived:         d.Archived,
		SizeBytes:        d.SizeBytes,
		TotalPages:       d.TotalPages,
		Metadata:         metadataToJSON(d.Metadata),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Name:             m.Name,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		Status:           domain.DocumentStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		Archived:         m.Archived,
		SizeBytes:        m.SizeBytes,
		TotalPages:       m.TotalPages,
		Metadata:         metadataFromJSON(m.Metadata),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func metadataToJSON(metadata map[string]string) datatypes.JSONMap {
	if len(metadata) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func metadataFromJSON(m datatypes.JSONMap) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
