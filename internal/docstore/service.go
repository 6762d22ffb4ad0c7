// Package docstore persists whole diagram documents in SQLite and notifies
// subscribers after every committed write.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/broadcast"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates that no diagram exists for the id.
	ErrNotFound = errors.New("docstore: diagram not found")
	// ErrAlreadyExists indicates that Create targeted an existing id.
	ErrAlreadyExists = errors.New("docstore: diagram already exists")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDiagramID  = errors.New("diagram identifier is required")
	errMissingAuthorID   = errors.New("author identifier is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "docstore.service.new"
	opLoad         = "docstore.load"
	opCreate       = "docstore.create"
	opReplace      = "docstore.replace"
	opListByAuthor = "docstore.list_by_author"
	opRevisions    = "docstore.revisions"

	subscriberBufferSize = 32
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service implements diagram.DocumentStore on gorm.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	events     *broadcast.Dispatcher[diagram.Event]
}

var _ diagram.DocumentStore = (*Service)(nil)

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		events:     broadcast.NewDispatcher[diagram.Event](subscriberBufferSize),
	}, nil
}

// Load returns the current version of the diagram.
func (s *Service) Load(ctx context.Context, id string) (diagram.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return diagram.Event{}, newServiceError(opLoad, "missing_diagram_id", errMissingDiagramID)
	}
	var row Document
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return diagram.Event{}, newServiceError(opLoad, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opLoad, "query_failed", err, zap.String("diagram_id", id))
		return diagram.Event{}, newServiceError(opLoad, "query_failed", err)
	}
	doc, err := decodeDocument(row)
	if err != nil {
		s.logError(opLoad, "decode_failed", err, zap.String("diagram_id", id))
		return diagram.Event{}, newServiceError(opLoad, "decode_failed", err)
	}
	return diagram.Event{Diagram: doc, Version: row.Version}, nil
}

// Create inserts a new diagram at version 1.
func (s *Service) Create(ctx context.Context, doc diagram.Diagram, origin string) (diagram.Event, error) {
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return diagram.Event{}, newServiceError(opCreate, "missing_diagram_id", errMissingDiagramID)
	}
	if strings.TrimSpace(doc.AuthorID) == "" {
		return diagram.Event{}, newServiceError(opCreate, "missing_author_id", errMissingAuthorID)
	}
	if doc.Visibility == "" {
		doc.Visibility = diagram.VisibilityPublic
	}
	payload, err := encodeDocument(doc)
	if err != nil {
		s.logError(opCreate, "encode_failed", err, zap.String("diagram_id", doc.ID))
		return diagram.Event{}, newServiceError(opCreate, "encode_failed", err)
	}

	appliedAt := s.clock().UTC()
	row := Document{
		DiagramID:        doc.ID,
		AuthorID:         doc.AuthorID,
		Visibility:       string(doc.Visibility),
		Payload:          payload,
		Version:          1,
		UpdatedAtSeconds: appliedAt.Unix(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			s.logError(opCreate, "insert_failed", result.Error, zap.String("diagram_id", doc.ID))
			return newServiceError(opCreate, "insert_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opCreate, "already_exists", ErrAlreadyExists)
		}
		return s.appendRevision(tx, opCreate, doc.ID, origin, row.Version, appliedAt)
	})
	if txErr != nil {
		return diagram.Event{}, txErr
	}

	event := diagram.Event{Diagram: doc.Clone(), Version: row.Version, Origin: origin}
	s.events.Publish(doc.ID, event)
	return event, nil
}

// Replace overwrites the whole document and bumps its version. The author
// recorded at creation is kept.
func (s *Service) Replace(ctx context.Context, doc diagram.Diagram, origin string) (diagram.Event, error) {
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return diagram.Event{}, newServiceError(opReplace, "missing_diagram_id", errMissingDiagramID)
	}
	if doc.Visibility == "" {
		doc.Visibility = diagram.VisibilityPublic
	}

	var event diagram.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", doc.ID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opReplace, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opReplace, "select_failed", err, zap.String("diagram_id", doc.ID))
			return newServiceError(opReplace, "select_failed", err)
		}

		doc.AuthorID = existing.AuthorID
		payload, err := encodeDocument(doc)
		if err != nil {
			s.logError(opReplace, "encode_failed", err, zap.String("diagram_id", doc.ID))
			return newServiceError(opReplace, "encode_failed", err)
		}

		appliedAt := s.clock().UTC()
		nextVersion := existing.Version + 1
		if nextVersion <= 0 {
			nextVersion = 1
		}
		existing.Visibility = string(doc.Visibility)
		existing.Payload = payload
		existing.Version = nextVersion
		existing.UpdatedAtSeconds = appliedAt.Unix()
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opReplace, "save_failed", err, zap.String("diagram_id", doc.ID))
			return newServiceError(opReplace, "save_failed", err)
		}
		if err := s.appendRevision(tx, opReplace, doc.ID, origin, nextVersion, appliedAt); err != nil {
			return err
		}
		event = diagram.Event{Diagram: doc.Clone(), Version: nextVersion, Origin: origin}
		return nil
	})
	if txErr != nil {
		return diagram.Event{}, txErr
	}

	s.events.Publish(doc.ID, event)
	return event, nil
}

// Subscribe streams every version committed after the call.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan diagram.Event, func()) {
	return s.events.Subscribe(ctx, strings.TrimSpace(id))
}

// ListByAuthor returns the diagrams owned by authorID, most recently updated first.
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]diagram.Diagram, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		s.logError(opListByAuthor, "missing_author_id", errMissingAuthorID)
		return nil, newServiceError(opListByAuthor, "missing_author_id", errMissingAuthorID)
	}

	var rows []Document
	if err := s.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("updated_at_s DESC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListByAuthor, "query_failed", err, zap.String("author_id", authorID))
		return nil, newServiceError(opListByAuthor, "query_failed", err)
	}

	diagrams := make([]diagram.Diagram, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeDocument(row)
		if err != nil {
			s.logError(opListByAuthor, "decode_failed", err, zap.String("diagram_id", row.DiagramID))
			return nil, newServiceError(opListByAuthor, "decode_failed", err)
		}
		diagrams = append(diagrams, doc)
	}
	return diagrams, nil
}

// Revisions returns the write log of one diagram in version order.
func (s *Service) Revisions(ctx context.Context, id string) ([]Revision, error) {
	var revisions []Revision
	if err := s.db.WithContext(ctx).
		Where("diagram_id = ?", id).
		Order("version ASC").
		Find(&revisions).Error; err != nil {
		s.logError(opRevisions, "query_failed", err, zap.String("diagram_id", id))
		return nil, newServiceError(opRevisions, "query_failed", err)
	}
	return revisions, nil
}

func (s *Service) appendRevision(tx *gorm.DB, operation, diagramID, origin string, version int64, appliedAt time.Time) error {
	revisionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("diagram_id", diagramID))
		return newServiceError(operation, "id_generation_failed", err)
	}
	revision := Revision{
		RevisionID:       revisionID,
		DiagramID:        diagramID,
		Origin:           origin,
		Version:          version,
		AppliedAtSeconds: appliedAt.Unix(),
	}
	if err := tx.Create(&revision).Error; err != nil {
		s.logError(operation, "revision_insert_failed", err, zap.String("diagram_id", diagramID))
		return newServiceError(operation, "revision_insert_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("docstore service error", attrs...)
}
