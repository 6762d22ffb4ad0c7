package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"gorm.io/datatypes"
)

// Document is the persisted row of one diagram. The JSON column holds the
// whole document; author and visibility are mirrored into columns so lists
// can be filtered without decoding.
type Document struct {
	DiagramID        string         `gorm:"column:id;primaryKey;size:190;not null"`
	AuthorID         string         `gorm:"column:author_id;size:190;not null;index:idx_diagrams_author_updated,priority:1"`
	Visibility       string         `gorm:"column:visibility;size:16;not null;default:''"`
	Payload          datatypes.JSON `gorm:"column:document;not null"`
	Version          int64          `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null;index:idx_diagrams_author_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "diagrams"
}

// Revision is an append-only record of every accepted write.
type Revision struct {
	RevisionID       string `gorm:"column:revision_id;primaryKey;size:190;not null"`
	DiagramID        string `gorm:"column:diagram_id;size:190;not null;index:idx_revisions_diagram_version,priority:1"`
	Origin           string `gorm:"column:origin;size:190;not null;default:''"`
	Version          int64  `gorm:"column:version;not null;index:idx_revisions_diagram_version,priority:2"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "diagram_revisions"
}

func encodeDocument(doc diagram.Diagram) (datatypes.JSON, error) {
	if doc.Shapes == nil {
		doc.Shapes = []diagram.Shape{}
	}
	if doc.Relations == nil {
		doc.Relations = []diagram.Relation{}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

func decodeDocument(row Document) (diagram.Diagram, error) {
	var doc diagram.Diagram
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &doc); err != nil {
			return diagram.Diagram{}, fmt.Errorf("decode diagram %s: %w", row.DiagramID, err)
		}
	}
	doc.ID = row.DiagramID
	doc.AuthorID = row.AuthorID
	doc.Visibility = diagram.VisibilityPublic
	if visibility, err := diagram.ParseVisibility(row.Visibility); err == nil {
		doc.Visibility = visibility
	}
	if doc.Shapes == nil {
		doc.Shapes = []diagram.Shape{}
	}
	if doc.Relations == nil {
		doc.Relations = []diagram.Relation{}
	}
	for index := range doc.Shapes {
		if shapeType, err := diagram.ParseShapeType(string(doc.Shapes[index].Type)); err == nil {
			doc.Shapes[index].Type = shapeType
		}
	}
	return doc, nil
}
