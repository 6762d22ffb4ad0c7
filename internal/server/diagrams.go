package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/docstore"
)

type diagramPayload struct {
	Diagram diagram.Diagram `json:"diagram"`
	Version int64           `json:"version"`
}

type createDiagramPayload struct {
	ID string `json:"id"`
}

type addShapePayload struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
}

type shapePatchPayload struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
	Color  *string  `json:"color"`
	Text   *string  `json:"text"`
}

type addRelationPayload struct {
	From diagram.ShapeID `json:"from"`
	To   diagram.ShapeID `json:"to"`
}

type labelPayload struct {
	Text     string `json:"text"`
	Position string `json:"position"`
}

type connectPayload struct {
	End     string          `json:"end"`
	ShapeID diagram.ShapeID `json:"shape_id"`
}

type relationPatchPayload struct {
	Direction *string         `json:"direction"`
	Label     *labelPayload   `json:"label"`
	Connect   *connectPayload `json:"connect"`
}

type visibilityPayload struct {
	Visibility string `json:"visibility"`
}

func canView(doc diagram.Diagram, userID string) bool {
	return doc.Visibility == diagram.VisibilityPublic || doc.AuthorID == userID
}

func (h *httpHandler) handleListDiagrams(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	diagrams, err := h.store.ListByAuthor(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list diagrams", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"diagrams": diagrams})
}

func (h *httpHandler) handleCreateDiagram(c *gin.Context) {
	var request createDiagramPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	userID := c.GetString(userIDContextKey)
	doc, err := diagram.Create(c.Request.Context(), h.store, userID, request.ID)
	switch {
	case errors.Is(err, docstore.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists"})
		return
	case err != nil:
		h.logger.Error("failed to create diagram", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, diagramPayload{Diagram: doc, Version: 1})
}

func (h *httpHandler) handleGetDiagram(c *gin.Context) {
	editor, doc, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	c.JSON(http.StatusOK, diagramPayload{Diagram: doc, Version: editor.Version()})
}

func (h *httpHandler) handleAddShape(c *gin.Context) {
	var request addShapePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	shapeType, err := diagram.ParseShapeType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_shape_type"})
		return
	}
	var color diagram.Color
	if request.Color != "" {
		if color, err = diagram.ParseColor(request.Color); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_color"})
			return
		}
	}

	editor, _, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	id, added := editor.AddShape(shapeType, request.X, request.Y, color)
	if !added {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not_applied"})
		return
	}
	h.respondCommitted(c, editor, http.StatusCreated, gin.H{"shape_id": id})
}

func (h *httpHandler) handleUpdateShape(c *gin.Context) {
	shapeID, ok := pathID(c, "shapeId")
	if !ok {
		return
	}
	var request shapePatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var color diagram.Color
	if request.Color != nil {
		parsed, err := diagram.ParseColor(*request.Color)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_color"})
			return
		}
		color = parsed
	}

	editor, doc, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	shape, found := doc.Shape(diagram.ShapeID(shapeID))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "shape_not_found"})
		return
	}

	if request.X != nil || request.Y != nil || request.Width != nil || request.Height != nil {
		x, y := shape.X, shape.Y
		if request.X != nil {
			x = *request.X
		}
		if request.Y != nil {
			y = *request.Y
		}
		var opts []diagram.MoveOption
		if request.Width != nil {
			opts = append(opts, diagram.WithWidth(*request.Width))
		}
		if request.Height != nil {
			opts = append(opts, diagram.WithHeight(*request.Height))
		}
		editor.MoveShape(shape.ID, x, y, opts...)
	}
	if request.Color != nil {
		editor.ColorShape(shape.ID, color)
	}
	if request.Text != nil {
		editor.SetShapeText(shape.ID, *request.Text)
	}
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

func (h *httpHandler) handleRemoveShape(c *gin.Context) {
	shapeID, ok := pathID(c, "shapeId")
	if !ok {
		return
	}
	editor, _, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	if !editor.RemoveShape(diagram.ShapeID(shapeID)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "shape_not_found"})
		return
	}
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

func (h *httpHandler) handleAddRelation(c *gin.Context) {
	var request addRelationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	editor, _, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	id, added := editor.AddRelation(request.From, request.To)
	if !added {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "shape_not_found"})
		return
	}
	h.respondCommitted(c, editor, http.StatusCreated, gin.H{"relation_id": id})
}

func (h *httpHandler) handleUpdateRelation(c *gin.Context) {
	relationID, ok := pathID(c, "relationId")
	if !ok {
		return
	}
	var request relationPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var (
		direction diagram.Direction
		position  diagram.LabelPosition
		end       diagram.End
		err       error
	)
	if request.Direction != nil {
		if direction, err = diagram.ParseDirection(*request.Direction); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
			return
		}
	}
	if request.Label != nil {
		if position, err = diagram.ParseLabelPosition(request.Label.Position); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_label_position"})
			return
		}
	}
	if request.Connect != nil {
		if end, err = diagram.ParseEnd(request.Connect.End); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_end"})
			return
		}
	}

	editor, doc, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	id := diagram.RelationID(relationID)
	if _, found := doc.Relation(id); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "relation_not_found"})
		return
	}
	if request.Connect != nil {
		if _, found := doc.Shape(request.Connect.ShapeID); !found {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "shape_not_found"})
			return
		}
	}

	if request.Direction != nil {
		editor.StyleRelation(id, direction)
	}
	if request.Label != nil {
		editor.SetLabelText(id, request.Label.Text, position)
	}
	if request.Connect != nil {
		editor.Connect(id, request.Connect.ShapeID, end)
	}
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

func (h *httpHandler) handleRemoveRelation(c *gin.Context) {
	relationID, ok := pathID(c, "relationId")
	if !ok {
		return
	}
	editor, _, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	if !editor.RemoveRelation(diagram.RelationID(relationID)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "relation_not_found"})
		return
	}
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

func (h *httpHandler) handleClear(c *gin.Context) {
	editor, doc, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	if doc.AuthorID != c.GetString(userIDContextKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	editor.Clear()
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

func (h *httpHandler) handleVisibility(c *gin.Context) {
	var request visibilityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	visibility, err := diagram.ParseVisibility(request.Visibility)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_visibility"})
		return
	}
	editor, doc, release, ok := h.openDiagram(c)
	if !ok {
		return
	}
	defer release()
	if doc.AuthorID != c.GetString(userIDContextKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	editor.ChangeVisibility(visibility)
	h.respondCommitted(c, editor, http.StatusOK, nil)
}

// openDiagram resolves the running editor of the :id diagram. Visibility is
// checked against the stored document before an editor is opened, so private
// diagrams of other users are reported missing without being loaded. The
// returned release func must be called once the handler is done.
func (h *httpHandler) openDiagram(c *gin.Context) (*diagram.Editor, diagram.Diagram, func(), bool) {
	id := c.Param("id")
	userID := c.GetString(userIDContextKey)
	stored, err := h.store.Load(c.Request.Context(), id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, diagram.Diagram{}, nil, false
	case err != nil:
		h.logger.Error("failed to load diagram", zap.String("diagram_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open_failed"})
		return nil, diagram.Diagram{}, nil, false
	}
	if !canView(stored.Diagram, userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, diagram.Diagram{}, nil, false
	}

	editor, release, err := h.editors.Open(c.Request.Context(), id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, diagram.Diagram{}, nil, false
	case err != nil:
		h.logger.Error("failed to open diagram", zap.String("diagram_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open_failed"})
		return nil, diagram.Diagram{}, nil, false
	}
	doc, loaded := editor.Snapshot()
	if !loaded || !canView(doc, userID) {
		release()
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, diagram.Diagram{}, nil, false
	}
	return editor, doc, release, true
}

// respondCommitted waits for the queued write so the response reflects
// persisted state, then returns the diagram merged with extra.
func (h *httpHandler) respondCommitted(c *gin.Context, editor *diagram.Editor, status int, extra gin.H) {
	if err := editor.Flush(c.Request.Context()); err != nil {
		h.logger.Error("failed to flush diagram", zap.String("diagram_id", editor.ID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist_failed"})
		return
	}
	doc, _ := editor.Snapshot()
	body := gin.H{"diagram": doc, "version": editor.Version()}
	for key, value := range extra {
		body[key] = value
	}
	c.JSON(status, body)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}
