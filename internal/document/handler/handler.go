package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/storage"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Service is the document service consumed by the HTTP layer.
type Service interface {
	Create(ctx context.Context, d *document.Document) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	Update(ctx context.Context, id string, p document.Patch) (*document.Document, error)
	Delete(ctx context.Context, id string) (*document.Document, error)
}

// RevisionLister lists archived states of a document.
type RevisionLister interface {
	List(ctx context.Context, id string, expires time.Duration) ([]storage.Revision, error)
}

// DeleteResponse is the body of a successful DELETE.
type DeleteResponse struct {
	Message  string             `json:"message"`
	Document *document.Document `json:"document"`
}

// ErrorsResponse carries validation failures.
type ErrorsResponse struct {
	Errors []string `json:"errors"`
}

// MessageResponse carries a single human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

const (
	msgNotFound    = "Document not found"
	msgDeleted     = "Document deleted"
	msgServerError = "Something went wrong!"
)

type Handler struct {
	svc       Service
	revisions RevisionLister
}

func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// WithRevisions enables GET /api/documents/:id/revisions.
func (h *Handler) WithRevisions(r RevisionLister) *Handler {
	h.revisions = r
	return h
}

// Register mounts the document routes on rg.
func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/api/documents", h.list)
	rg.POST("/api/documents", h.create)
	rg.GET("/api/documents/:id", h.get)
	rg.PUT("/api/documents/:id", h.update)
	rg.DELETE("/api/documents/:id", h.remove)
	if h.revisions != nil {
		rg.GET("/api/documents/:id/revisions", h.listRevisions)
	}
}

// WriteError maps a service error onto the API error shapes.
func WriteError(c *gin.Context, err error) {
	var ve *document.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, ErrorsResponse{Errors: ve.Errors})
	case errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, MessageResponse{Message: msgNotFound})
	default:
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, MessageResponse{Message: msgServerError})
	}
}

func (h *Handler) list(c *gin.Context) {
	docs, err := h.svc.List(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *Handler) get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		WriteError(c, &document.ValidationError{Errors: []string{document.MsgInvalidPayload}})
		return
	}
	in, err := document.ParseCreate(body)
	if err != nil {
		WriteError(c, err)
		return
	}
	d, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) update(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		WriteError(c, &document.ValidationError{Errors: []string{document.MsgInvalidPayload}})
		return
	}
	patch, err := document.ParsePatch(body)
	if err != nil {
		WriteError(c, err)
		return
	}
	d, err := h.svc.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) remove(c *gin.Context) {
	d, err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Message: msgDeleted, Document: d})
}

func (h *Handler) listRevisions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Get(c.Request.Context(), id); err != nil {
		WriteError(c, err)
		return
	}
	revs, err := h.revisions.List(c.Request.Context(), id, 15*time.Minute)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, revs)
}
