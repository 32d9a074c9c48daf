package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bimoi/backend/internal/core"
	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
)

// Handler serves the REST routes
type Handler struct {
	core   *core.Core
	logger *zap.Logger
}

type resolveRequest struct {
	Channel    string `json:"channel" binding:"required"`
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
}

type contactRequest struct {
	domain.ContactCard
	Context string `json:"context"`
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) resolveIdentity(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.core.ResolveIdentity(c.Request.Context(), req.Channel, req.ExternalID, req.Name)
	if err != nil {
		h.respondError(c, "resolve identity", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getProfile(c *gin.Context) {
	acct, err := h.core.Profile(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, "fetch profile", err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req domain.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := h.core.UpdateProfile(c.Request.Context(), accountID(c), req)
	if err != nil {
		h.respondError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) createContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.core.CreateContact(c.Request.Context(), accountID(c), req.ContactCard, req.Context)
	if err != nil {
		h.respondError(c, "create contact", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) listContacts(c *gin.Context) {
	entries, err := h.core.ListContacts(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, "list contacts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": entries})
}

func (h *Handler) searchContacts(c *gin.Context) {
	entries, err := h.core.SearchContacts(c.Request.Context(), accountID(c), c.Query("q"))
	if err != nil {
		h.respondError(c, "search contacts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": entries})
}

func (h *Handler) getContact(c *gin.Context) {
	entry, err := h.core.GetContact(c.Request.Context(), accountID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "fetch contact", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) appendContext(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.core.AppendContext(c.Request.Context(), accountID(c), c.Param("id"), req.Text)
	if err != nil {
		h.respondError(c, "append context", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) flowState(c *gin.Context) {
	st, err := h.core.FlowState(c.Request.Context(), accountID(c), c.Param("key"))
	if err != nil {
		h.respondError(c, "fetch flow state", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) submitCard(c *gin.Context) {
	var card domain.ContactCard
	if err := c.ShouldBindJSON(&card); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.core.SubmitCard(c.Request.Context(), accountID(c), c.Param("key"), card)
	if err != nil {
		h.respondError(c, "submit card", err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (h *Handler) submitContext(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.core.SubmitContext(c.Request.Context(), accountID(c), c.Param("key"), req.Text)
	if err != nil {
		h.respondError(c, "submit context", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) cancelFlow(c *gin.Context) {
	if err := h.core.CancelFlow(c.Request.Context(), accountID(c), c.Param("key")); err != nil {
		h.respondError(c, "cancel flow", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(apperrors.ErrorTypeValidation), "message": err.Error()})
}
