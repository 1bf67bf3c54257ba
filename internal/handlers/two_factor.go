package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/huangang/gatehouse/backend/pkg/response"
)

type TwoFactorHandler struct {
	twoFactor *services.TwoFactorService
	sessions  *services.SessionService
	settings  *services.SystemConfigService
	events    services.EventRecorder
}

func NewTwoFactorHandler(
	twoFactor *services.TwoFactorService,
	sessions *services.SessionService,
	settings *services.SystemConfigService,
	events services.EventRecorder,
) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactor: twoFactor,
		sessions:  sessions,
		settings:  settings,
		events:    events,
	}
}

const msgTwoFactorMalformed = "The two-factor request could not be read."

type verifyRequest struct {
	Code string `form:"two_factor_code" json:"two_factor_code"`
}

// Enroll issues a new secret and its QR code.
// GET /two-factor-enroll
func (h *TwoFactorHandler) Enroll(c *gin.Context) {
	user := middleware.GetUser(c)
	settings, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		response.ServerError(c, "failed to load settings")
		return
	}

	e, err := h.twoFactor.Enroll(c.Request.Context(), user, settings.SiteName)
	if errors.Is(err, services.ErrTwoFactorAlreadyEnrolled) {
		h.redirect(c, "/two-factor", "Your authenticator is already enrolled.")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("username", user.Username).Msg("[TwoFactor] Enrollment failed")
		response.ServerError(c, "failed to start enrollment")
		return
	}

	h.record(c, user, services.EventTwoFactorEnrolled, services.LevelInfo, "new secret issued")
	response.Success(c, gin.H{
		"secret":  e.Secret,
		"uri":     e.URI,
		"qr_code": "data:image/png;base64," + base64.StdEncoding.EncodeToString(e.QRCode),
	})
}

// Prompt asks for a code, or sends users without a secret to enroll first.
// GET /two-factor
func (h *TwoFactorHandler) Prompt(c *gin.Context) {
	user := middleware.GetUser(c)
	if err := h.twoFactor.RequireEnrolled(user); err != nil {
		h.redirect(c, "/two-factor-enroll", "")
		return
	}
	response.Success(c, gin.H{
		"enrolled": user.TwoFactorEnrolled,
		"flash":    middleware.PopFlash(c),
	})
}

// Verify checks the submitted two_factor_code and marks the session verified.
// POST /two-factor
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	user := middleware.GetUser(c)
	var req verifyRequest
	if err := c.ShouldBind(&req); err != nil {
		logger.Warn().Err(err).Str("username", user.Username).Msg("[TwoFactor] Malformed verify request")
		h.fail(c, response.NewBadRequest(msgTwoFactorMalformed))
		return
	}

	err := h.twoFactor.Verify(c.Request.Context(), user, req.Code)
	switch {
	case errors.Is(err, services.ErrTwoFactorNotEnrolled):
		h.redirect(c, "/two-factor-enroll", "")
		return
	case errors.Is(err, services.ErrTwoFactorCodeRequired):
		h.fail(c, response.NewBadRequest("Please enter your two-factor code."))
		return
	case errors.Is(err, services.ErrTwoFactorInvalidCode):
		h.record(c, user, services.EventTwoFactorFailed, services.LevelWarning, "invalid code")
		h.fail(c, response.NewUnauthorized("The two-factor code is invalid."))
		return
	case err != nil:
		logger.Error().Err(err).Str("username", user.Username).Msg("[TwoFactor] Verification failed")
		response.ServerError(c, "verification failed")
		return
	}

	session, err := h.sessions.MarkTwoFactorVerified(c.Request.Context(), middleware.GetClaims(c))
	if err != nil {
		logger.Error().Err(err).Str("username", user.Username).Msg("[TwoFactor] Session re-issue failed")
		response.ServerError(c, "failed to update session")
		return
	}
	middleware.SetSessionCookie(c, h.sessions, session)
	h.record(c, user, services.EventTwoFactorVerified, services.LevelInfo, "code accepted")

	h.redirect(c, middleware.PopReturnTo(c), "")
}

func (h *TwoFactorHandler) redirect(c *gin.Context, target, flash string) {
	if middleware.WantsJSON(c) {
		response.Success(c, gin.H{"redirect": target, "message": flash})
		return
	}
	if flash != "" {
		middleware.SetFlash(c, flash, h.sessions.Secure())
	}
	c.Redirect(http.StatusFound, target)
}

func (h *TwoFactorHandler) fail(c *gin.Context, err *response.AppError) {
	if middleware.WantsJSON(c) {
		response.Error(c, err)
		return
	}
	middleware.SetFlash(c, err.Message, h.sessions.Secure())
	c.Redirect(http.StatusFound, "/two-factor")
}

func (h *TwoFactorHandler) record(c *gin.Context, user *models.User, event, level, msg string) {
	id := user.ID
	h.events.Record(c.Request.Context(), &models.AuthEvent{
		Level:     level,
		Event:     event,
		Username:  user.Username,
		UserID:    &id,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Message:   msg,
	})
}
