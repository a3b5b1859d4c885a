package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/qrpayload"
	"qrattendance/internal/scanner"
)

func (s *Server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.opts.Backend.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}

	tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, s.opts.JWTIssuer, s.opts.JWTSigningKey, s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	if err := s.opts.Backend.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.logger.Warn("save refresh token", zap.String("device_id", req.DeviceID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, s.opts.JWTSigningKey, s.opts.JWTIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	tokens, err := auth.Issue(claims.Subject, claims.Role, s.opts.JWTIssuer, s.opts.JWTSigningKey, s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	err = s.opts.Backend.RotateRefreshToken(c.Request.Context(), claims.Subject, req.RefreshToken, tokens.RefreshToken, tokens.RefreshExp, s.now())
	if errors.Is(err, attendance.ErrRefreshTokenRevoked) {
		s.logger.Warn("refresh token reuse", zap.String("device_id", claims.Subject))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) device(c *gin.Context) *scanner.Device {
	return s.opts.Registry.Device(c.Request.Context(), auth.DeviceID(c))
}

func (s *Server) getSection(c *gin.Context) {
	sec, ok := s.device(c).CurrentSection()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"section": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": sec})
}

func (s *Server) selectSection(c *gin.Context) {
	var req struct {
		SectionID string `json:"section_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sec, err := s.device(c).SelectSection(c.Request.Context(), req.SectionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": sec})
}

func (s *Server) clearSection(c *gin.Context) {
	s.device(c).ClearSection(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) scan(c *gin.Context) {
	var req struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dec, err := s.device(c).Scan(c.Request.Context(), req.Payload, s.now())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": dec, "message": dec.Message()})
}

func (s *Server) logout(c *gin.Context) {
	var req struct {
		CooldownSeconds int `json:"cooldown_seconds" binding:"min=0"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := s.device(c).Logout(c.Request.Context(), c.Param("id"), s.now(), time.Duration(req.CooldownSeconds)*time.Second)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) date(c *gin.Context) (string, bool) {
	date := c.Query("date")
	if date == "" {
		return s.opts.Engine.DateOf(s.now()), true
	}
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return "", false
	}
	return date, true
}

func (s *Server) studentSessions(c *gin.Context) {
	date, ok := s.date(c)
	if !ok {
		return
	}
	sessions, err := s.opts.Backend.ListActiveSessions(c.Request.Context(), c.Param("student_id"), date)
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "sessions": nonNil(sessions)})
}

func (s *Server) listAttendance(c *gin.Context) {
	date, ok := s.date(c)
	if !ok {
		return
	}
	records, err := s.opts.Backend.ListAttendance(c.Request.Context(), date, c.Query("section_id"))
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "records": nonNil(records)})
}

func (s *Server) attendanceStats(c *gin.Context) {
	date, ok := s.date(c)
	if !ok {
		return
	}
	stats, err := s.opts.Backend.AttendanceStats(c.Request.Context(), date, c.Query("section_id"))
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "stats": stats})
}

func (s *Server) listSections(c *gin.Context) {
	sections, err := s.opts.Backend.ListSections(c.Request.Context())
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sections": nonNil(sections)})
}

func (s *Server) listEvents(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}
	events, err := s.opts.Backend.ListScanEvents(c.Request.Context(), c.Query("device_id"), c.Query("student_id"), limit, offset)
	if err != nil {
		s.writeError(c, errors.Join(attendance.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": nonNil(events)})
}

// badge renders the canonical QR for a student as PNG.
func (s *Server) badge(c *gin.Context) {
	p := qrpayload.Payload{
		FullName:   strings.Join(strings.Fields(c.Query("full_name")), " "),
		StudentID:  strings.TrimSpace(c.Query("student_id")),
		Department: strings.TrimSpace(c.Query("department")),
	}
	if err := qrpayload.Validate(p); err != nil {
		s.writeError(c, err)
		return
	}
	size := 256
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 64 && parsed <= 1024 {
			size = parsed
		}
	}
	png, err := qrcode.Encode(p.String(), qrcode.Medium, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate qr"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) writeError(c *gin.Context, err error) {
	var fieldErr *qrpayload.FieldError
	switch {
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "validation_error", "field": fieldErr.Field})
	case errors.Is(err, qrpayload.ErrMalformed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "parse_error"})
	case errors.Is(err, qrpayload.ErrInvalidField):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "validation_error"})
	case errors.Is(err, scanner.ErrUnknownSection):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scanner.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "busy"})
	case errors.Is(err, attendance.ErrStoreUnavailable):
		s.logger.Error("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable", "kind": "store_unavailable"})
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
