package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quietriver/genstack/internal/auth"
	"github.com/quietriver/genstack/internal/common"
	"github.com/quietriver/genstack/internal/ledger"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminLogin checks the configured admin credential and issues a JWT for
// the /admin group.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if h.Cfg.AdminPasswordHash == "" {
		common.Fail(c, http.StatusForbidden, 40300, "admin login disabled")
		return
	}
	if req.Username != h.Cfg.AdminUser || !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(req.Username, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token})
}

type createLedgerUserReq struct {
	ExternalUserID string `json:"external_user_id"`
	AppBundle      string `json:"app_bundle"`
	Tokens         int64  `json:"tokens"`
}

// CreateLedgerUser registers a billable end user with an initial token
// balance.
func (h *Handler) CreateLedgerUser(c *gin.Context) {
	var req createLedgerUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.ExternalUserID == "" || req.AppBundle == "" {
		common.Fail(c, http.StatusBadRequest, 10005, "external_user_id and app_bundle required")
		return
	}

	u := ledger.User{
		ExternalID: req.ExternalUserID,
		AppBundle:  req.AppBundle,
		Tokens:     req.Tokens,
	}
	if err := h.Users.Create(c.Request.Context(), &u); err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "failed to create user (maybe already exists)")
		return
	}
	common.OK(c, gin.H{
		"id":               u.ID,
		"external_user_id": u.ExternalID,
		"app_bundle":       u.AppBundle,
		"tokens":           u.Tokens,
	})
}
