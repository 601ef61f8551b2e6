// Package http exposes a read-only admin API over the chat registry: rooms,
// users, sessions and message logs, guarded by a JWT issued against the
// configured admin credentials.
package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"roomchat/internal/notify"
	"roomchat/internal/registry"
)

// Handler wires admin HTTP routes to the registry.
type Handler struct {
	reg *registry.Registry
	hub *notify.Hub

	adminUser string
	adminPass string
	jwtSecret string
	tokenTTL  time.Duration
	logger    *logrus.Logger
}

// NewHandler creates the admin handler. tokenTTL <= 0 defaults to 30 minutes.
func NewHandler(reg *registry.Registry, hub *notify.Hub, adminUser, adminPass, jwtSecret string, tokenTTL time.Duration, logger *logrus.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		reg:       reg,
		hub:       hub,
		adminUser: adminUser,
		adminPass: adminPass,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// RegisterRoutes mounts the admin API on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/auth/login", h.login)

		authorized := api.Group("", h.authMiddleware())
		{
			authorized.GET("/rooms", h.listRooms)
			authorized.GET("/rooms/:name/messages", h.roomMessages)
			authorized.GET("/users", h.listUsers)
			authorized.GET("/sessions", h.listSessions)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.adminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.adminPass)) == 1
	if !userOK || !passOK {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(req.Username)
	if err != nil {
		h.logger.Warnf("issue admin token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.tokenTTL.Seconds()),
	})
}

// RoomResponse summarizes one room for the admin surface.
type RoomResponse struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	MessageCount int      `json:"message_count"`
}

func (h *Handler) listRooms(c *gin.Context) {
	names := h.reg.RoomNames()
	resp := make([]RoomResponse, 0, len(names))
	for _, name := range names {
		participants, err := h.reg.RoomParticipants(name)
		if err != nil {
			continue
		}
		messages, err := h.reg.RoomMessages(name)
		if err != nil {
			continue
		}
		resp = append(resp, RoomResponse{
			Name:         name,
			Participants: participants,
			MessageCount: len(messages),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) roomMessages(c *gin.Context) {
	messages, err := h.reg.RoomMessages(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.RegisteredUsernames())
}

// SessionResponse describes one live session.
type SessionResponse struct {
	Username   string    `json:"username"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	Listening  bool      `json:"listening"`
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions := h.reg.Sessions()
	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			Username:   s.Username,
			RemoteAddr: s.RemoteAddr,
			StartedAt:  s.StartedAt,
			Listening:  h.hub.HasListener(s.Username),
		})
	}
	c.JSON(http.StatusOK, resp)
}
