package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"roomchat/internal/notify"
	"roomchat/internal/registry"
	"roomchat/internal/server"
)

// Gateway upgrades HTTP requests to websocket chat connections and runs the
// same session handler as the TCP acceptor.
type Gateway struct {
	upgrader  websocket.Upgrader
	reg       *registry.Registry
	hub       *notify.Hub
	rateLimit server.RateLimitConfig
	logger    *logrus.Logger
}

// NewGateway builds a gateway with an origin allow-list. An empty list or a
// "*" entry allows any origin; requests without an Origin header (non-browser
// clients) are always allowed.
func NewGateway(allowedOrigins []string, reg *registry.Registry, hub *notify.Hub, rl server.RateLimitConfig, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}

	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
			continue
		}
		if origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}

	g := &Gateway{
		reg:       reg,
		hub:       hub,
		rateLimit: rl,
		logger:    logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
	}
	return g
}

// Handle is the gin endpoint for websocket chat clients.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnf("websocket upgrade from %s failed: %v", c.ClientIP(), err)
		return
	}

	g.logger.Infof("websocket client connected: %s", conn.RemoteAddr())
	server.NewSessionHandler(NewFrameConn(conn), g.reg, g.hub, g.rateLimit, g.logger).Run()
}
