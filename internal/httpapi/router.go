package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"economy_service/internal/config"
	"economy_service/internal/economy"
	"economy_service/internal/logger"
	"economy_service/internal/mailbox"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Server struct {
	economy *economy.Service
	mailbox *mailbox.Service
	auth    *Authenticator
	limiter *userLimiter
	schema  *jsonschema.Schema
}

func NewServer(econ *economy.Service, mb *mailbox.Service, cfg config.Config) (*Server, error) {
	schema, err := compileWorldSchema()
	if err != nil {
		return nil, err
	}
	auth := NewAuthenticator(cfg.AuthSecret)
	if auth.devMode() {
		logger.Log.Warnf("AUTH_SECRET not set, trusting %s header for identity", devIdentityHeader)
	}
	return &Server{
		economy: econ,
		mailbox: mb,
		auth:    auth,
		limiter: newUserLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		schema:  schema,
	}, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/", s.auth.Middleware(), s.limiter.Middleware())
	api.POST("/session", s.handleSession)
	api.GET("/balance", s.handleBalance)
	api.GET("/world", s.handleGetWorld)
	api.POST("/world", s.handleSaveWorld)
	api.POST("/transaction", s.handleTransaction)
	api.POST("/attack", s.handleAttack)
	api.GET("/mailbox", s.handleMailbox)
	api.POST("/mailbox/:id/read", s.handleMarkRead)
	api.GET("/ws/mailbox", s.handleMailboxStream)
	api.DELETE("/account", s.handleDeleteAccount)

	return r
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, economy.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, economy.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, economy.ErrPlayerNotFound), errors.Is(err, mailbox.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, economy.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, economy.ErrInvalidAttack),
		errors.Is(err, economy.ErrSelfAttack),
		errors.Is(err, economy.ErrInvalidDelta),
		errors.Is(err, economy.ErrMalformedWorld):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type sessionRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleSession(c *gin.Context) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = c.GetString(ctxUsername)
	}

	if _, err := s.economy.Ensure(c.Request.Context(), playerID(c), username); err != nil {
		writeError(c, err)
		return
	}
	state, err := s.economy.Materialize(c.Request.Context(), playerID(c), s.economy.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateBody(state))
}

func stateBody(state *economy.MaterializedState) gin.H {
	world := state.World
	world.Resources.Balance = state.Balance
	return gin.H{
		"world":                          world,
		"balance":                        state.Balance,
		"revision":                       state.Revision,
		"production_since_last_mutation": state.ProductionSinceLastMutation,
	}
}

func (s *Server) handleBalance(c *gin.Context) {
	state, err := s.economy.Materialize(c.Request.Context(), playerID(c), s.economy.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":                        state.Balance,
		"revision":                       state.Revision,
		"production_since_last_mutation": state.ProductionSinceLastMutation,
	})
}

func (s *Server) handleGetWorld(c *gin.Context) {
	state, err := s.economy.Materialize(c.Request.Context(), playerID(c), s.economy.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stateBody(state))
}

func (s *Server) handleSaveWorld(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	incoming, expected, err := decodeWorldSave(s.schema, raw)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.economy.Reconcile(c.Request.Context(), playerID(c), incoming, expected)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Status == economy.ReconcileConflict {
		status = http.StatusConflict
	}
	c.JSON(status, res)
}

const clientKeyPrefix = "tx:"

type transactionRequest struct {
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
	RequestKey string `json:"request_key"`
	RefID      string `json:"ref_id"`
}

// handleTransaction lets a client spend. Credits only ever come from
// server-side flows such as raids.
func (s *Server) handleTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Delta > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clients may not credit their own balance"})
		return
	}
	if req.Reason != "" && req.Reason != economy.ReasonPurchase {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported transaction reason"})
		return
	}

	res, err := s.economy.ApplyDelta(c.Request.Context(), economy.DeltaRequest{
		PlayerID:   playerID(c),
		Delta:      req.Delta,
		Reason:     economy.ReasonPurchase,
		RefID:      clientKey(req.RefID),
		RequestKey: clientKey(req.RequestKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Outcome == economy.OutcomeInsufficientFunds {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   economy.ErrInsufficientFunds.Error(),
			"balance": res.State.Balance,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":  res.Outcome,
		"balance":  res.State.Balance,
		"revision": res.State.Revision,
		"event":    res.Event,
	})
}

// clientKey moves a client-chosen key out of the namespace used by raids.
func clientKey(k string) string {
	if k == "" {
		return ""
	}
	return clientKeyPrefix + k
}

func (s *Server) handleAttack(c *gin.Context) {
	var req economy.AttackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CallerID = playerID(c)
	if req.AttackerID == "" {
		req.AttackerID = req.CallerID
	}

	res, err := s.economy.ResolveAttack(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleMailbox(c *gin.Context) {
	items, err := s.mailbox.List(c.Request.Context(), playerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []mailbox.Notification{}
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "unread": unread})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.mailbox.MarkRead(c.Request.Context(), playerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id := playerID(c)
	if err := s.economy.DeletePlayerState(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	logger.Log.WithFields(logrus.Fields{"player_id": id}).Info("account deleted")
	c.Status(http.StatusNoContent)
}
