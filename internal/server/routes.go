package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/closeout/internal/closure"
	"github.com/zulandar/closeout/internal/metrics"
	"github.com/zulandar/closeout/internal/session"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, sessions *session.Manager, tickets TicketReader) {
	router.GET("/health", handleHealth(sessions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/sessions", handleStartSession(sessions))
	api.GET("/sessions/:operator", handleGetSession(sessions))
	api.POST("/sessions/:operator/turns", handleTurn(sessions))
	api.PUT("/sessions/:operator/record", handleEditRecord(sessions))
	api.POST("/sessions/:operator/submit", handleSubmit(sessions))
	api.DELETE("/sessions/:operator", handleAbandon(sessions))

	api.GET("/tickets", handleListTickets(tickets))
	api.GET("/tickets/:id", handleGetTicket(tickets))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, closure.ErrInvalidTransition),
		errors.Is(err, closure.ErrTurnLimit):
		return http.StatusConflict
	case errors.Is(err, session.ErrOperatorRequired),
		errors.Is(err, closure.ErrEmptyTurn),
		errors.Is(err, closure.ErrEngineerRequired):
		return http.StatusBadRequest
	case errors.Is(err, closure.ErrOracle):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		metrics.Errors.WithLabelValues("server", strconv.Itoa(status)).Inc()
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func handleHealth(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(sessions.Active())})
	}
}

type startRequest struct {
	Operator string `json:"operator"`
}

func handleStartSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
		view, created, err := sessions.Start(req.Operator)
		if err != nil {
			abort(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, view)
	}
}

func handleGetSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := sessions.Get(c.Param("operator"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	Phase       closure.Phase `json:"phase"`
	Reply       string        `json:"reply,omitempty"`
	FinalReport string        `json:"final_report,omitempty"`
	Session     closure.View  `json:"session"`
}

func handleTurn(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
		res, view, err := sessions.Turn(c.Request.Context(), c.Param("operator"), req.Text)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, turnResponse{
			Phase:       res.Phase,
			Reply:       res.Reply,
			FinalReport: res.FinalReport,
			Session:     view,
		})
	}
}

type recordRequest struct {
	Record *ticket.Record `json:"record"`
}

func handleEditRecord(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
		if req.Record == nil {
			badRequest(c, "record is required")
			return
		}
		view, err := sessions.Edit(c.Param("operator"), *req.Record)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

type submitRequest struct {
	Engineer string `json:"engineer"`
}

func handleSubmit(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid body: "+err.Error())
				return
			}
		}
		operator := c.Param("operator")
		engineer := strings.TrimSpace(req.Engineer)
		if engineer == "" {
			engineer = operator
		}
		id, err := sessions.Submit(c.Request.Context(), operator, engineer)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

func handleAbandon(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sessions.Abandon(c.Param("operator")); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleListTickets(tickets TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.Filter{Engineer: c.Query("engineer")}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}
		rows, err := tickets.List(c.Request.Context(), f)
		if err != nil {
			abort(c, err)
			return
		}
		out := make([]*store.TicketView, 0, len(rows))
		for i := range rows {
			v, err := store.Decode(&rows[i], false)
			if err != nil {
				abort(c, err)
				return
			}
			out = append(out, v)
		}
		c.JSON(http.StatusOK, gin.H{"tickets": out})
	}
}

func handleGetTicket(tickets TicketReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, "id must be a positive integer")
			return
		}
		row, err := tickets.Get(c.Request.Context(), uint(id))
		if err != nil {
			abort(c, err)
			return
		}
		v, err := store.Decode(row, true)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}
