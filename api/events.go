package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Domenick1991/checkin/internal/remote"
	"github.com/Domenick1991/checkin/internal/service/events"
	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	service events.EventUseCase
}

func NewEventHandler(service events.EventUseCase) *EventHandler {
	return &EventHandler{service: service}
}

func (h *EventHandler) Register(router *gin.RouterGroup) {
	router.GET("/events/:id", h.get)
}

func (h *EventHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	event, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, remote.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}
