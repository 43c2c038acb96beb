package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Domenick1991/checkin/internal/camera"
	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/Domenick1991/checkin/internal/service/scanner"
	"github.com/gin-gonic/gin"
)

// CameraController is the part of camera.Capture the station UI drives.
type CameraController interface {
	Start(ctx context.Context, facing domain.FacingMode) error
	Stop()
	SwitchFacing(ctx context.Context) error
	Reload(ctx context.Context) error
	Retry(ctx context.Context) error
	State() camera.State
	Facing() domain.FacingMode
	Running() bool
}

type ScannerHandler struct {
	scanner scanner.ScannerUseCase
	camera  CameraController
}

func NewScannerHandler(scanner scanner.ScannerUseCase, camera CameraController) *ScannerHandler {
	return &ScannerHandler{scanner: scanner, camera: camera}
}

func (h *ScannerHandler) Register(router *gin.RouterGroup) {
	router.GET("/scanner/status", h.status)
	router.GET("/scanner/stream", h.stream)
	router.POST("/scanner/decode", h.decode)
	router.POST("/scanner/reset", h.reset)

	router.POST("/camera/start", h.startCamera)
	router.POST("/camera/stop", h.stopCamera)
	router.POST("/camera/switch", h.switchCamera)
	router.POST("/camera/reload", h.reloadCamera)
	router.POST("/camera/retry", h.retryCamera)
}

type cameraStatus struct {
	State   camera.State      `json:"state"`
	Facing  domain.FacingMode `json:"facing"`
	Running bool              `json:"running"`
}

type statusResponse struct {
	EventID int64             `json:"eventId"`
	Busy    bool              `json:"busy"`
	Result  domain.ScanResult `json:"result"`
	Camera  cameraStatus      `json:"camera"`
}

func (h *ScannerHandler) snapshot(result domain.ScanResult) statusResponse {
	return statusResponse{
		EventID: h.scanner.EventID(),
		Busy:    h.scanner.Busy(),
		Result:  result,
		Camera: cameraStatus{
			State:   h.camera.State(),
			Facing:  h.camera.Facing(),
			Running: h.camera.Running(),
		},
	}
}

func (h *ScannerHandler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot(h.scanner.Result()))
}

// stream pushes one "status" event per transition until the client leaves.
func (h *ScannerHandler) stream(c *gin.Context) {
	updates, unsubscribe := h.scanner.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case result, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status", h.snapshot(result))
			return true
		}
	})
}

type decodeRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// decode feeds a typed or keyboard-wedge payload through the camera pipeline.
func (h *ScannerHandler) decode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted := h.scanner.HandleDecode(req.Payload)
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *ScannerHandler) reset(c *gin.Context) {
	h.scanner.Reset()
	c.JSON(http.StatusOK, h.snapshot(h.scanner.Result()))
}

type startCameraRequest struct {
	Facing domain.FacingMode `json:"facing"`
}

func (h *ScannerHandler) startCamera(c *gin.Context) {
	var req startCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	facing := req.Facing
	if facing == "" {
		facing = h.camera.Facing()
	}
	if !facing.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "facing must be front or back"})
		return
	}
	h.respondCamera(c, h.camera.Start(c.Request.Context(), facing))
}

func (h *ScannerHandler) stopCamera(c *gin.Context) {
	h.camera.Stop()
	h.respondCamera(c, nil)
}

func (h *ScannerHandler) switchCamera(c *gin.Context) {
	h.respondCamera(c, h.camera.SwitchFacing(c.Request.Context()))
}

func (h *ScannerHandler) reloadCamera(c *gin.Context) {
	h.respondCamera(c, h.camera.Reload(c.Request.Context()))
}

func (h *ScannerHandler) retryCamera(c *gin.Context) {
	h.respondCamera(c, h.camera.Retry(c.Request.Context()))
}

func (h *ScannerHandler) respondCamera(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.snapshot(h.scanner.Result()))
	case errors.Is(err, camera.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "state": h.camera.State()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "state": h.camera.State()})
	}
}
