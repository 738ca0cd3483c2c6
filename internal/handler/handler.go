// Package handler exposes the registration and on-call check endpoints over HTTP.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"oncall/internal/attendance"
	"oncall/internal/registration"
)

const imageTimeLayout = "2006-01-02T15:04:05.999999Z07:00"

// Checker records attendance for a camera frame.
type Checker interface {
	Check(ctx context.Context, frame attendance.Frame) (attendance.Result, error)
}

// Registrar stores and lists registration photos.
type Registrar interface {
	Register(ctx context.Context, up registration.Upload) error
	Images(ctx context.Context, userID string) ([]registration.Image, error)
}

// Probe is one dependency reported by /healthz.
type Probe struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Handler serves the HTTP API.
type Handler struct {
	checker   Checker
	registrar Registrar
	loc       *time.Location
	tempDir   string
	probes    []Probe
	log       *slog.Logger
}

// New builds a handler. Image timestamps are rendered in loc.
func New(checker Checker, registrar Registrar, loc *time.Location, tempDir string, log *slog.Logger, probes ...Probe) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{checker: checker, registrar: registrar, loc: loc, tempDir: tempDir, probes: probes, log: log}
}

// Routes mounts the API on r. checkMiddleware guards /oncall-check only.
func (h *Handler) Routes(r gin.IRouter, checkMiddleware ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.POST("/face-register", h.RegisterFace)
	r.GET("/user-image/:userId", h.UserImages)
	r.POST("/oncall-check", append(checkMiddleware, h.OnCallCheck)...)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, p := range h.probes {
		ok := p.Check(c.Request.Context())
		body[p.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Registration ----------

// RegisterFace expects multipart fields image (JPEG/PNG) and userId.
func (h *Handler) RegisterFace(c *gin.Context) {
	userID := strings.TrimSpace(c.PostForm("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "userId is required"})
		return
	}
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "image file is required"})
		return
	}
	data, err := readUpload(header)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read image"})
		return
	}

	err = h.registrar.Register(c.Request.Context(), registration.Upload{
		UserID:      userID,
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Registration successful for user " + userID})
	case errors.Is(err, registration.ErrUnsupportedFormat), errors.Is(err, registration.ErrNoFace):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, registration.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	default:
		h.log.Error("face registration failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to save registration: " + err.Error()})
	}
}

type imageResponse struct {
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url,omitempty"`
}

// UserImages lists the user's registration photos, most recent first.
func (h *Handler) UserImages(c *gin.Context) {
	userID := c.Param("userId")
	images, err := h.registrar.Images(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, registration.ErrNoImages) {
			c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
			return
		}
		h.log.Error("list registration images failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read images"})
		return
	}

	out := make([]imageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, imageResponse{
			Image:     "data:" + registration.MIMEType(img.Data) + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			Timestamp: img.Timestamp.In(h.loc).Format(imageTimeLayout),
			URL:       img.URL,
		})
	}
	c.JSON(http.StatusOK, out)
}

// ---------- On-call check ----------

// OnCallCheck takes a camera frame in the file field and records a check-in or check-out.
// Business rejections are reported with status 200 and status "error".
func (h *Handler) OnCallCheck(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "file is required"})
		return
	}

	path, err := h.spool(header)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				h.log.Warn("remove temp frame failed", "path", path, "error", rmErr)
			}
		}()
	}
	if err != nil {
		h.log.Error("spool frame failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to store frame"})
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.log.Error("read spooled frame failed", "path", path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to read frame"})
		return
	}

	res, err := h.checker.Check(c.Request.Context(), attendance.Frame{Data: data, Filename: filepath.Base(path)})
	if err != nil {
		if attendance.IsRejection(err) {
			c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
			return
		}
		h.log.Error("on-call check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": res.Message()})
}

// spool copies the upload to a uniquely named file under tempDir. The returned
// path is set whenever a file was created, even on error.
func (h *Handler) spool(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(h.tempDir, "frame-"+uuid.NewString()+ext)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return path, err
	}
	return path, dst.Close()
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
