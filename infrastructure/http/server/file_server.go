// Package server exposes the transfer service over HTTP.
package server

import (
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	"file-relay/domain/mimetypes"
	apperrors "file-relay/errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	defaultListLimit = 100
	// Multipart framing on top of the file itself.
	formOverhead = 1 * domain.MB
)

// Response is the envelope of every JSON answer.
type Response struct {
	Data any    `json:"data"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type FileView struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	Sha256       string    `json:"sha256"`
	CreatedAt    time.Time `json:"createdAt"`
}

type FileServer struct {
	log           *slog.Logger
	service       contract.TransferService
	broker        contract.Broker
	metrics       http.Handler
	maxUploadSize int64
}

// NewFileServer wires the routes. broker and metrics may be nil.
func NewFileServer(
	log *slog.Logger,
	service contract.TransferService,
	broker contract.Broker,
	metrics http.Handler,
	maxUploadSize int64,
) *FileServer {
	return &FileServer{
		log:           log,
		service:       service,
		broker:        broker,
		metrics:       metrics,
		maxUploadSize: maxUploadSize,
	}
}

func (s *FileServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	files := router.Group("/files")
	files.GET("", s.list)
	files.POST("/upload", s.upload)
	files.POST("/upload-multiple", s.uploadMultiple)
	files.GET("/download/:filename", s.download)

	router.GET("/healthz", s.healthz)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	return router
}

func (s *FileServer) upload(c *gin.Context) {
	s.limitBody(c)
	header, err := c.FormFile("file")
	if err != nil {
		s.fail(c, fmt.Errorf("%w: missing form file \"file\": %w", apperrors.ErrInvalidUpload, err))
		return
	}
	request, err := toUploadRequest(header)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.service.UploadFile(c.Request.Context(), request)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(result.StatusCode, Response{
		Data: gin.H{"filename": result.Filename},
		Code: result.StatusCode,
		Msg:  result.Message,
	})
}

func (s *FileServer) uploadMultiple(c *gin.Context) {
	s.limitBody(c)
	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", apperrors.ErrInvalidUpload, err))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		s.fail(c, fmt.Errorf("%w: no form file \"files\"", apperrors.ErrInvalidUpload))
		return
	}

	requests := make([]domain.UploadRequest, 0, len(headers))
	for _, header := range headers {
		request, err := toUploadRequest(header)
		if err != nil {
			s.fail(c, err)
			return
		}
		requests = append(requests, request)
	}

	result := s.service.UploadFiles(c.Request.Context(), requests)
	code := http.StatusAccepted
	if len(result.Filenames) == 0 {
		code = http.StatusInternalServerError
	}
	c.JSON(code, Response{
		Data: gin.H{"filenames": result.Filenames, "failed": result.Failed},
		Code: code,
		Msg:  result.Message,
	})
}

func (s *FileServer) download(c *gin.Context) {
	name := c.Param("filename")
	reader, err := s.service.DownloadFile(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, -1, string(mimetypes.OctetStream), reader, map[string]string{
		"Content-Disposition": "attachment; filename=" + name,
	})
}

func (s *FileServer) list(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, fmt.Errorf("%w: invalid limit %q", apperrors.ErrInvalidUpload, raw))
			return
		}
		limit = n
	}

	files, err := s.service.ListFiles(limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Data: lo.Map(files, func(f domain.StoredFile, _ int) FileView { return toFileView(f) }),
		Code: http.StatusOK,
		Msg:  "ok",
	})
}

func (s *FileServer) healthz(c *gin.Context) {
	data := gin.H{"status": "ok"}
	if s.broker != nil {
		data["broker"] = s.broker.State().String()
	}
	c.JSON(http.StatusOK, Response{Data: data, Code: http.StatusOK, Msg: "ok"})
}

func (s *FileServer) limitBody(c *gin.Context) {
	if s.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize+formOverhead)
	}
}

func (s *FileServer) fail(c *gin.Context, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
		msg = http.StatusText(code)
	}
	c.AbortWithStatusJSON(code, Response{Code: code, Msg: msg})
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *FileServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		s.log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(startedAt),
			"client_ip", c.ClientIP())
	}
}

func toUploadRequest(header *multipart.FileHeader) (domain.UploadRequest, error) {
	f, err := header.Open()
	if err != nil {
		return domain.UploadRequest{}, fmt.Errorf("%w: open %s: %w", apperrors.ErrInvalidUpload, header.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return domain.UploadRequest{}, fmt.Errorf("%w: read %s: %w", apperrors.ErrInvalidUpload, header.Filename, err)
	}
	return domain.UploadRequest{
		OriginalName: header.Filename,
		Content:      content,
		Size:         header.Size,
	}, nil
}

func toFileView(f domain.StoredFile) FileView {
	return FileView{
		Filename:     f.StorageName,
		OriginalName: f.OriginalName,
		Size:         f.Size,
		MimeType:     f.MimeType,
		Sha256:       f.Sha256,
		CreatedAt:    f.CreatedAt,
	}
}
