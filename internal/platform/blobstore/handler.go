package blobstore

import (
	"bufio"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/wailsapp/mimetype"

	"github.com/ehr/records/internal/platform/auth"
)

// uploadResponse is the body returned by the upload endpoint.
type uploadResponse struct {
	FileURL string `json:"file_url"`
}

// BlobHandler serves the upload endpoint and file downloads.
type BlobHandler struct {
	store   BlobStore
	baseURL string
	logger  zerolog.Logger
}

// NewBlobHandler creates a BlobHandler. baseURL is the externally visible
// origin used to build file URLs; when empty it is taken from each request.
func NewBlobHandler(store BlobStore, baseURL string, logger zerolog.Logger) *BlobHandler {
	return &BlobHandler{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// RegisterRoutes mounts POST /upload on api and GET /files/:id on e.
func (h *BlobHandler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	api.POST("/upload", h.handleUpload)
	e.GET("/files/:id", h.handleDownload)
}

func (h *BlobHandler) handleUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return err
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to open uploaded file"})
	}
	defer src.Close()

	content := bufio.NewReader(src)
	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = sniff(content)
	}

	meta := BlobMetadata{
		FileName:    file.Filename,
		ContentType: contentType,
		CreatedBy:   auth.SubjectFromContext(c.Request().Context()),
	}

	result, err := h.store.Upload(c.Request().Context(), meta, content)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrMissingFileName):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.logger.Error().Err(err).Str("file_name", file.Filename).Msg("upload failed")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store file"})
		}
	}

	h.logger.Info().
		Str("blob_id", result.ID).
		Int64("size", result.Size).
		Str("content_type", result.ContentType).
		Str("created_by", result.CreatedBy).
		Msg("file uploaded")

	return c.JSON(http.StatusCreated, uploadResponse{FileURL: h.fileURL(c, result.ID)})
}

func (h *BlobHandler) fileURL(c echo.Context, id string) string {
	base := h.baseURL
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}
	return base + "/files/" + id
}

// sniff detects the content type from the first bytes of r without
// consuming them.
func sniff(r *bufio.Reader) string {
	head, _ := r.Peek(3072)
	return mimetype.Detect(head).String()
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		h.logger.Error().Err(err).Str("blob_id", c.Param("id")).Msg("download failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read file"})
	}
	defer rc.Close()

	hdr := c.Response().Header()
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	hdr.Set(echo.HeaderContentLength, fmt.Sprint(meta.Size))
	if meta.Hash != "" {
		hdr.Set("ETag", `"`+meta.Hash+`"`)
	}
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
