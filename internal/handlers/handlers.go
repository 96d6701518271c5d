package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/mri-classifier/internal/apperrors"
	"github.com/Brownie44l1/mri-classifier/internal/classifier"
	"github.com/Brownie44l1/mri-classifier/internal/labels"
	"github.com/Brownie44l1/mri-classifier/internal/logger"
	"github.com/Brownie44l1/mri-classifier/internal/middleware"
	"github.com/Brownie44l1/mri-classifier/internal/preprocess"
	"github.com/Brownie44l1/mri-classifier/internal/render"
)

const (
	// FieldImages is the multipart field carrying a batch of images.
	FieldImages = "images"
	// FieldImage is the multipart field of the single-image endpoint.
	FieldImage = "image"
)

// Options configures a Handler.
type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Log            logrus.FieldLogger
}

type Handler struct {
	svc  *classifier.Service
	opts Options
	log  logrus.FieldLogger
}

func NewHandler(svc *classifier.Service, opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{svc: svc, opts: opts, log: log}
}

// NewRouter wires the middleware chain and every route onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(render.Templates())
	if h.opts.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = h.opts.MaxUploadBytes
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(h.log),
		middleware.Recovery(h.log),
		middleware.CORS(),
	)

	// The upload page reports an oversized body on the page itself, so it
	// only gets the reader cap; JSON routes are rejected up front.
	page := r.Group("/")
	jsonRoutes := r.Group("/")
	if limit := h.opts.MaxUploadBytes; limit > 0 {
		page.Use(middleware.MaxBytes(limit))
		jsonRoutes.Use(middleware.BodyLimit(limit))
	}

	r.GET("/health", h.Health)
	r.GET("/", h.Index)
	page.POST("/", h.UploadPage)
	jsonRoutes.POST("/predict", h.Predict)
	jsonRoutes.POST("/predict/image", h.PredictFromImage)

	api := jsonRoutes.Group("/api/v1")
	api.GET("/labels", h.Labels)
	api.POST("/classify", h.Classify)

	return r
}

// Result is the JSON form of one classified file.
type Result struct {
	File        string             `json:"file,omitempty"`
	Label       string             `json:"label,omitempty"`
	DisplayName string             `json:"display_name,omitempty"`
	Color       string             `json:"color,omitempty"`
	Confidence  *float64           `json:"confidence,omitempty"`
	Predictions map[string]float32 `json:"predictions,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func newResult(file string, p *classifier.Prediction) Result {
	confidence := p.Confidence
	res := Result{
		File:        file,
		Label:       p.Label.String(),
		DisplayName: p.Label.DisplayName(),
		Color:       p.Label.Color(),
		Confidence:  &confidence,
		Predictions: make(map[string]float32, labels.Count),
	}
	for _, l := range labels.All() {
		res.Predictions[l.String()] = p.Probability(l)
	}
	return res
}

// PredictionRequest is a preprocessed tensor posted to /predict.
type PredictionRequest struct {
	Image []float32 `json:"image" binding:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Labels(c *gin.Context) {
	type entry struct {
		Index       int    `json:"index"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Color       string `json:"color"`
	}
	out := make([]entry, 0, labels.Count)
	for _, l := range labels.All() {
		out = append(out, entry{Index: l.Index(), Name: l.String(), DisplayName: l.DisplayName(), Color: l.Color()})
	}
	c.JSON(http.StatusOK, gin.H{"labels": out})
}

// Index renders the empty upload page.
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, render.PageTemplate, render.NewPage(nil, h.opts.MaxUploadBytes))
}

// UploadPage classifies the submitted images and renders one panel per file.
// Request-level failures are rendered as a banner on the same page.
func (h *Handler) UploadPage(c *gin.Context) {
	uploads, err := h.readUploads(c, FieldImages)
	if err != nil {
		h.respondPageError(c, "failed to read upload", err)
		return
	}

	outcomes, err := h.classifyBatch(c, uploads)
	if err != nil {
		h.respondPageError(c, "classification did not finish", err)
		return
	}
	for i := range outcomes {
		if outcomes[i].Err != nil {
			outcomes[i].Err = classifyError(outcomes[i].Err)
		}
	}
	c.HTML(http.StatusOK, render.PageTemplate, render.NewPage(outcomes, h.opts.MaxUploadBytes))
}

// Classify is the JSON counterpart of UploadPage.
func (h *Handler) Classify(c *gin.Context) {
	uploads, err := h.readUploads(c, FieldImages)
	if err != nil {
		h.respondError(c, "failed to read upload", err)
		return
	}

	outcomes, err := h.classifyBatch(c, uploads)
	if err != nil {
		h.respondError(c, "classification did not finish", err)
		return
	}

	results := make([]Result, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			results = append(results, Result{
				File:  o.Name,
				Error: apperrors.PublicMessage(classifyError(o.Err), "Prediction failed"),
			})
			continue
		}
		results = append(results, newResult(o.Name, o.Prediction))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Predict classifies a tensor that the caller already preprocessed.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, "invalid request", apperrors.NewValidationError("Invalid JSON", err))
		return
	}

	if want := h.svc.TensorLen(); len(req.Image) != want {
		h.respondError(c, "invalid request", apperrors.NewValidationError(
			fmt.Sprintf("Expected %d values, got %d", want, len(req.Image)), classifier.ErrTensorSize))
		return
	}

	p, err := h.svc.ClassifyTensor(req.Image)
	if err != nil {
		h.respondError(c, "prediction failed", classifyError(err))
		return
	}
	c.JSON(http.StatusOK, newResult("", p))
}

// PredictFromImage classifies the single file in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	fh, err := c.FormFile(FieldImage)
	if err != nil {
		if tooLarge(err) {
			h.respondError(c, "failed to read upload", apperrors.NewTooLargeError("upload exceeds size limit", err))
			return
		}
		h.respondError(c, "missing image", apperrors.NewValidationError(
			fmt.Sprintf("No image file provided. Use '%s' as the form field name", FieldImage), err))
		return
	}

	upload, err := readFile(fh)
	if err != nil {
		h.respondError(c, "failed to read upload", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"file":  fh.Filename,
		"bytes": fh.Size,
	}).Debug("Received file")

	p, err := h.svc.Classify(upload.Data)
	if err != nil {
		h.respondError(c, "prediction failed", classifyError(err))
		return
	}
	c.JSON(http.StatusOK, newResult(fh.Filename, p))
}

func (h *Handler) classifyBatch(c *gin.Context, uploads []classifier.Upload) ([]classifier.Outcome, error) {
	ctx := c.Request.Context()
	if h.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.RequestTimeout)
		defer cancel()
	}

	outcomes := h.svc.ClassifyBatch(ctx, uploads)
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.NewUnavailableError("request timed out", err)
	}
	return outcomes, nil
}

// readUploads returns every file in field, in submission order. Empty file
// inputs, which browsers send when nothing was selected, are skipped.
func (h *Handler) readUploads(c *gin.Context, field string) ([]classifier.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if tooLarge(err) {
			return nil, apperrors.NewTooLargeError("upload exceeds size limit", err)
		}
		return nil, apperrors.NewValidationError("expected a multipart/form-data upload", err)
	}

	var uploads []classifier.Upload
	for _, fh := range form.File[field] {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		u, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func readFile(fh *multipart.FileHeader) (classifier.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return classifier.Upload{}, apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return classifier.Upload{}, apperrors.NewInternalError("failed to read upload", err)
	}
	return classifier.Upload{Name: fh.Filename, Data: data}, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}

// classifyError maps service errors onto HTTP-aware AppErrors.
func classifyError(err error) error {
	switch {
	case errors.Is(err, preprocess.ErrDecode), errors.Is(err, preprocess.ErrEmptyImage):
		return apperrors.NewProcessingError("Invalid image format. Supported: JPEG, PNG", err)
	case errors.Is(err, classifier.ErrTensorSize):
		return apperrors.NewValidationError("tensor does not match the model input", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUnavailableError("request timed out", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewUnavailableError("request cancelled", err)
	default:
		return apperrors.NewInternalError("Prediction failed", err)
	}
}

// respondError logs err in full and sends the client only the AppError's
// Message, falling back to message.
func (h *Handler) respondError(c *gin.Context, message string, err error) {
	code := h.logFailure(c, message, err)
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: apperrors.PublicMessage(err, message),
	})
}

// respondPageError is respondError for the HTML upload page.
func (h *Handler) respondPageError(c *gin.Context, message string, err error) {
	code := h.logFailure(c, message, err)
	c.Abort()
	c.HTML(code, render.PageTemplate, render.NewErrorPage(err, h.opts.MaxUploadBytes))
}

func (h *Handler) logFailure(c *gin.Context, message string, err error) int {
	code := apperrors.StatusCode(err)

	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"request_id":  c.GetString(middleware.RequestIDKey),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request failed")
	}
	return code
}
