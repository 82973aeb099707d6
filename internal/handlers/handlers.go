package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bunrouter"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/model"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/predict"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/reports"
)

// multipart memory kept before spilling uploads to temporary files
const maxMemory = 32 << 20

// Model is the loaded model as seen by the status endpoints.
type Model interface {
	Status() model.Status
	Info() model.Metadata
}

type Options struct {
	Version      string
	MaxFileBytes int64 // per uploaded file, 0 means unlimited
}

type Handler struct {
	service *predict.Service
	model   Model
	reports *reports.Browser
	opts    Options
	log     *log.Entry
}

func NewHandler(service *predict.Service, m Model, browser *reports.Browser, opts Options, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handler{
		service: service,
		model:   m,
		reports: browser,
		opts:    opts,
		log:     logger,
	}
}

// Register adds the API routes and the static stats mount to router.
func (h *Handler) Register(router *bunrouter.CompatRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/model-info", h.ModelInfo)
	router.POST("/predict", h.Predict)
	router.POST("/batch-predict", h.BatchPredict)
	router.GET("/reports", h.Reports)
	router.GET("/reports/*section", h.ReportSection)

	prefix := strings.TrimSuffix(reports.URLPrefix, "/")
	files := http.StripPrefix(prefix, http.FileServer(noListFS{http.Dir(h.reports.Dir())}))
	router.Router.GET(prefix+"/*path", bunrouter.HTTPHandler(files))
}

// noListFS serves files only. Directories look missing, so the file server
// answers 404 instead of listing them.
type noListFS struct {
	http.FileSystem
}

func (fs noListFS) Open(name string) (http.File, error) {
	f, err := fs.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("[Handlers] Failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps a pipeline failure to its status code.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var perr *predict.Error
	if !errors.As(err, &perr) {
		h.log.WithError(err).Error("[Handlers] Prediction error")
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Prediction failed: %v", err))
		return
	}
	status := http.StatusInternalServerError
	switch {
	case perr.Kind == predict.ModelUnavailable:
		status = http.StatusServiceUnavailable
	case perr.Kind.ClientError():
		status = http.StatusBadRequest
	}
	entry := h.log.WithError(err).WithField("kind", perr.Kind.String())
	if status == http.StatusInternalServerError {
		entry.Error("[Handlers] Prediction error")
	} else {
		entry.Info("[Handlers] Prediction rejected")
	}
	writeDetail(w, status, perr.Detail())
}

type rootResponse struct {
	Message     string            `json:"message"`
	Version     string            `json:"version"`
	ModelLoaded bool              `json:"model_loaded"`
	Endpoints   map[string]string `json:"endpoints"`
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message:     "Brain Tumor Segmentation API",
		Version:     h.opts.Version,
		ModelLoaded: h.model.Status().Loaded,
		Endpoints: map[string]string{
			"POST /predict":       "Predict tumor segmentation from uploaded image",
			"POST /batch-predict": "Tumor statistics for up to 10 uploaded images",
			"GET /health":         "Check API health status",
			"GET /model-info":     "Get model information",
			"GET /reports":        "List dataset and training report sections",
		},
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path"`
	ModelError  string `json:"model_error,omitempty"`
}

// Health is a liveness probe. It stays 200 while the model is not loaded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.model.Status()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		ModelLoaded: st.Loaded,
		ModelPath:   st.ModelPath,
		ModelError:  st.Error,
	})
}

type modelInfoResponse struct {
	ModelName    string  `json:"model_name"`
	InputShape   []int64 `json:"input_shape"`
	OutputShape  []int64 `json:"output_shape"`
	TotalParams  int64   `json:"total_params"`
	Architecture string  `json:"architecture"`
}

func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	if !h.model.Status().Loaded {
		writeDetail(w, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	info := h.model.Info()
	writeJSON(w, http.StatusOK, modelInfoResponse{
		ModelName:    info.Name,
		InputShape:   info.InputShape,
		OutputShape:  info.OutputShape,
		TotalParams:  info.TotalParams,
		Architecture: info.Architecture,
	})
}

// parseForm parses the multipart body and reports whether the request may
// continue. Failures are answered here.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeDetail(w, http.StatusBadRequest, "Failed to parse form")
		return false
	}
	return true
}

func (h *Handler) readUpload(fh *multipart.FileHeader) (predict.Upload, error) {
	file, err := fh.Open()
	if err != nil {
		return predict.Upload{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return predict.Upload{}, err
	}
	return predict.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *Handler) tooLarge(fh *multipart.FileHeader) bool {
	return h.opts.MaxFileBytes > 0 && fh.Size > h.opts.MaxFileBytes
}

func (h *Handler) fileTooLarge(w http.ResponseWriter, fh *multipart.FileHeader) {
	writeDetail(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File %s too large. Maximum size is %dMB", fh.Filename, h.opts.MaxFileBytes>>20))
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeDetail(w, http.StatusBadRequest, "No file provided. Use 'file' as the form field name")
		return
	}
	fh := files[0]
	if h.tooLarge(fh) {
		h.fileTooLarge(w, fh)
		return
	}
	upload, err := h.readUpload(fh)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	h.log.WithFields(log.Fields{
		"filename": fh.Filename,
		"size":     fh.Size,
	}).Debug("[Handlers] Received file")

	result, err := h.service.Predict(upload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) BatchPredict(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	files := r.MultipartForm.File["files"]
	uploads := make([]predict.Upload, 0, len(files))
	if len(files) <= predict.MaxBatchSize {
		for _, fh := range files {
			if h.tooLarge(fh) {
				h.fileTooLarge(w, fh)
				return
			}
			upload, err := h.readUpload(fh)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, "Failed to read uploaded file")
				return
			}
			uploads = append(uploads, upload)
		}
	} else {
		// only the count matters, PredictBatch rejects the batch unread
		for _, fh := range files {
			uploads = append(uploads, predict.Upload{Filename: fh.Filename})
		}
	}

	result, err := h.service.PredictBatch(uploads)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	sections, err := h.reports.Sections()
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sections": sections})
}

func (h *Handler) ReportSection(w http.ResponseWriter, r *http.Request) {
	name := bunrouter.ParamsFromContext(r.Context()).ByName("section")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	detail, err := h.reports.Section(name)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) writeReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reports.ErrNoReports), errors.Is(err, reports.ErrSectionNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).Error("[Handlers] Failed to read reports")
		writeDetail(w, http.StatusInternalServerError, "Failed to read reports")
	}
}
