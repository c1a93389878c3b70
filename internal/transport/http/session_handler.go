package http

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "polarcli/internal/errors"
	"polarcli/internal/middleware"
	"polarcli/pkg/contracts/domain"
)

// uploadField is the multipart field carrying the analyzer export
const uploadField = "file"

// SessionHandlerOptions are the export defaults of the session routes
type SessionHandlerOptions struct {
	// ExportSuffix replaces the upload extension in download names
	ExportSuffix string
	// IncludeProperties is the default of the export "properties" parameter
	IncludeProperties bool
}

// SessionHandler serves the upload-convert-export workflow
type SessionHandler struct {
	service      SessionServiceInterface
	opts         SessionHandlerOptions
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewSessionHandler creates a session handler with RFC 7807 error handling
func NewSessionHandler(service SessionServiceInterface, opts SessionHandlerOptions, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *SessionHandler {
	if opts.ExportSuffix == "" {
		opts.ExportSuffix = "_stokes.csv"
	}
	return &SessionHandler{
		service:      service,
		opts:         opts,
		logger:       logger.With(slog.String("component", "session_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the session routes
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Route("/{id}", func(r chi.Router) {
		r.Use(h.SessionCtx)
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/convert", h.Convert)
		r.Get("/properties", h.Properties)
		r.Get("/summary", h.Summary)
		r.Get("/roundtrip", h.RoundTrip)
		r.Get("/export", h.Export)
	})

	return r
}

// SessionCtx rejects requests without a session id
func (h *SessionHandler) SessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "" {
			h.errorHandler.HandleError(w, r, apierrors.NewAppValidationError("session id is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Create handles POST /api/v1/sessions with a multipart "file" field
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			apierrors.CodeInvalidRequest,
			"Expected a multipart/form-data upload",
			map[string]interface{}{"field": uploadField},
		))
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		info, err := h.service.Create(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}

		h.logger.InfoContext(r.Context(), "session created",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("session_id", info.ID),
			slog.String("name", info.Name))

		w.Header().Set("Location", r.URL.Path+"/"+info.ID)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, info)
		return
	}

	h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
		{Field: uploadField, Message: "a file upload is required"},
	}))
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.List()
	render.JSON(w, r, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Convert handles POST /api/v1/sessions/{id}/convert
func (h *SessionHandler) Convert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.service.Convert(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"session_id":      id,
		"count":           st.Len(),
		"degenerate_rows": st.DegenerateRows,
		"rows":            st.Records(),
	})
}

// Properties handles GET /api/v1/sessions/{id}/properties
func (h *SessionHandler) Properties(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	props, err := h.service.Properties(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"session_id": id,
		"count":      props.Len(),
		"rows":       props.Records(),
	})
}

// Summary handles GET /api/v1/sessions/{id}/summary?format=json|text
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	format, err := middleware.QueryEnum(r, "format", []string{"json", "text"}, "json")
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	summary, err := h.service.Summary(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if format == "text" {
		render.PlainText(w, r, summary.String())
		return
	}
	render.JSON(w, r, summary)
}

// RoundTrip handles GET /api/v1/sessions/{id}/roundtrip?tolerance=
func (h *SessionHandler) RoundTrip(w http.ResponseWriter, r *http.Request) {
	tolerance, err := middleware.QueryFloat(r, "tolerance", 0, 1, 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	report, err := h.service.RoundTrip(r.Context(), chi.URLParam(r, "id"), tolerance)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, struct {
		*domain.RoundTripReport
		Passed bool `json:"passed"`
	}{report, report.Passed()})
}

// Export handles GET /api/v1/sessions/{id}/export?properties=true|false.
// The CSV is built before any header is written so failures still produce
// a problem response.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	includeProperties, err := middleware.QueryBool(r, "properties", h.opts.IncludeProperties)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), id, &buf, includeProperties); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	name, err := h.service.ExportName(id, h.opts.ExportSuffix)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "exporting session",
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("session_id", id),
		slog.String("filename", name),
		slog.Bool("properties", includeProperties),
		slog.Int("bytes", buf.Len()))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(r.Context(), "export write interrupted",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
}
