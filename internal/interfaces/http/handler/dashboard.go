package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/erp/orderboard/internal/application/livecache"
	"github.com/erp/orderboard/internal/application/report"
	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/erp/orderboard/internal/infrastructure/storage"
	"github.com/erp/orderboard/internal/interfaces/http/dto"
	"github.com/erp/orderboard/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EditPublisher relays edit results to the dashboards of other instances
type EditPublisher interface {
	Publish(ctx context.Context, ev order.ChangeEvent) error
}

// DashboardHandler serves dashboard sessions
type DashboardHandler struct {
	BaseHandler
	manager      *dashboard.Manager
	publisher    EditPublisher
	archive      storage.Archive
	exportPrefix string
	location     *time.Location
	clock        func() time.Time
}

// DashboardOption configures a DashboardHandler
type DashboardOption func(*DashboardHandler)

// WithEditPublisher enables relaying edit results
func WithEditPublisher(p EditPublisher) DashboardOption {
	return func(h *DashboardHandler) { h.publisher = p }
}

// WithExportArchive enables archived exports under prefix
func WithExportArchive(a storage.Archive, prefix string) DashboardOption {
	return func(h *DashboardHandler) {
		h.archive = a
		h.exportPrefix = prefix
	}
}

// WithLocation sets the time zone calendar dates in criteria are read in
func WithLocation(loc *time.Location) DashboardOption {
	return func(h *DashboardHandler) {
		if loc != nil {
			h.location = loc
		}
	}
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(manager *dashboard.Manager, opts ...DashboardOption) *DashboardHandler {
	h := &DashboardHandler{
		manager:  manager,
		location: time.UTC,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// session resolves the :id session for the authenticated viewer and tags
// the request logger with it
func (h *DashboardHandler) session(c *gin.Context) (*dashboard.Session, bool) {
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return nil, false
	}
	id := c.Param("id")
	s, err := h.manager.GetFor(id, viewer.ID)
	if err != nil {
		// Sessions of other viewers are reported as missing
		if errors.Is(err, shared.ErrForbidden) {
			err = shared.ErrNotFound
		}
		h.HandleError(c, err)
		return nil, false
	}
	c.Set(logger.GinSessionIDKey, id)
	ctx := c.Request.Context()
	ctx, _ = logger.WithSessionID(ctx, logger.FromContext(ctx), id)
	c.Request = c.Request.WithContext(ctx)
	return s, true
}

// ListDashboards returns the registered dashboards
func (h *DashboardHandler) ListDashboards(c *gin.Context) {
	names := livecache.Names()
	out := make([]dto.DashboardInfo, 0, len(names))
	for _, name := range names {
		d := livecache.MustLookup(name)
		out = append(out, dto.DashboardInfo{Name: d.Name, Description: d.Description})
	}
	h.Success(c, out)
}

// OpenSession opens a session for the authenticated viewer. The session is
// created even when the first fetch fails; the failure shows up in its
// notifications.
func (h *DashboardHandler) OpenSession(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}

	s, err := h.manager.Open(c.Request.Context(), dashboard.OpenRequest{
		Viewer:    viewer,
		Dashboard: req.Dashboard,
		Token:     middleware.GetToken(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if req.Criteria != nil {
		criteria, err := req.Criteria.ToCriteria(h.location)
		if err == nil {
			err = s.SetCriteria(c.Request.Context(), criteria)
		} else {
			err = fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		if err != nil {
			_ = h.manager.Close(s.ID())
			h.HandleError(c, err)
			return
		}
	}
	h.Created(c, dto.NewSessionResponse(s))
}

// ListSessions returns the viewer's open sessions
func (h *DashboardHandler) ListSessions(c *gin.Context) {
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}
	ids := h.manager.SessionsOf(viewer.ID)
	out := make([]dto.SessionResponse, 0, len(ids))
	for _, id := range ids {
		if s, err := h.manager.Get(id); err == nil {
			out = append(out, dto.NewSessionResponse(s))
		}
	}
	h.Success(c, out)
}

// GetSession describes one session
func (h *DashboardHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Success(c, dto.NewSessionResponse(s))
}

// CloseSession closes a session
func (h *DashboardHandler) CloseSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.manager.Close(s.ID()); err != nil && !errors.Is(err, shared.ErrNotFound) {
		logger.GetGinLogger(c).Warn("session close reported an error", zap.Error(err))
	}
	h.NoContent(c)
}

// GetView returns the display rows of the current view
func (h *DashboardHandler) GetView(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	rows, view := s.Display()
	h.SuccessWithMeta(c, dto.ViewResponse{Criteria: view.Criteria, Rows: rows}, dto.Meta{
		Total:           len(rows),
		Generation:      view.Generation,
		CacheGeneration: view.CacheGeneration,
	})
}

// SetCriteria replaces the session's criteria
func (h *DashboardHandler) SetCriteria(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.CriteriaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	criteria, err := req.ToCriteria(h.location)
	if err != nil {
		h.HandleError(c, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := s.SetCriteria(c.Request.Context(), criteria); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, s.Criteria())
}

// SetSearch updates the search term. The term is applied once typing has
// settled unless the request asks for it to apply immediately.
func (h *DashboardHandler) SetSearch(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	s.SetSearch(req.Term)
	if req.Immediate {
		s.FlushSearch()
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(gin.H{"term": req.Term, "immediate": req.Immediate}))
}

// Refresh reloads the session's orders from the order service
func (h *DashboardHandler) Refresh(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Refresh(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.RefreshResponse{CacheSize: s.Cache().Len(), Generation: s.Cache().Generation()})
}

// ApplyEdit writes a successful edit's result into the session and,
// when asked, relays it to every other session through the push channel
func (h *DashboardHandler) ApplyEdit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.EditResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	outcome, err := s.ApplyEditResult(c.Request.Context(), req.Order)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.EditResultResponse{Outcome: string(outcome), Generation: s.Cache().Generation()}
	if req.Publish && h.publisher != nil {
		rec, err := order.Decode(req.Order, s.Viewer())
		if err == nil {
			err = h.publisher.Publish(c.Request.Context(), order.ChangeEvent{
				OperationType: order.OperationUpdate,
				DocumentID:    rec.ID,
				FullDocument:  req.Order,
			})
		}
		if err != nil {
			logger.GetGinLogger(c).Warn("failed to relay edit result", zap.Error(err))
		} else {
			resp.Published = true
		}
	}
	h.Success(c, resp)
}

// GetRollups aggregates the current view
func (h *DashboardHandler) GetRollups(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var q dto.RollupQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	rollups, err := s.Rollups(dashboard.RollupOptions{Team: q.IsTeam()})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRollupResponse(rollups))
}

// Export writes the rollup as CSV, either as the response body or into the
// export archive with a download link in the response
func (h *DashboardHandler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var q dto.ExportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	rollups, err := s.Rollups(dashboard.RollupOptions{Team: q.IsTeam()})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rollups.ExportRows()); err != nil {
		h.HandleError(c, err)
		return
	}

	kind := rollups.Mode
	if !q.Archive {
		name := fmt.Sprintf("%s-%s-%s.csv", s.Dashboard().Name, kind, h.clock().UTC().Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	if h.archive == nil {
		h.ErrorWithCode(c, dto.ErrCodeExportUnavailable, "Export archiving is not configured")
		return
	}
	key := storage.ExportKey(h.exportPrefix, s.Viewer().ID, s.Dashboard().Name, kind, h.clock())
	stored, err := h.archive.Store(c.Request.Context(), key, buf.Bytes(), "text/csv")
	if err != nil {
		logger.GetGinLogger(c).Error("failed to archive export", zap.String("key", key), zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeExportUnavailable, "The export could not be stored")
		return
	}
	h.Created(c, dto.ExportResponse{Key: stored.Key, URL: stored.URL, ExpiresAt: stored.ExpiresAt, Size: stored.Size})
}

// Notifications drains the session's pending notifications
func (h *DashboardHandler) Notifications(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	out := make([]dashboard.Notification, 0)
	ch := s.Notifications()
	for {
		select {
		case n, open := <-ch:
			if !open {
				h.Success(c, out)
				return
			}
			out = append(out, n)
		default:
			h.Success(c, out)
			return
		}
	}
}

// ExportLink issues a fresh download link for one of the viewer's archived
// exports
func (h *DashboardHandler) ExportLink(c *gin.Context) {
	viewer, ok := middleware.GetViewer(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return
	}
	if h.archive == nil {
		h.ErrorWithCode(c, dto.ErrCodeExportUnavailable, "Export archiving is not configured")
		return
	}
	key := c.Query("key")
	if key == "" || !storage.OwnedBy(key, h.exportPrefix, viewer.ID) {
		h.HandleError(c, shared.ErrNotFound)
		return
	}
	link, expiresAt, err := h.archive.DownloadURL(c.Request.Context(), key)
	if err != nil {
		logger.GetGinLogger(c).Error("failed to sign export link", zap.String("key", key), zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeExportUnavailable, "The export link could not be created")
		return
	}
	h.Success(c, dto.ExportResponse{Key: key, URL: link, ExpiresAt: expiresAt})
}

// MemoryDownload serves exports kept by a MemoryArchive. It is only mounted
// when no bucket is configured.
func MemoryDownload(archive *storage.MemoryArchive) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		data, ok := archive.Get(key)
		if !ok {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "Export not found"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	}
}
