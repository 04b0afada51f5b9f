package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"TickWatch/internal/domain/models"
	domrepo "TickWatch/internal/domain/repository"
	"TickWatch/internal/service/ratelimit"
	"TickWatch/internal/usecase"
	xhttp "TickWatch/pkg/http"
	xlogger "TickWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Session is the controller surface the API drives.
type Session interface {
	SessionID() string
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context) error
	Snapshot() models.SessionSnapshot
	Ticks(limit int) []models.Tick
}

// LifecycleFirer runs cleanup for a trigger.
type LifecycleFirer interface {
	Fire(ctx context.Context, trigger usecase.Trigger) bool
}

// Markets lists the backend's markets through the cache.
type Markets interface {
	List(ctx context.Context) ([]models.Market, error)
	Refresh(ctx context.Context) ([]models.Market, error)
}

// StatsSource returns the last polled stats.
type StatsSource interface {
	Last() *models.Stats
}

// HealthChecker probes the backend.
type HealthChecker interface {
	Health(ctx context.Context) (*models.HealthResponse, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// DashboardEchoHandler serves the local API the dashboard UI talks to.
type DashboardEchoHandler struct {
	logger   *xlogger.Logger
	session  Session
	guard    LifecycleFirer
	markets  Markets
	stats    StatsSource
	backend  HealthChecker
	settings domrepo.SettingsStore
	history  domrepo.Storage
	hub      *Hub
	limiter  *ratelimit.Limiter
}

func NewDashboardEchoHandler(
	logger *xlogger.Logger,
	session Session,
	guard LifecycleFirer,
	markets Markets,
	stats StatsSource,
	backend HealthChecker,
	settings domrepo.SettingsStore,
	hub *Hub,
	limiter *ratelimit.Limiter,
) *DashboardEchoHandler {
	return &DashboardEchoHandler{
		logger:   logger,
		session:  session,
		guard:    guard,
		markets:  markets,
		stats:    stats,
		backend:  backend,
		settings: settings,
		hub:      hub,
		limiter:  limiter,
	}
}

// WithHistory enables /api/history on top of recorded ticks.
func (h *DashboardEchoHandler) WithHistory(s domrepo.Storage) *DashboardEchoHandler {
	h.history = s
	return h
}

func (h *DashboardEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/state", h.State)
	g.GET("/ticks", h.Ticks)
	g.GET("/history", h.History)
	g.POST("/subscribe", h.Subscribe, h.rateLimited("subscribe"))
	g.POST("/unsubscribe", h.Unsubscribe, h.rateLimited("unsubscribe"))
	g.POST("/lifecycle/:trigger", h.Lifecycle)
	g.GET("/markets", h.Markets)
	g.GET("/stats", h.Stats)
	g.GET("/ws", h.hub.ServeWS)

	s := g.Group("/settings")
	s.GET("", h.ListSettings)
	s.POST("", h.CreateSetting)
	s.GET("/:key", h.GetSetting)
	s.PUT("/:key", h.PutSetting)
	s.DELETE("/:key", h.DeleteSetting)
}

func (h *DashboardEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	snap := h.session.Snapshot()
	res := map[string]any{
		"status":     "ok",
		"session_id": snap.SessionID,
		"phase":      snap.Phase,
		"viewers":    h.hub.Viewers(),
	}
	if bh, err := h.backend.Health(ctx); err != nil {
		res["backend"] = "unreachable"
		res["status"] = "degraded"
	} else {
		res["backend"] = bh.Status
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *DashboardEchoHandler) State(c echo.Context) error {
	snap := h.session.Snapshot()
	snap.Ticks = nil
	return xhttp.SuccessResponse(c, snap)
}

func (h *DashboardEchoHandler) Ticks(c echo.Context) error {
	req := &models.TicksQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ticks := h.session.Ticks(req.Limit)
	return xhttp.ListResponse(c, ticks, int64(len(ticks)))
}

func (h *DashboardEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("tick history is not recorded; set sink.type to clickhouse"))
	}
	req := &models.HistoryQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	to := time.Now()
	if req.To > 0 {
		to = time.Unix(req.To, 0)
	}
	from := to.Add(-time.Hour)
	if req.From > 0 {
		from = time.Unix(req.From, 0)
	}
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must not be after to"))
	}

	recs, err := h.history.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *DashboardEchoHandler) Subscribe(c echo.Context) error {
	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.session.Subscribe(c.Request().Context(), req.Symbol); err != nil {
		return h.sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

func (h *DashboardEchoHandler) Unsubscribe(c echo.Context) error {
	if err := h.session.Unsubscribe(c.Request().Context()); err != nil {
		return h.sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

// Lifecycle lets a page report hide/unload, typically via navigator.sendBeacon.
func (h *DashboardEchoHandler) Lifecycle(c echo.Context) error {
	req := &models.LifecycleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trigger, _ := usecase.ParseTrigger(req.Trigger)
	ran := h.guard.Fire(c.Request().Context(), trigger)
	return xhttp.SuccessResponse(c, map[string]any{"trigger": trigger, "cleaned": ran})
}

func (h *DashboardEchoHandler) Markets(c echo.Context) error {
	req := &models.MarketsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	list := h.markets.List
	if req.Refresh {
		list = h.markets.Refresh
	}
	markets, err := list(c.Request().Context())
	if err != nil {
		h.logger.Error("markets unavailable", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("failed to load markets").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=30")
	return xhttp.ListResponse(c, markets, int64(len(markets)))
}

// Stats serves the last poll, fetching directly before the first one lands.
func (h *DashboardEchoHandler) Stats(c echo.Context) error {
	if s := h.stats.Last(); s != nil {
		return xhttp.SuccessResponse(c, s)
	}
	s, err := h.backend.Stats(c.Request().Context())
	if err != nil {
		return h.upstreamError(c, "failed to fetch stats", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *DashboardEchoHandler) ListSettings(c echo.Context) error {
	settings, err := h.settings.ListSettings(c.Request().Context())
	if err != nil {
		return h.upstreamError(c, "failed to list settings", err)
	}
	return xhttp.SuccessResponse(c, models.SettingsResponse{Settings: settings})
}

func (h *DashboardEchoHandler) GetSetting(c echo.Context) error {
	key := c.Param("key")
	s, err := h.settings.GetSetting(c.Request().Context(), key)
	if err != nil {
		return h.upstreamError(c, "failed to get setting "+key, err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *DashboardEchoHandler) PutSetting(c echo.Context) error {
	req := &models.SettingValueRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.settings.PutSetting(c.Request().Context(), req.Key, req.Value)
	if err != nil {
		return h.upstreamError(c, "failed to update setting "+req.Key, err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *DashboardEchoHandler) CreateSetting(c echo.Context) error {
	req := &models.Setting{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}
	s, err := h.settings.CreateSetting(c.Request().Context(), req)
	if err != nil {
		return h.upstreamError(c, "failed to create setting "+req.Key, err)
	}
	return xhttp.CreatedResponse(c, s)
}

func (h *DashboardEchoHandler) DeleteSetting(c echo.Context) error {
	key := c.Param("key")
	if err := h.settings.DeleteSetting(c.Request().Context(), key); err != nil {
		return h.upstreamError(c, "failed to delete setting "+key, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *DashboardEchoHandler) rateLimited(action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !h.limiter.Allow(c.RealIP() + ":" + action) {
				h.logger.Warn("rate limited",
					xlogger.String("action", action),
					xlogger.String("remote", c.RealIP()),
				)
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests, slow down"))
			}
			return next(c)
		}
	}
}

func (h *DashboardEchoHandler) sessionError(c echo.Context, err error) error {
	var (
		appErr   *xhttp.AppError
		rejected *usecase.RejectedError
	)
	switch {
	case errors.Is(err, usecase.ErrEmptySymbol):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, usecase.ErrBusy),
		errors.Is(err, usecase.ErrAlreadySubscribed),
		errors.Is(err, usecase.ErrNotSubscribed),
		errors.Is(err, usecase.ErrReleased):
		appErr = xhttp.ConflictError(err.Error())
	case errors.As(err, &rejected):
		appErr = xhttp.UnprocessableError(rejected.Message).WithParam("symbol", rejected.Symbol)
	default:
		h.logger.Error("session request failed", xlogger.Error(err))
		appErr = xhttp.BadGatewayError("backend request failed").WithError(err)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// upstreamError keeps the backend's 4xx status and message; anything else is a 502.
func (h *DashboardEchoHandler) upstreamError(c echo.Context, msg string, err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		m := se.Message()
		if m == "" {
			m = http.StatusText(se.Code)
		}
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_BACKEND", "", m, se.Code).WithError(err))
	}
	h.logger.Error(msg, xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.BadGatewayError(msg).WithError(err))
}
