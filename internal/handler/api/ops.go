package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/handler/jobs"
	"AutoTrader/internal/scheduler"
	xhttp "AutoTrader/pkg/http"
	xlogger "AutoTrader/pkg/logger"
	"AutoTrader/pkg/util"
)

const maxQueryDays = 366

// Journal is the trade journal plus per-strategy statistics.
type Journal interface {
	domrepo.TradeJournal
	StrategyStatistics(strategy, date string) (models.StrategyStats, error)
}

type SessionReporter interface {
	Status(now time.Time) models.SessionState
}

type PerformanceReporter interface {
	PerformanceSummary() models.PerformanceSummary
}

type JobLister interface {
	Jobs() []scheduler.JobInfo
}

type KnowledgeReader interface {
	Recent(n int) ([]models.KnowledgeEntry, error)
}

// TradeAnalytics is the SQL mirror of the journal.
type TradeAnalytics interface {
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Trade, error)
}

type JobTrigger interface {
	Trigger(ctx context.Context, name, source string) (jobs.Result, error)
}

// RunLimiter throttles run-now requests per job name.
type RunLimiter interface {
	Allow(key string) bool
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the read models and triggers behind the operator API. Journal,
// Session and Location are required; the rest disable their routes' data
// when nil.
type Deps struct {
	Journal     Journal
	Session     SessionReporter
	Performance PerformanceReporter
	Jobs        JobLister
	Knowledge   KnowledgeReader
	Analytics   TradeAnalytics
	Runner      JobTrigger
	Limiter     RunLimiter
	Health      map[string]HealthCheck
	Location    *time.Location
}

// OpsHandler serves health, status, journal and run-now endpoints.
type OpsHandler struct {
	d      Deps
	logger *xlogger.Logger
	now    func() time.Time
}

func NewOpsHandler(logger *xlogger.Logger, d Deps) *OpsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &OpsHandler{d: d, logger: logger.Component("ops_api"), now: time.Now}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/journal/dates", h.JournalDates)
	g.GET("/journal/trades", h.JournalTrades)
	g.GET("/journal/export", h.JournalExport)
	g.GET("/journal/stats", h.JournalStats)
	g.GET("/knowledge", h.Knowledge)
	g.GET("/analytics/trades", h.AnalyticsTrades)
	g.POST("/jobs/:name", h.RunJob)
}

// Health runs every check with a short deadline; any failure is a 503.
func (h *OpsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.d.Health))
	for name, check := range h.d.Health {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	return c.JSON(status, map[string]interface{}{"status": state, "checks": checks})
}

type statusResponse struct {
	Session     models.SessionState        `json:"session"`
	Performance *models.PerformanceSummary `json:"performance,omitempty"`
	Jobs        []scheduler.JobInfo        `json:"jobs,omitempty"`
}

func (h *OpsHandler) Status(c echo.Context) error {
	res := statusResponse{}
	if h.d.Session != nil {
		res.Session = h.d.Session.Status(h.now())
	}
	if h.d.Performance != nil {
		p := h.d.Performance.PerformanceSummary()
		res.Performance = &p
	}
	if h.d.Jobs != nil {
		res.Jobs = h.d.Jobs.Jobs()
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OpsHandler) JournalDates(c echo.Context) error {
	dates, err := h.d.Journal.AvailableDates()
	if err != nil {
		h.logger.Error("list journal dates", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not list journal dates").WithError(err))
	}
	return xhttp.ListResponse(c, dates, int64(len(dates)))
}

func (h *OpsHandler) JournalTrades(c echo.Context) error {
	req := &models.TradesQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, appErr := h.dateRange(req.From, req.To)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	trades, err := h.d.Journal.Query(c.Request().Context(), from, to, domrepo.TradeFilter{
		Symbol:   strings.ToUpper(req.Symbol),
		Status:   models.TradeStatus(req.Status),
		Strategy: req.Strategy,
		Side:     models.Side(req.Side),
	})
	if err != nil {
		h.logger.Error("query journal", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not read journal").WithError(err))
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

// JournalExport streams the trades of [from, to] as CSV.
func (h *OpsHandler) JournalExport(c echo.Context) error {
	from, to, appErr := h.dateRange(c.QueryParam("from"), c.QueryParam("to"))
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	name := "trades_" + from.Format(util.DateLayout) + "_" + to.Format(util.DateLayout) + ".csv"
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	res.WriteHeader(http.StatusOK)
	if err := h.d.Journal.ExportCSV(c.Request().Context(), from, to, res); err != nil {
		// headers are already sent
		h.logger.Error("export journal", xlogger.Error(err))
	}
	return nil
}

func (h *OpsHandler) JournalStats(c echo.Context) error {
	req := &models.StatsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date := req.Date
	if date == "" {
		date = h.d.Journal.DateOf(h.now())
	}

	if req.Strategy != "" {
		stats, err := h.d.Journal.StrategyStatistics(req.Strategy, date)
		if err != nil {
			h.logger.Error("strategy statistics", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("could not compute statistics").WithError(err))
		}
		return xhttp.SuccessResponse(c, stats)
	}
	stats, err := h.d.Journal.DailyStatistics(date)
	if err != nil {
		h.logger.Error("daily statistics", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not compute statistics").WithError(err))
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *OpsHandler) Knowledge(c echo.Context) error {
	req := &models.KnowledgeQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.d.Knowledge == nil {
		return xhttp.ListResponse(c, []models.KnowledgeEntry{}, 0)
	}
	entries, err := h.d.Knowledge.Recent(req.N)
	if err != nil {
		h.logger.Error("read knowledge base", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not read knowledge base").WithError(err))
	}
	if entries == nil {
		entries = []models.KnowledgeEntry{}
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *OpsHandler) AnalyticsTrades(c echo.Context) error {
	if h.d.Analytics == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("trade analytics are disabled"))
	}
	req := &models.AnalyticsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, appErr := h.dateRange(req.From, req.To)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	trades, err := h.d.Analytics.Query(c.Request().Context(), strings.ToUpper(req.Symbol), from, to.AddDate(0, 0, 1), req.Limit)
	if err != nil {
		h.logger.Error("analytics query", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("analytics query failed").WithError(err))
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

// RunJob queues or runs train, trade or rebalance. Queued runs answer 202.
func (h *OpsHandler) RunJob(c echo.Context) error {
	if h.d.Runner == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("job runner is disabled"))
	}
	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.d.Limiter != nil && !h.d.Limiter.Allow(req.Name) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("job "+req.Name+" was triggered too recently"))
	}

	res, err := h.d.Runner.Trigger(c.Request().Context(), req.Name, "api")
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown job %s", req.Name))
	case err != nil:
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("job %s failed", req.Name).WithError(err))
	case res.Queued:
		return xhttp.DataResponse(c, http.StatusAccepted, res)
	}
	return xhttp.SuccessResponse(c, res)
}

// dateRange parses from and to as journal days; both default to today and
// to defaults to from.
func (h *OpsHandler) dateRange(fromS, toS string) (time.Time, time.Time, *xhttp.AppError) {
	loc := h.d.Location
	today, _ := util.ParseDate(h.d.Journal.DateOf(h.now()), loc)

	from, to := today, today
	if fromS != "" {
		t, ok := util.ParseDate(fromS, loc)
		if !ok {
			return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid from %q", fromS)
		}
		from, to = t, t
	}
	if toS != "" {
		t, ok := util.ParseDate(toS, loc)
		if !ok {
			return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid to %q", toS)
		}
		to = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, xhttp.BadRequestError("to is before from")
	}
	if to.Sub(from) > maxQueryDays*24*time.Hour {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("range exceeds %d days", maxQueryDays)
	}
	return from, to, nil
}

var _ xhttp.Handler = (*OpsHandler)(nil)
