package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aegis/internal/logger"
	"aegis/internal/pkg/circuit"
	"aegis/internal/risk"
	"aegis/internal/signal"
	"aegis/internal/store"

	"github.com/gin-gonic/gin"
)

// SignalReader 是 API 用到的信号库只读子集。
type SignalReader interface {
	Get(ctx context.Context, id int64) (signal.Record, error)
	List(ctx context.Context, q store.Query) ([]signal.Record, error)
	OutcomeStats(ctx context.Context, since time.Time) (store.Stats, error)
	Ping(ctx context.Context) error
}

type RiskReader interface {
	LoadRiskState(ctx context.Context, sessionDate string) (risk.CircuitBreakerState, error)
}

// Router 暴露 /api 下的查询接口。Audit 为空时 /api/audit 返回 503。
type Router struct {
	Signals     SignalReader
	Risk        RiskReader
	Audit       store.AuditLog
	SessionDate func(time.Time) string
	Now         func() time.Time
	// FeedStatus 可选，返回行情源熔断器状态。
	FeedStatus func() circuit.Snapshot
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/signals", r.handleSignals)
	group.GET("/signals/:id", r.handleSignalByID)
	group.GET("/stats", r.handleStats)
	group.GET("/risk", r.handleRisk)
	group.GET("/audit", r.handleAudit)
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Router) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	if r.FeedStatus != nil {
		body["feed"] = r.FeedStatus()
	}
	if err := r.Signals.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (r *Router) handleSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := store.Query{
		StockCode: strings.ToUpper(strings.TrimSpace(c.Query("stock"))),
		Limit:     limit,
		Offset:    offset,
	}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			st := signal.TraceStatus(strings.ToLower(strings.TrimSpace(part)))
			if st == "" {
				continue
			}
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + part})
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if since, ok, err := parseTimeParam(c.Query("since")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
		return
	} else if ok {
		q.Since = since
	}
	if until, ok, err := parseTimeParam(c.Query("until")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until"})
		return
	} else if ok {
		q.Until = until
	}
	recs, err := r.Signals.List(c.Request.Context(), q)
	if err != nil {
		r.fail(c, "list signals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": recs, "limit": limit, "offset": offset})
}

func (r *Router) handleSignalByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rec, err := r.Signals.Get(c.Request.Context(), id)
	if err != nil {
		r.fail(c, "get signal", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleStats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	stats, err := r.Signals.OutcomeStats(c.Request.Context(), r.now().AddDate(0, 0, -days))
	if err != nil {
		r.fail(c, "outcome stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stats": stats, "win_rate": stats.WinRate()})
}

func (r *Router) handleRisk(c *gin.Context) {
	if r.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk state unavailable"})
		return
	}
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		if r.SessionDate != nil {
			date = r.SessionDate(r.now())
		} else {
			date = r.now().Format(time.DateOnly)
		}
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	st, err := r.Risk.LoadRiskState(c.Request.Context(), date)
	if err != nil {
		r.fail(c, "load risk state", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := r.Audit.Recent(c.Request.Context(), store.AuditQuery{
		StockCode: strings.ToUpper(strings.TrimSpace(c.Query("stock"))),
		Kind:      strings.ToLower(strings.TrimSpace(c.Query("kind"))),
		Limit:     limit,
	})
	if err != nil {
		r.fail(c, "audit recent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (r *Router) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrStoreUnavailable):
		logger.Errorf("[api] %s failed ip=%s err=%v", op, c.ClientIP(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Errorf("[api] %s failed ip=%s err=%v", op, c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// parseTimeParam 接受 RFC3339、YYYY-MM-DD 或毫秒时间戳。
func parseTimeParam(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}
