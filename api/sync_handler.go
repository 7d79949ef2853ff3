package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/record"
	"github.com/hirelane/taskcore/syncer"
)

// SyncStatsResponse is the body of GET /v1/sync/stats.
type SyncStatsResponse struct {
	Types    map[record.Type]syncer.Summary `json:"types"`
	Dispatch *intercept.Stats               `json:"dispatch,omitempty"`
}

// ReconcileRequest is the body of POST /v1/sync/reconcile. An empty
// Entity reconciles every diverging type.
type ReconcileRequest struct {
	Entity string `json:"entity"`
	Mode   string `json:"mode" binding:"omitempty,oneof=full differential"`
}

func (a *API) syncStats(c *gin.Context) {
	types, err := a.reconciler.SyncStats(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	resp := SyncStatsResponse{Types: types}
	if a.supervisor != nil {
		st := a.supervisor.Stats()
		resp.Dispatch = &st
	}
	c.JSON(http.StatusOK, resp)
}

// syncDiff reports primary and index counts and whether they diverge.
func (a *API) syncDiff(c *gin.Context) {
	stats, err := a.reconciler.Stats(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	out := make(map[record.Type]gin.H, len(stats))
	for t, s := range stats {
		out[t] = gin.H{"primary_count": s.PrimaryCount, "index_count": s.IndexCount, "needs_sync": syncer.NeedsSync(s)}
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	mode := syncer.ModeDifferential
	if req.Mode != "" {
		m, err := syncer.ParseMode(req.Mode)
		if err != nil {
			badRequest(c, err)
			return
		}
		mode = m
	}

	ctx := c.Request.Context()
	if req.Entity == "" {
		reports, err := a.reconciler.ReconcileAll(ctx, mode)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
		return
	}

	t, err := record.ParseType(req.Entity)
	if err != nil {
		badRequest(c, err)
		return
	}
	report, err := a.reconciler.Reconcile(ctx, t, mode)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": []syncer.Report{report}})
}
