package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/queue"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// QueueInfo describes one configured queue.
type QueueInfo struct {
	Policy queue.Policy        `json:"policy"`
	Counts map[job.State]int64 `json:"counts"`
	Active int                 `json:"active"`
}

func (a *API) listQueues(c *gin.Context) {
	policies := a.eng.Manager().Policies()
	out := make([]QueueInfo, 0, len(policies))
	for _, p := range policies {
		counts, err := a.eng.Counts(c.Request.Context(), p.Name)
		if err != nil {
			abort(c, err)
			return
		}
		out = append(out, QueueInfo{Policy: p, Counts: counts, Active: a.eng.Manager().ActiveCount(p.Name)})
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) queueCounts(c *gin.Context) {
	counts, err := a.eng.Counts(c.Request.Context(), c.Param("queue"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// listJobs handles GET /v1/jobs?state=failed&queue=email&limit=&offset=.
func (a *API) listJobs(c *gin.Context) {
	state := job.State(c.DefaultQuery("state", string(job.StateFailed)))
	if !validState(state) {
		badRequest(c, fmt.Errorf("unknown state %q", state))
		return
	}
	limit, err := intQuery(c, "limit", defaultLimit)
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		badRequest(c, err)
		return
	}

	jobs, err := a.eng.Store().ListJobsByState(c.Request.Context(), state, job.ListOpts{
		Limit:  min(limit, maxLimit),
		Offset: offset,
		Queue:  c.Query("queue"),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(jobs), "jobs": jobs})
}

func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid job ID: %w", err))
		return
	}
	j, err := a.eng.Job(c.Request.Context(), jobID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) retryJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid job ID: %w", err))
		return
	}
	j, err := a.eng.Retry(c.Request.Context(), jobID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func validState(s job.State) bool {
	for _, st := range job.States {
		if st == s {
			return true
		}
	}
	return false
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
