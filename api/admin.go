package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
}

// ListFailedJobs pages the dead-letter queue. ?limit= and ?offset= are
// optional.
func (a Api) ListFailedJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	failed, err := a.kpata.ListFailedJobs(c.Request.Context(), limit, offset)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, failed)
}

func (a Api) ReviewFailedJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := a.kpata.ReviewFailedJob(c.Request.Context(), id, req.Reviewer, req.Notes); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reviewed"})
}

func (a Api) RequeueFailedJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	jb, err := a.kpata.RequeueFailedJob(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jb)
}
