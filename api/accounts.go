package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type grantCreditsRequest struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	PaymentID string `json:"payment_id,omitempty"`
}

func (a Api) GetBalance(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	view, err := a.kpata.GetBalance(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GrantCredits appends a purchase or adjustment entry to the account ledger.
func (a Api) GrantCredits(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	entry, err := a.kpata.GrantCredits(c.Request.Context(), id, req.Amount, req.Reason, req.PaymentID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// GetModerationStatus reports whether the account can currently submit jobs.
func (a Api) GetModerationStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	gate, err := a.kpata.CanCreateJob(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gate)
}
