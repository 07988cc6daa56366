package api

import (
	"github.com/gin-gonic/gin"

	"github.com/marcdevi/kpata"
	"github.com/marcdevi/kpata/api/middleware"
	"github.com/marcdevi/kpata/config"
)

type Api struct {
	kpata  *kpata.Kpata
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/generations", a.CreateGeneration)
	router.GET("/generations/:id", a.GetGeneration)
	router.POST("/generations/:id/cancel", a.CancelGeneration)

	router.GET("/accounts/:id/balance", a.GetBalance)
	router.POST("/accounts/:id/credits", a.GrantCredits)
	router.GET("/accounts/:id/moderation", a.GetModerationStatus)

	router.GET("/failed-jobs", a.ListFailedJobs)
	router.POST("/failed-jobs/:id/review", a.ReviewFailedJob)
	router.POST("/failed-jobs/:id/requeue", a.RequeueFailedJob)

	return a.router
}

func NewAPI(k *kpata.Kpata) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.SecretKey != "" {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{kpata: k, router: r}
}
