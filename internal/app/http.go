package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lubeve/insider-trading-bot-new/internal/scheduler"
)

// opsHandler serves liveness and scheduler counters for operators.
func opsHandler(ping func(ctx context.Context) error, stats func() scheduler.Stats) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if err := ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		st := stats()
		c.JSON(http.StatusOK, gin.H{
			"interval":     st.Interval.String(),
			"running":      st.Running,
			"ticks":        st.Ticks,
			"failed":       st.Failed,
			"skipped":      st.Skipped,
			"lock_missed":  st.LockMissed,
			"last_tick_at": st.LastTickAt,
			"last_error":   st.LastError,
		})
	})
	return r
}

func newOpsServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
