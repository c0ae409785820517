package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is the part of *pgxpool.Pool the health endpoint needs.
type Pinger interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

type poolReport struct {
	Total    int32  `json:"total"`
	Idle     int32  `json:"idle"`
	Acquired int32  `json:"acquired"`
	Max      int32  `json:"max"`
	Waited   int64  `json:"empty_acquires"`
	Acquire  string `json:"acquire_duration"`
}

type healthReport struct {
	Status string     `json:"status"`
	Ping   string     `json:"ping"`
	Pool   poolReport `json:"pool"`
}

func report(stat *pgxpool.Stat) poolReport {
	return poolReport{
		Total:    stat.TotalConns(),
		Idle:     stat.IdleConns(),
		Acquired: stat.AcquiredConns(),
		Max:      stat.MaxConns(),
		Waited:   stat.EmptyAcquireCount(),
		Acquire:  stat.AcquireDuration().String(),
	}
}

// HealthHandler serves GET /health/db: 200 when a ping succeeds within 3s,
// 503 otherwise. Both carry the pool counters.
func HealthHandler(pool Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		start := time.Now()
		err := pool.Ping(ctx)
		hr := healthReport{
			Status: "ok",
			Ping:   time.Since(start).String(),
			Pool:   report(pool.Stat()),
		}
		if err != nil {
			hr.Status = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, hr)
		}
		return c.JSON(http.StatusOK, hr)
	}
}
