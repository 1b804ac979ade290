package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthStatus struct {
	Status string `json:"Status"`
}

// HealthCheck returns "Ok".
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "Ok"})
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports 503 while the search engine is unreachable.
func Readiness(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthStatus{Status: "Unavailable"})
		}
		return c.JSON(http.StatusOK, HealthStatus{Status: "Ok"})
	}
}
