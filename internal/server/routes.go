package server

import (
	"net/http"
	"time"

	"github.com/rsmithsa/venus-acout2-relay-control/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	if response, ok := res.(domain.GetStatusResponse); ok {
		return c.JSON(http.StatusOK, statusDTO{
			RelayState:     response.RelayState,
			Loadshedding:   response.Loadshedding,
			BatterySOC:     response.BatterySOC,
			BatteryDCPower: response.BatteryDCPower,
			AverageDCPower: response.AverageDCPower,
			ACSource:       response.ACSource,
		})
	}
	return c.String(http.StatusServiceUnavailable, "status: FAIL")
}

type statusDTO struct {
	RelayState     string  `json:"relay_state"`
	Loadshedding   bool    `json:"loadshedding"`
	BatterySOC     float64 `json:"battery_soc"`
	BatteryDCPower float64 `json:"battery_dc_power"`
	AverageDCPower float64 `json:"average_dc_power"`
	ACSource       int     `json:"ac_source"`
}
