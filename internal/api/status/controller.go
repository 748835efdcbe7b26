package status

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type (
	HealthDto struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}

	BannerDto struct {
		Service string    `json:"service"`
		Message string    `json:"message"`
		Uptime  string    `json:"uptime"`
		Started time.Time `json:"started_at"`
	}

	// Controller serves the liveness endpoints used by orchestrators
	// to probe the gateway.
	Controller struct {
		serviceName string
		startedAt   time.Time
	}
)

func New(serviceName string) *Controller {
	return &Controller{serviceName: serviceName, startedAt: time.Now()}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.getBanner)
	eg.GET("/health/", controller.getHealth)
}

func (controller *Controller) getHealth(ec echo.Context) error {
	return ec.JSON(http.StatusOK, HealthDto{Status: "healthy", Service: controller.serviceName})
}

func (controller *Controller) getBanner(ec echo.Context) error {
	return ec.JSON(http.StatusOK, BannerDto{
		Service: controller.serviceName,
		Message: "running",
		Uptime:  time.Since(controller.startedAt).Truncate(time.Second).String(),
		Started: controller.startedAt,
	})
}
