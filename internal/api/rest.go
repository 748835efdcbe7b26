package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/api/artifacts"
	"github.com/fetcharr/fetcharr/internal/api/downloads"
	"github.com/fetcharr/fetcharr/internal/api/status"
	"github.com/fetcharr/fetcharr/internal/api/transcodes"
	"github.com/fetcharr/fetcharr/internal/artifact"
	"github.com/fetcharr/fetcharr/internal/http/websocket"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.Get("API")

const serviceName = "fetcharr"

type (
	RestConfig struct {
		Host string `toml:"host" env:"HOST" env-default:"0.0.0.0"`
		Port int    `toml:"port" env:"PORT" env-default:"8000"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// artifactResolver is the lookup the file serving endpoint needs: it maps
	// the requested file name back to the artifact row which owns it, so only
	// files the service produced can ever be served.
	artifactResolver interface {
		GetArtifactByFileName(fileName string) (*artifact.Artifact, error)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole
	// responsibility is to create the routes fetcharr exposes, serve completed
	// files, and manage ongoing web socket connections and events.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		artifactResolver    artifactResolver
		statusController    controller
		downloadController  controller
		transcodeController controller
		artifactController  controller
	}
)

func (config *RestConfig) Address() string {
	return fmt.Sprintf("%s:%d", config.Host, config.Port)
}

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. Each controller requires access
// to the service which owns the resource it exposes; these are provided
// as arguments.
func NewRestGateway(
	config *RestConfig,
	downloadService downloads.DownloadService,
	transcodeService transcodes.TranscodeService,
	artifactService artifacts.ArtifactService,
	resolver artifactResolver,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, downloadService, transcodeService, artifactService),
		config:              config,
		ec:                  ec,
		socket:              socket,
		artifactResolver:    resolver,
		statusController:    status.New(serviceName),
		downloadController:  downloads.New(validate, downloadService),
		transcodeController: transcodes.New(transcodeService),
		artifactController:  artifacts.New(artifactService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORS())
	ec.Use(requestMetrics)
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/metrics/", echo.WrapHandler(promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})))
	ec.GET("/files/:filename/", gateway.serveFile)
	ec.GET("/api/fetcharr/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	gateway.statusController.SetRoutes(ec.Group(""))

	downloadGroup := ec.Group("/api/fetcharr/v1/downloads")
	gateway.downloadController.SetRoutes(downloadGroup)

	transcodeGroup := ec.Group("/api/fetcharr/v1/transcodes")
	gateway.transcodeController.SetRoutes(transcodeGroup)

	artifactGroup := ec.Group("/api/fetcharr/v1/artifacts")
	gateway.artifactController.SetRoutes(artifactGroup)

	return gateway
}

// serveFile streams a completed artifact back to the client as an attachment.
// The filename path param must match an artifact row exactly; path separators
// are rejected outright so a request can never escape the output directory.
func (gateway *RestGateway) serveFile(ec echo.Context) error {
	fileName := ec.Param("filename")
	if fileName != filepath.Base(fileName) || fileName == "." || fileName == ".." {
		return echo.NewHTTPError(http.StatusBadRequest, "Illegal file name")
	}

	item, err := gateway.artifactResolver.GetArtifactByFileName(fileName)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	metrics.RecordFileServed()
	return ec.Attachment(item.FilePath, item.FileName)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.Address()); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ec echo.Context) error {
		start := time.Now()
		err := next(ec)

		endpoint := ec.Path()
		method := ec.Request().Method
		statusCode := ec.Response().Status
		if httpErr, ok := err.(*echo.HTTPError); ok {
			statusCode = httpErr.Code
		}

		code := strconv.Itoa(statusCode)
		metrics.RecordHTTPRequest(endpoint, method, code)
		metrics.RecordHTTPRequestDuration(endpoint, method, code, float64(time.Since(start).Milliseconds()))
		return err
	}
}
