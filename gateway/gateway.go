// Package gateway is the HTTP front door: it authenticates requests against
// tenant/endpoint/API-key records, pulls the bound dataset through the
// read-through cache, filters it with query-string predicates, and returns
// the matching records.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"

	"github.com/hexflow/datagate/creds"
	"github.com/hexflow/datagate/datacache"
	"github.com/hexflow/datagate/objstore"
)

type Config struct {
	Bind   string
	Logger *slog.Logger
}

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	cache  *datacache.Cache
	creds  creds.Directory
	store  objstore.Store
	logger *slog.Logger
}

func New(cache *datacache.Cache, dir creds.Directory, store objstore.Store, conf Config) (*Server, error) {
	logger := conf.Logger
	if logger == nil {
		logger = slog.Default().With("system", "gateway")
	}

	e := echo.New()
	e.HideBanner = true

	srv := &Server{
		echo:   e,
		cache:  cache,
		creds:  dir,
		store:  store,
		logger: logger,
	}

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           conf.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(MetricsMiddleware)
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.handleHealthCheck)

	// dataset routes; extra path segments carry bypass tokens
	e.GET("/:tenant/:endpoint/:key", srv.handleDataRequest)
	e.POST("/:tenant/:endpoint/:key", srv.handleDataRequest)
	e.GET("/:tenant/:endpoint/:key/*", srv.handleDataRequest)
	e.POST("/:tenant/:endpoint/:key/*", srv.handleDataRequest)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI blocks serving the API until Shutdown is called or the listener
// fails.
func (srv *Server) RunAPI() error {
	srv.logger.Info("starting gateway", "bind", srv.httpd.Addr)
	err := srv.httpd.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartMetrics serves prometheus metrics on a separate listener.
func (srv *Server) StartMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.httpd.Shutdown(ctx)
}

// The taxonomy of internal failures stays in logs; callers get one generic
// body per status class.
func (srv *Server) errorHandler(err error, ctx echo.Context) {
	var httpError *echo.HTTPError
	if errors.As(err, &httpError) {
		if err2 := ctx.JSON(httpError.Code, GenericError{
			Error:   http.StatusText(httpError.Code),
			Message: "request failed",
		}); err2 != nil {
			srv.logger.Error("failed to write http error", "err", err2)
		}
		return
	}

	srv.logger.Warn("handler error", "path", ctx.Path(), "err", err)
	if !ctx.Response().Committed {
		ctx.JSON(http.StatusInternalServerError, GenericError{
			Error:   "InternalError",
			Message: "internal error",
		})
	}
}
