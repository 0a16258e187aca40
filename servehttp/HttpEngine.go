package servehttp

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ShutdownGrace bounds how long in-flight requests may finish after a stop signal.
var ShutdownGrace = 3 * time.Second

// StartHTTPServer serves engine on addr and blocks until SIGINT or SIGTERM, then shuts down gracefully.
func StartHTTPServer(engine *gin.Engine, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Info("http server listening on ", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	// kill (no param) sends SIGTERM, kill -2 sends SIGINT, SIGKILL can't be caught
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}
	logrus.Infof("[QUIT] shutdown signal has been received, the service will exit in %s", ShutdownGrace)

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	logrus.Info("[QUIT] http server is shutdown gracefully, new request will be rejected")
	return nil
}
