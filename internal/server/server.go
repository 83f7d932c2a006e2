package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/middleware"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

var (
	server  *http.Server
	_logger *logger_i.Logger
)

type ShutdownParams struct {
	GracefulShutdown chan os.Signal
	StopExecution    chan bool
	WorkerStop       chan bool
	Group            *sync.WaitGroup
	CloseServices    context.CancelFunc
}

func CreateServer(listenAddr string) {
	_logger = logger_i.NewLogger("Server")

	r := utils.GetRouter()

	r.Router.Get("/", middleware.HealthHandler)

	r.Router.Post("/kb", middleware.CreateKbHandler)
	r.Router.Get("/kb", middleware.ListKbHandler)
	r.Router.Get("/kb/{id}", middleware.GetKbHandler)
	r.Router.Delete("/kb/{id}", middleware.DeleteKbHandler)

	r.Router.Post("/kb/{id}/documents", middleware.UploadDocumentHandler)
	r.Router.Get("/kb/{id}/documents", middleware.ListDocumentsHandler)
	r.Router.Get("/documents/{id}", middleware.GetDocumentHandler)
	r.Router.Delete("/documents/{id}", middleware.DeleteDocumentHandler)
	r.Router.Post("/documents/{id}/retry", middleware.RetryDocumentHandler)

	r.Router.Post("/query", middleware.QueryHandler)

	r.Router.Post("/apikeys", middleware.CreateApiKeyHandler)
	r.Router.Get("/apikeys", middleware.ListApiKeysHandler)
	r.Router.Post("/apikeys/{id}/deactivate", middleware.DeactivateApiKeyHandler)
	r.Router.Delete("/apikeys/{id}", middleware.DeleteApiKeyHandler)

	r.Router.Get("/jobs/deadletters", middleware.ListDeadLettersHandler)
	r.Router.Get("/jobs/{id}", middleware.GetJobHandler)

	server = &http.Server{
		Addr:         listenAddr,
		Handler:      r.Router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	_logger.Info("Server is listening at", "address", listenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_logger.Error("Server crashed", "error :", err.Error(), "addr", listenAddr)
	}
}

func ShutDownHandler(shutdownParams ShutdownParams) {
	state := <-shutdownParams.GracefulShutdown
	println("\nServer is shutting down", state)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownContextTimeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		server.SetKeepAlivesEnabled(false)

		if err := server.Shutdown(ctx); err != nil {
			_logger.Error("Could not shutdown gracefully: %s", err)
		}

		//close workers
		close(shutdownParams.WorkerStop)
		shutdownParams.Group.Wait()
		shutdownParams.CloseServices()
		close(shutdownParams.StopExecution)
		close(done)
	}()

	select {
	case <-done:
		_logger.Info("Gracefully is shutting down")
	case <-ctx.Done():
		_logger.Info("Force Shut down")
		os.Exit(1)
	}
}
