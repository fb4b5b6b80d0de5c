package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbocsi/wearbridge/services"
)

// WebClient serves the hub's JSON API and its live event stream.
type WebClient struct {
	services *services.ServiceContainer
	addr     string
}

func NewWebClient(serviceContainer *services.ServiceContainer, addr string) *WebClient {
	return &WebClient{
		services: serviceContainer,
		addr:     addr,
	}
}

// Routes returns the HTTP routes of the API
func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/nodes", w.HandleNodes)
		r.Get("/nodes/{id}", w.HandleNodeDetail)
		r.Post("/nodes/{id}/messages", w.HandleSendMessage)
		r.Get("/capabilities", w.HandleCapabilities)
		r.Get("/capabilities/{name}", w.HandleCapabilityDetail)
		r.Get("/data", w.HandleDataItems)
		r.Get("/data/item", w.HandleDataItem)
		r.Get("/assets/{digest}", w.HandleAsset)
		r.Get("/transports", w.HandleTransports)
		r.Get("/transports/{id}", w.HandleTransportDetail)
		r.Get("/stats", w.HandleStats)
		r.Get("/events", w.HandleEvents)
	})
	return r
}

// Run serves the API until ctx is done.
func (w *WebClient) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              w.addr,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting web API", "addr", w.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web API", "addr", w.addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Event streams never finish on their own.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
