package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
	"github.com/mbocsi/wearbridge/services"
)

func (w *WebClient) HandleNodes(wr http.ResponseWriter, r *http.Request) {
	nodes, err := w.services.Node.ListNodes()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, nodes)
}

func (w *WebClient) HandleNodeDetail(wr http.ResponseWriter, r *http.Request) {
	node, err := w.services.Node.GetNode(chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, node)
}

// HandleSendMessage delivers a message from the hub to one node
func (w *WebClient) HandleSendMessage(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Data []byte `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid request body", Cause: err})
		return
	}

	nodeID := chi.URLParam(r, "id")
	if err := w.services.Messaging.SendMessage(services.MessageRequest{NodeID: nodeID, Path: req.Path, Data: req.Data}); err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusAccepted, map[string]string{"node_id": nodeID, "path": req.Path})
}

func (w *WebClient) HandleCapabilities(wr http.ResponseWriter, r *http.Request) {
	caps, err := w.services.Capability.ListCapabilities()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, caps)
}

func (w *WebClient) HandleCapabilityDetail(wr http.ResponseWriter, r *http.Request) {
	info, err := w.services.Capability.GetCapability(chi.URLParam(r, "name"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, info)
}

// HandleDataItems lists items filtered by the authority and path query
// parameters
func (w *WebClient) HandleDataItems(wr http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := w.services.Data.ListDataItems(q.Get("authority"), q.Get("path"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, items)
}

func (w *WebClient) HandleDataItem(wr http.ResponseWriter, r *http.Request) {
	item, err := w.services.Data.GetDataItem(r.URL.Query().Get("uri"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, item)
}

func (w *WebClient) HandleAsset(wr http.ResponseWriter, r *http.Request) {
	data, err := w.services.Data.GetAsset(chi.URLParam(r, "digest"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	wr.Header().Set("Content-Type", http.DetectContentType(data))
	wr.WriteHeader(http.StatusOK)
	wr.Write(data)
}

func (w *WebClient) HandleTransports(wr http.ResponseWriter, r *http.Request) {
	transports, err := w.services.Transport.ListTransports()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transports)
}

func (w *WebClient) HandleTransportDetail(wr http.ResponseWriter, r *http.Request) {
	transport, err := w.services.Transport.GetTransport(chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transport)
}

func (w *WebClient) HandleStats(wr http.ResponseWriter, r *http.Request) {
	stats, err := w.services.Transport.GetTransportStats()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, stats)
}

// HandleEvents streams data_changed and capability_changed frames as
// Server-Sent Events. A capability query parameter narrows the stream
// to changes of that capability.
func (w *WebClient) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	if _, ok := wr.(http.Flusher); !ok {
		slog.Error("Streaming unsupported")
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	topics := []string{server.TopicData, server.TopicCapability}
	if name := r.URL.Query().Get("capability"); name != "" {
		if err := proto.ValidateCapabilityName(name); err != nil {
			w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid capability name", Cause: err})
			return
		}
		topics = []string{name}
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.Header().Set("Access-Control-Allow-Origin", "*")
	wr.WriteHeader(http.StatusOK)
	wr.(http.Flusher).Flush()

	client := server.NewSSEClient(wr)
	defer client.Close()
	for _, topic := range topics {
		if err := w.services.Messaging.Subscribe(topic, client); err != nil {
			slog.Warn("Event stream subscribe failed", "topic", topic, "error", err)
		}
	}
	defer func() {
		for _, topic := range topics {
			w.services.Messaging.Unsubscribe(topic, client)
		}
	}()
	slog.Info("Event stream opened", "client", client.Meta().ID(), "topics", topics)

	<-r.Context().Done()
	slog.Info("Event stream closed", "client", client.Meta().ID())
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// handleError handles service errors with proper HTTP status codes
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeTimeout:
			status = http.StatusRequestTimeout
		case services.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		slog.Debug("Service error", "code", serviceErr.Code, "error", err)
		writeJSON(wr, status, serviceErr)
		return
	}

	slog.Error("Service error", "error", err)
	writeJSON(wr, http.StatusInternalServerError, services.ServiceError{Code: services.ErrCodeInternal, Message: "Internal server error"})
}
