package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"netflow-console/api/internal/storage"
	"netflow-console/internal/client"
	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/model"
	"netflow-console/internal/pipeline"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	processor *pipeline.Processor
	store     *storage.Storage
	limit     int
	logger    *logrus.Logger
	metrics   *client.ConsoleMetrics
	upgrader  websocket.Upgrader
}

// NewHandlers creates the API handlers. store may be nil to disable caching,
// limit is the default number of series returned by metrics queries.
func NewHandlers(processor *pipeline.Processor, store *storage.Storage, limit int, logger *logrus.Logger, m *client.ConsoleMetrics) *Handlers {
	return &Handlers{
		processor: processor,
		store:     store,
		limit:     limit,
		logger:    logger,
		metrics:   m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type definitionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Field     string `json:"field"`
	Overlap   bool   `json:"overlap"`
	SwappedID string `json:"swappedId,omitempty"`
}

// GetFilterDefinitions lists the filters that can be used in queries
func (h *Handlers) GetFilterDefinitions(w http.ResponseWriter, r *http.Request) {
	reg := h.processor.Registry()

	defs := reg.All()
	items := make([]definitionResponse, 0, len(defs))
	for _, def := range defs {
		item := definitionResponse{ID: def.ID, Name: def.Name, Field: def.Field, Overlap: def.Overlap}
		if swapped, ok := reg.SwapOf(def); ok {
			item.SwappedID = swapped.ID
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

type queryResponse struct {
	Encoded string           `json:"encoded"`
	Grouped string           `json:"grouped"`
	Decoded string           `json:"decoded"`
	Plan    filters.Plan     `json:"plan"`
	Overlap *filters.Overlap `json:"overlap,omitempty"`
}

// GetFilterQuery shows the backend filter strings built for a filter set
func (h *Handlers) GetFilterQuery(w http.ResponseWriter, r *http.Request) {
	reg := h.processor.Registry()

	fs, err := parseFilterSet(reg, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	grouped := filters.BuildGrouped(reg, fs)
	decoded, err := filters.Decode(grouped)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := queryResponse{
		Encoded: filters.Encode(fs),
		Grouped: grouped,
		Decoded: decoded,
		Plan:    h.processor.Plan(fs),
	}
	if fs.BackAndForth && !fs.MatchAny() {
		overlap := filters.DetermineOverlap(fs.Filters, filters.Swap(reg, fs.Filters, false))
		resp.Overlap = &overlap
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFlowMetrics returns the merged topology metrics of a filter set
func (h *Handlers) GetFlowMetrics(w http.ResponseWriter, r *http.Request) {
	fs, err := parseFilterSet(h.processor.Registry(), r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rng, err := parseTimeRange(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	limit := parseLimit(r, h.limit, 0)

	key := storage.Key(h.processor.Plan(fs), rng, limit)
	if h.store != nil {
		if result, ok := h.store.GetTopology(key); ok {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	result, err := h.processor.QueryMetrics(r.Context(), fs, rng, limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	result = metrics.Clamp(result)

	if h.store != nil {
		h.store.SetTopology(key, rng, result)
	}
	writeJSON(w, http.StatusOK, result)
}

// GetFlowRecords returns the most recent flow records matching a filter set
func (h *Handlers) GetFlowRecords(w http.ResponseWriter, r *http.Request) {
	fs, err := parseFilterSet(h.processor.Registry(), r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rng, err := parseTimeRange(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	limit := parseLimit(r, defaultFlowLimit, maxFlowLimit)

	flows, err := h.processor.QueryFlows(r.Context(), fs, rng, limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if flows == nil {
		flows = []model.Flow{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": flows,
		"total": len(flows),
		"limit": limit,
	})
}

// StreamFlows sends matching live flows over a WebSocket in batches
func (h *Handlers) StreamFlows(w http.ResponseWriter, r *http.Request) {
	fs, err := parseFilterSet(h.processor.Registry(), r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !h.processor.HasFlowSource() {
		h.writeErr(w, pipeline.ErrNoFlowSource)
		return
	}

	h.logger.Infof("WebSocket connection attempt from %s", r.RemoteAddr)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	if h.metrics != nil {
		h.metrics.StreamOpened()
	}
	defer func() {
		h.logger.Debugf("WebSocket connection closed for %s", r.RemoteAddr)
		conn.Close()
		if h.metrics != nil {
			h.metrics.StreamClosed()
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	})

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "WebSocket connection established"}); err != nil {
		h.logger.Errorf("Failed to send initial message: %v", err)
		return
	}

	done := make(chan struct{})
	once := &sync.Once{}
	closeDone := func() {
		once.Do(func() {
			close(done)
		})
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()

	// detect client close
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	flowChan := make(chan model.Flow, 100)
	streamErr := make(chan error, 1)
	go func() {
		defer close(flowChan)
		streamErr <- h.processor.StreamFlows(streamCtx, fs, func(flow *model.Flow) error {
			select {
			case <-done:
				return context.Canceled
			case flowChan <- *flow:
			default:
				h.logger.Debugf("Flow channel full, dropping flow")
			}
			return nil
		})
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	throttleTicker := time.NewTicker(100 * time.Millisecond)
	defer throttleTicker.Stop()

	buffer := make([]model.Flow, 0, 10)
	flush := func() bool {
		if len(buffer) == 0 {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(buffer); err != nil {
			h.logger.Debugf("WebSocket write error: %v", err)
			return false
		}
		buffer = buffer[:0]
		return true
	}

	for {
		select {
		case <-done:
			return
		case flow, ok := <-flowChan:
			if !ok {
				flush()
				if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
					h.logger.Errorf("Flow stream error: %v", err)
					conn.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
				}
				return
			}
			buffer = append(buffer, flow)
			if len(buffer) >= 10 && !flush() {
				return
			}
		case <-throttleTicker.C:
			if !flush() {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		}
	}
}

func (h *Handlers) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("Request failed: %v", err)
	} else {
		h.logger.Debugf("Invalid request: %v", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, filters.ErrUnknownFilter),
		errors.Is(err, filters.ErrMalformedFilter),
		errors.Is(err, model.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoFlowSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
