package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/service"
	"github.com/gorilla/websocket"
)

type SubscriptionSaver interface {
	Save(ctx context.Context, sub *domain.PushSubscription) error
}

type Handler struct {
	msgSrv     service.MessageServiceIn
	subs       SubscriptionSaver
	instanceID string
	upgrader   *websocket.Upgrader

	// live websocket handlers, waited on at shutdown
	conns   sync.WaitGroup
	mu      sync.Mutex
	closing bool
}

func NewHandler(msgSrv service.MessageServiceIn, subs SubscriptionSaver, instanceID string) *Handler {
	return &Handler{
		msgSrv:     msgSrv,
		subs:       subs,
		instanceID: instanceID,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferPool: &sync.Pool{},
		},
	}
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	if !h.track() {
		handleError(w, domain.ErrDependencyUnavailable.WithMessage("Server is shutting down"))
		return
	}
	defer h.conns.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		slog.Warn("Failed to upgrade connection", "user_id", claims.UserID, "error", err)
		return
	}

	client := h.msgSrv.NewClient(claims.UserID, claims.Username, conn)
	h.msgSrv.HandleConn(r.Context(), client)
}

// track counts one more websocket handler unless shutdown has begun.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns.Add(1)
	return true
}

// drain refuses new websocket connections and waits until the live ones
// have finished their disconnect handling.
func (h *Handler) drain(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	with := r.PathValue("username")
	if with == "" {
		handleError(w, domain.ErrInvalidRequest)
		return
	}

	var cursor *int64
	if cursorStr := r.URL.Query().Get("cursor"); cursorStr != "" {
		c, err := strconv.ParseInt(cursorStr, 10, 64)
		if err != nil || c <= 0 {
			handleError(w, domain.ErrInvalidRequest.WithMessage("Invalid cursor"))
			return
		}
		cursor = &c
	}

	page, err := h.msgSrv.History(r.Context(), claims.UserID, with, cursor)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := &PaginateMessagesResponse{
		Messages:  page.Messages,
		NewCursor: page.NewCursor,
		HasMore:   page.HasMore,
	}
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleSavePushSubscription(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	var in PushSubscriptionJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		handleError(w, domain.ErrInvalidRequest)
		return
	}
	if in.Endpoint == "" || in.Keys.P256dh == "" || in.Keys.Auth == "" {
		handleError(w, domain.ErrInvalidRequest.WithMessage("endpoint, keys.p256dh and keys.auth are required"))
		return
	}

	err = h.subs.Save(r.Context(), &domain.PushSubscription{
		UserID:   claims.UserID,
		Endpoint: in.Endpoint,
		P256dh:   in.Keys.P256dh,
		Auth:     in.Keys.Auth,
	})
	if err != nil {
		handleError(w, domain.ErrDependencyUnavailable.Wrap(err))
		return
	}
	w.WriteHeader(201)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	json.NewEncoder(w).Encode(&HealthResponse{
		Status:     "ok",
		InstanceID: h.instanceID,
	})
}
