package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/service"
	"github.com/ReilBleem13/PalMessenger/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "server-secret"

type fakeMessageService struct {
	historyUser   int64
	historyWith   string
	historyCursor *int64
	historyErr    error
}

func (f *fakeMessageService) NewClient(userID int64, username string, conn *websocket.Conn) *service.Client {
	return service.NewClient(userID, username, conn, 1)
}

func (f *fakeMessageService) HandleConn(ctx context.Context, client *service.Client) {}

func (f *fakeMessageService) History(ctx context.Context, userID int64, with string, cursor *int64) (*service.HistoryPage, error) {
	f.historyUser, f.historyWith, f.historyCursor = userID, with, cursor
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	next := int64(5)
	return &service.HistoryPage{
		Messages:  []domain.Message{{ID: 6, Body: "hi"}},
		NewCursor: &next,
		HasMore:   true,
	}, nil
}

type fakeSaver struct {
	saved []*domain.PushSubscription
}

func (f *fakeSaver) Save(ctx context.Context, sub *domain.PushSubscription) error {
	f.saved = append(f.saved, sub)
	return nil
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.AccessClaims{
		UserID:   1,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func newTestServer(msgSrv *fakeMessageService, saver *fakeSaver) http.Handler {
	return NewServer(NewHandler(msgSrv, saver, "node-1"), secret).Handler()
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func TestHistory(t *testing.T) {
	msgSrv := &fakeMessageService{}
	h := newTestServer(msgSrv, &fakeSaver{})

	req := httptest.NewRequest(http.MethodGet, "/messages/bob?cursor=10", nil)
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), msgSrv.historyUser)
	assert.Equal(t, "bob", msgSrv.historyWith)
	require.NotNil(t, msgSrv.historyCursor)
	assert.Equal(t, int64(10), *msgSrv.historyCursor)

	var resp PaginateMessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.HasMore)
	assert.Equal(t, int64(5), *resp.NewCursor)
	require.Len(t, resp.Messages, 1)
}

func TestHistory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		auth     bool
		svcErr   error
		wantCode int
		wantErr  string
	}{
		{"no token", "/messages/bob", false, nil, 401, "UNAUTHORIZED"},
		{"bad cursor", "/messages/bob?cursor=abc", true, nil, 400, "INVALID_REQUEST"},
		{"not friends", "/messages/carol", true, domain.ErrNotFriends, 403, "NOT_FRIENDS"},
		{"store down", "/messages/bob", true, domain.ErrDependencyUnavailable, 503, "DEPENDENCY_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeMessageService{historyErr: tt.svcErr}, &fakeSaver{})

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+token(t))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errorCode(t, rec))

			switch tt.wantCode {
			case http.StatusServiceUnavailable:
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			case http.StatusUnauthorized:
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			default:
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAuth_TokenFromQuery(t *testing.T) {
	msgSrv := &fakeMessageService{}
	h := newTestServer(msgSrv, &fakeSaver{})

	req := httptest.NewRequest(http.MethodGet, "/messages/bob?token="+token(t), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/messages/bob?token=forged", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec))
}

func TestSavePushSubscription(t *testing.T) {
	saver := &fakeSaver{}
	h := newTestServer(&fakeMessageService{}, saver)

	body := `{"endpoint":"https://push.example/abc","keys":{"p256dh":"key","auth":"secret"}}`
	req := httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, int64(1), saver.saved[0].UserID)
	assert.Equal(t, "https://push.example/abc", saver.saved[0].Endpoint)

	req = httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(`{"endpoint":""}`))
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, saver.saved, 1)
}

func TestWS_RefusedOnceDraining(t *testing.T) {
	h := NewHandler(&fakeMessageService{}, &fakeSaver{}, "node-1")
	srv := NewServer(h, secret)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.drain(ctx))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(t, rec))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestWS_DrainWaitsForLiveHandlers(t *testing.T) {
	h := NewHandler(&fakeMessageService{}, &fakeSaver{}, "node-1")
	require.True(t, h.track())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.drain(ctx), context.DeadlineExceeded)
	assert.False(t, h.track(), "no new handler once draining")

	h.conns.Done()
	require.NoError(t, h.drain(context.Background()))
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeMessageService{}, &fakeSaver{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "node-1", resp.InstanceID)
}
