package award

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"encoin-rewards/pkg/middleware"
	"encoin-rewards/services/chain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

func init() {
	gin.SetMode(gin.TestMode)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRouter(f *fixture) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Channel(), middleware.Error())
	RegisterRoutes(r, NewHandler(f.service))
	return r
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandlerAwardLifecycle(t *testing.T) {
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	r := newRouter(f)

	w := do(r, http.MethodPost, "/v1/awards", gin.H{"uid": "h1", "event_id": "daily_login"}, map[string]string{
		middleware.APIKeyHeader: "app_123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		TxHash  string `json:"tx_hash"`
		Address string `json:"address"`
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.TxHash)
	require.Equal(t, mustResolve(t, "h1"), res.Address)
	require.Equal(t, "10000000000000000000", res.Balance)

	var entry AuditEntry
	require.NoError(t, f.db.Where("tx_hash = ?", res.TxHash).First(&entry).Error)
	require.Equal(t, "app", *entry.Source)

	w = do(r, http.MethodPost, "/v1/awards", gin.H{"uid": "h1", "event_id": "daily_login"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, string(KindMaxCountExceeded), decodeError(t, w).Error.Code)

	w = do(r, http.MethodGet, "/v1/users/h1/awards", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data []Availability `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 3)
	require.Equal(t, 1, list.Data[0].AwardedCount)
	require.False(t, list.Data[0].IsAvailable)

	w = do(r, http.MethodGet, "/v1/users/h1/wallet", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap struct {
		Balance string `json:"balance"`
		History []struct {
			TxHash string `json:"tx_hash"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, "10000000000000000000", snap.Balance)
	require.Len(t, snap.History, 1)
	require.Equal(t, res.TxHash, snap.History[0].TxHash)

	w = do(r, http.MethodGet, "/v1/users/h1/history?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerErrorStatuses(t *testing.T) {
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	r := newRouter(f)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   Kind
	}{
		{"unknown event", "/v1/awards", gin.H{"uid": "h2", "event_id": "nope"}, http.StatusNotFound, KindUnknownAction},
		{"missing uid", "/v1/awards", gin.H{"event_id": "daily_login"}, http.StatusBadRequest, KindValidation},
		{"bad timestamp", "/v1/awards", gin.H{"uid": "h2", "event_id": "daily_login", "timestamp": "soon"}, http.StatusBadRequest, KindValidation},
		{"non-positive spend", "/v1/spends", gin.H{"uid": "h2", "amount": "0"}, http.StatusBadRequest, KindValidation},
		{"insufficient balance", "/v1/spends", gin.H{"uid": "h2", "amount": "1"}, http.StatusUnprocessableEntity, KindInsufficientBalance},
		{"malformed body", "/v1/spends", "not an object", http.StatusBadRequest, KindValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			require.Equal(t, string(tc.code), decodeError(t, w).Error.Code)
		})
	}

	ledger.FailNext(errInjected)
	w := do(r, http.MethodPost, "/v1/awards", gin.H{"uid": "h2", "event_id": "share_post"}, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	require.Equal(t, string(KindInternal), body.Error.Code)
	require.Equal(t, "internal error", body.Error.Message)
}

func TestHandlerSpendWithIdempotencyKey(t *testing.T) {
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	r := newRouter(f)

	ledger.Mint(mustResolve(t, "h3"), tokens(t, "2"))
	headers := map[string]string{IdempotencyKeyHeader: "pay-42"}

	first := do(r, http.MethodPost, "/v1/spends", gin.H{"uid": "h3", "amount": "1", "label": "badge"}, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := do(r, http.MethodPost, "/v1/spends", gin.H{"uid": "h3", "amount": "1", "label": "badge"}, headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, ledger.Calls("spend"))
}
