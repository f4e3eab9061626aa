package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/usecase"
)

type staticRow struct {
	err error
}

func (r staticRow) Scan(dest ...any) error { return r.err }

// notFoundDB answers every read with no rows and refuses writes.
type notFoundDB struct{}

func (notFoundDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

func (notFoundDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (notFoundDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return staticRow{err: pgx.ErrNoRows}
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := usecase.NewOrderService(notFoundDB{}, zap.NewNop())
	h := NewOrderHandler(svc, zap.NewNop())

	router := gin.New()
	h.Register(router.Group("/api/v1"))
	return router
}

func TestCreateOrderRejectsBadRequests(t *testing.T) {
	router := newTestRouter()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing fields", `{"quantity": 1}`},
		{"bad uuid", `{"customer_id": "nope", "product_id": "nope", "quantity": 1, "total_amount": 10}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/1e0a7b52-0000-0000-0000-000000000001", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "order not found")
}

func TestListOrdersRequiresCustomerID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
