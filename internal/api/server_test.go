package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/expense-bot/internal/classifier"
	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/internal/storage"
	"github.com/xaenox/expense-bot/internal/tasks"
	"github.com/xaenox/expense-bot/pkg/config"
)

type nopBroker struct {
	published []*tasks.Job
}

func (b *nopBroker) Publish(_ context.Context, job *tasks.Job) error {
	b.published = append(b.published, job)
	return nil
}
func (b *nopBroker) PublishDelayed(context.Context, *tasks.Job, time.Duration) error { return nil }
func (b *nopBroker) Consume(ctx context.Context, _ tasks.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (b *nopBroker) Ready() error { return nil }
func (b *nopBroker) Close() error { return nil }

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStorage
	broker  *nopBroker
	runner  *tasks.Runner
}

func newTestEnv(t *testing.T, checks ...ReadinessCheck) *testEnv {
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	broker := &nopBroker{}

	analytics := service.NewAnalyticsService(store, logger)
	cfg := config.QueueConfig{MaxRetries: 3, RetryDelay: time.Minute, TaskTimeLimit: time.Minute}

	srv := NewServer(config.ServerConfig{Port: 8000}, Dependencies{
		Expenses:  service.NewExpenseService(store, classifier.NewSimpleClassifier(), logger),
		Analytics: analytics,
		Tasks:     tasks.NewSubmitter(store, broker, analytics, logger),
		Checks:    checks,
	}, logger)

	return &testEnv{
		handler: srv.Handler,
		store:   store,
		broker:  broker,
		runner:  tasks.NewRunner(store, broker, analytics, cfg, logger),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateExpense_Structured(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/expenses", `{"telegram_id": 12345, "description": "Pizza", "amount": 25.50, "category": "Food", "added_at": "2024-01-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Contains(t, rec.Body.String(), `"amount":25.50`)
	body := decode(t, rec)
	assert.Equal(t, "Food expense added", body["message"])
	assert.Equal(t, "Pizza", body["description"])
	assert.Equal(t, "2024-01-15T00:00:00Z", body["added_at"])

	user, err := env.store.GetUserByTelegramID(context.Background(), "12345")
	require.NoError(t, err)
	assert.EqualValues(t, user.ID, body["user_id"])
}

func TestCreateExpense_FromMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/expenses", map[string]string{"telegram_id": "42", "message": "Pizza 25.50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Food", body["category"])
	assert.Equal(t, "Pizza 25.50", body["description"])
	assert.Contains(t, rec.Body.String(), `"amount":25.50`)
}

func TestCreateExpense_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "malformed amount", body: `{"telegram_id":"1","description":"x","category":"Food","amount":"abc"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "negative amount", body: `{"telegram_id":"1","description":"x","category":"Food","amount":-5}`, wantStatus: http.StatusBadRequest},
		{name: "amount too large", body: `{"telegram_id":"1","description":"x","category":"Food","amount":12345678901}`, wantStatus: http.StatusBadRequest},
		{name: "missing user", body: `{"description":"x","category":"Food","amount":5}`, wantStatus: http.StatusBadRequest},
		{name: "unknown user id", body: `{"user_id":99,"description":"x","category":"Food","amount":5}`, wantStatus: http.StatusNotFound},
		{name: "not an expense", body: `{"telegram_id":"1","message":"good morning"}`, wantStatus: http.StatusBadRequest},
		{name: "bad added_at", body: `{"telegram_id":"1","description":"x","category":"Food","amount":5,"added_at":"yesterday"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/expenses", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["message"])
		})
	}
}

func TestExpenseCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/expenses", `{"telegram_id":"7","description":"Taxi","amount":"15.00","category":"Transportation"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := int64(decode(t, rec)["id"].(float64))

	rec = env.do(t, http.MethodGet, "/api/expenses/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Taxi", decode(t, rec)["description"])

	rec = env.do(t, http.MethodPut, "/api/expenses/"+itoa(id), `{"amount": 18.40, "description": "Late taxi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amount":18.40`)
	assert.Equal(t, "Transportation", decode(t, rec)["category"])

	rec = env.do(t, http.MethodGet, "/api/expenses?telegram_id=7&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.EqualValues(t, 1, list["total"])
	assert.EqualValues(t, 5, list["limit"])
	assert.Len(t, list["expenses"], 1)

	rec = env.do(t, http.MethodDelete, "/api/expenses/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Expense deleted successfully", decode(t, rec)["message"])

	rec = env.do(t, http.MethodDelete, "/api/expenses/"+itoa(id), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Expense not found", decode(t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/api/expenses/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/expenses?skip=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seed(t *testing.T, env *testEnv) {
	for _, body := range []string{
		`{"telegram_id":"500","description":"Pizza","amount":25.50,"category":"Food","added_at":"2024-01-15"}`,
		`{"telegram_id":"500","description":"Taxi","amount":15.00,"category":"Transportation","added_at":"2024-01-20"}`,
		`{"telegram_id":"500","description":"Sushi","amount":30.00,"category":"Food","added_at":"2024-02-10"}`,
	} {
		rec := env.do(t, http.MethodPost, "/api/expenses", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func TestAnalyticsSync(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	rec := env.do(t, http.MethodGet, "/api/analytics/sync?telegram_id=500&start_date=2024-01-01&end_date=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_expenses":40.50`)
	assert.Contains(t, rec.Body.String(), `{"category":"Food","total":25.50}`)
	assert.Contains(t, rec.Body.String(), `"start_date":"2024-01-01"`)

	rec = env.do(t, http.MethodGet, "/api/analytics/sync?telegram_id=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_expenses":70.50`)
	assert.Contains(t, rec.Body.String(), `"Food":27.75`)

	rec = env.do(t, http.MethodGet, "/api/analytics/sync?telegram_id=500&start_date=2024-02-01&end_date=2024-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/analytics/sync?telegram_id=500&start_date=01/02/2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/analytics/sync?user_id=999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	rec := env.do(t, http.MethodPost, "/api/analytics", `{"telegram_id":"500","start_date":"2024-01-01","end_date":"2024-01-31"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode(t, rec)
	assert.Equal(t, "Pending", submitted["status"])
	taskID := submitted["task_id"].(string)

	rec = env.do(t, http.MethodGet, "/api/analytics/status/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pending", decode(t, rec)["status"])

	require.Len(t, env.broker.published, 1)
	require.NoError(t, env.runner.Handle(context.Background(), env.broker.published[0]))

	rec = env.do(t, http.MethodGet, "/api/analytics/status/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success", decode(t, rec)["status"])
	assert.Contains(t, rec.Body.String(), `"total_expenses":40.50`)

	rec = env.do(t, http.MethodGet, "/api/analytics/status/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/analytics", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	healthy := ReadinessCheck{Name: "storage", Check: func(context.Context) error { return nil }}
	env := newTestEnv(t, healthy)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := ReadinessCheck{Name: "broker", Check: func(context.Context) error { return errors.New("amqp connection closed") }}
	env = newTestEnv(t, healthy, broken)

	rec = env.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "amqp connection closed", body["checks"].(map[string]interface{})["broker"])
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))

	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	srv := &Server{logger: zaptest.NewLogger(t)}
	panicking := srv.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec = httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseAmountField(t *testing.T) {
	amount, err := parseAmountField(json.RawMessage(`"12.30"`))
	require.NoError(t, err)
	assert.Equal(t, "12.30", amount.StringFixed(2))

	amount, err = parseAmountField(json.RawMessage(`7`))
	require.NoError(t, err)
	assert.Equal(t, "7.00", amount.StringFixed(2))

	amount, err = parseAmountField(nil)
	require.NoError(t, err)
	assert.Nil(t, amount)

	_, err = parseAmountField(json.RawMessage(`true`))
	assert.ErrorIs(t, err, errMalformedAmount)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("2024-01-15T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.January, 15, 8, 30, 0, 0, time.UTC), ts)

	ts, err = parseTimestamp("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, models.NewDate(2024, time.January, 15).Time, ts)

	_, err = parseTimestamp("15/01/2024")
	assert.Error(t, err)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
