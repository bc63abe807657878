package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 3000, RequestTimeoutSeconds: 5},
		App:      config.AppConfig{Environment: "test"},
		Throttle: config.ThrottleConfig{Requests: 5, WindowSeconds: 60, MaxClients: 100},
		Recaptcha: config.RecaptchaConfig{
			MinScore: 0.5,
		},
		Phone:    config.PhoneConfig{DefaultCountry: "US", CacheTTLHours: 24, CacheSize: 100},
		Dispatch: config.DispatchConfig{SinkTimeoutSeconds: 2},
		Storage:  config.StorageConfig{Backend: config.StorageMemory, Prefix: "submissions"},
		Ledger:   config.LedgerConfig{Size: 100, TTLHours: 24},
	}
}

func TestBuildWithDefaultsRegistersLocalSinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Equal(t, []string{"archive", "events"}, app.SinkNames())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWiresWebhooksEndToEnd(t *testing.T) {
	t.Parallel()

	var legacyCalls, primaryCalls atomic.Int32
	hooks := http.NewServeMux()
	hooks.HandleFunc("/legacy", func(w http.ResponseWriter, _ *http.Request) {
		legacyCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	hooks.HandleFunc("/primary", func(w http.ResponseWriter, _ *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(hooks)
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.Dispatch.Primary = config.PrimaryConfig{Enabled: true, URL: srv.URL + "/primary"}
	cfg.Dispatch.Legacy = config.WebhookConfig{URL: srv.URL + "/legacy"}
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Equal(t, []string{PrimaryWebhookSink, LegacyWebhookSink, "archive", "events"}, app.SinkNames())

	body := `{"submissionType":"business_acquisition","businessType":"HVAC","annualRevenue":"$1M",
"reasonForSelling":"Retirement","timeline":"ASAP","firstName":"Ada","lastName":"Lovelace",
"email":"ada@example.com","phone":"555-123-4567","leadId":"lead-wired-1"}`
	req := httptest.NewRequest(http.MethodPost, "/submit-form", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 1, primaryCalls.Load())
	require.EqualValues(t, 1, legacyCalls.Load())
}

func TestBuildFailsOnUnreadableSheetsCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sheets.CredentialsFile = t.TempDir() + "/missing.json"
	_, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sheets credentials")
}

func TestNewAppRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewApp(nil, nil)
	require.Error(t, err)
}

func TestBuildWithSQLiteLedgerRejectsDuplicates(t *testing.T) {
	t.Parallel()

	var hookCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hookCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.Ledger.SQLitePath = t.TempDir() + "/ledger.db"
	cfg.Dispatch.Legacy = config.WebhookConfig{URL: srv.URL}
	app, err := BuildWithLogger(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"submissionType":"complete","address":"1 Main St","phone":"(555) 123-4567",
"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","propertyCondition":"Good",
"timeframe":"ASAP","price":"300000","leadId":"lead-sqlite-1"}`
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit-form", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	require.EqualValues(t, 1, hookCalls.Load())
}
