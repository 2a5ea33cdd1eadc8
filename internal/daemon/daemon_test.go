package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/config"
	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/events"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/models"
	"github.com/civicledger/approvald/internal/testutil"
)

var testSecret = []byte("daemon-test-secret")

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Global.DataDir = t.TempDir()
	cfg.Database.Path = filepath.Join(cfg.Global.DataDir, "approvals.db")
	cfg.Storage.Backend = backend
	cfg.Events.RelayInterval = 10 * time.Millisecond
	return cfg
}

func TestNewWithSQLiteUsesRelay(t *testing.T) {
	d, err := New(context.Background(), testConfig(t, config.BackendSQLite), zerolog.Nop(), Options{Secret: testSecret})
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.Backend().Database)
	require.NotNil(t, d.relay)
	require.Equal(t, config.DefaultConfig().Server.Addr, d.Addr())
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Server.JWTSecretRef = "env:APPROVALS_TEST_UNSET_SECRET"
	t.Setenv("APPROVALS_TEST_UNSET_SECRET", "")

	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.ErrorContains(t, err, "jwt secret")
}

func TestMemoryBackendPublishesInline(t *testing.T) {
	d, err := New(context.Background(), testConfig(t, config.BackendMemory), zerolog.Nop(), Options{Secret: testSecret})
	require.NoError(t, err)
	defer d.Close()
	require.Nil(t, d.relay)

	received := make(chan *models.Event, 4)
	require.NoError(t, d.Publisher().Subscribe("test", events.Filter{}, func(e *models.Event) { received <- e }))

	token, err := identity.NewVerifier(testSecret, config.DefaultConfig().Server.JWTIssuer).Issue("o1", "officer", time.Hour)
	require.NoError(t, err)

	body := `{"id":"wf-1","kind":"DOCUMENT","target_id":"doc-1","approver_ids":["a1"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	select {
	case e := <-received:
		require.Equal(t, models.EventTypeWorkflowCreated, e.Type)
		require.Equal(t, "wf-1", e.EntityID)
	case <-time.After(time.Second):
		t.Fatal("expected WorkflowCreated on the publisher")
	}
}

func TestRunRelaysOutboxAndStops(t *testing.T) {
	testutil.SkipIfNoNetwork(t)

	cfg := testConfig(t, config.BackendSQLite)
	d, err := New(context.Background(), cfg, zerolog.Nop(), Options{Addr: "127.0.0.1:0", Secret: testSecret})
	require.NoError(t, err)
	defer d.Close()

	received := make(chan *models.Event, 4)
	require.NoError(t, d.Publisher().Subscribe("test", events.Filter{}, func(e *models.Event) { received <- e }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	_, err = d.Engine().CreateDocument(context.Background(), models.Actor{ID: "o1", Role: models.RoleOfficer}, engine.CreateDocumentInput{
		ID: "d1", Type: "permit", OwnerID: "c1", ContentHash: "abc",
	})
	require.NoError(t, err)

	select {
	case e := <-received:
		require.Equal(t, models.EventTypeDocumentCreated, e.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not deliver the outbox event")
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + d.Addr() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var payload map[string]string
		return json.NewDecoder(resp.Body).Decode(&payload) == nil && payload["status"] == "ok"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}

	pending, err := d.Backend().Outbox.CountUndelivered(context.Background())
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestPruneDeliveredHonorsRetention(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cfg.Events.Retention = time.Millisecond
	d, err := New(context.Background(), cfg, zerolog.Nop(), Options{Secret: testSecret})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	_, err = d.Engine().CreateDocument(ctx, models.Actor{ID: "o1", Role: models.RoleOfficer}, engine.CreateDocumentInput{
		ID: "d1", Type: "permit", OwnerID: "c1", ContentHash: "abc",
	})
	require.NoError(t, err)

	require.Zero(t, d.pruneDelivered(ctx), "undelivered events are kept")

	n, err := d.relay.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, int64(1), d.pruneDelivered(ctx))
}

func TestEventStreamOutlivesWriteTimeout(t *testing.T) {
	testutil.SkipIfNoNetwork(t)

	cfg := testConfig(t, config.BackendMemory)
	cfg.Server.WriteTimeout = 300 * time.Millisecond
	d, err := New(context.Background(), cfg, zerolog.Nop(), Options{Addr: "127.0.0.1:0", Secret: testSecret})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + d.Addr() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	token, err := identity.NewVerifier(testSecret, cfg.Server.JWTIssuer).Issue("o1", "officer", time.Hour)
	require.NoError(t, err)

	streamCtx, streamCancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, "http://"+d.Addr()+"/v1/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	time.Sleep(2 * cfg.Server.WriteTimeout)

	body := `{"id":"d1","type":"permit","owner_id":"c1","content_hash":"abc"}`
	create, err := http.NewRequest(http.MethodPost, "http://"+d.Addr()+"/v1/documents", strings.NewReader(body))
	require.NoError(t, err)
	create.Header.Set("Authorization", "Bearer "+token)
	create.Header.Set("Content-Type", "application/json")
	created, err := http.DefaultClient.Do(create)
	require.NoError(t, err)
	created.Body.Close()
	require.Equal(t, http.StatusCreated, created.StatusCode)

	timeout := time.After(5 * time.Second)
	for received := false; !received; {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before the event arrived")
			received = line == "event: "+string(models.EventTypeDocumentCreated)
		case <-timeout:
			t.Fatal("no DocumentCreated event on the stream")
		}
	}

	streamCancel()
	resp.Body.Close()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
