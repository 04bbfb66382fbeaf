package httphandler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/internal/rewardqueue"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/modules/rewards"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/poybro/soknode/pkg/decimals"
	"github.com/poybro/soknode/pkg/errorhandler"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app   *fiber.App
	store *state.Store
	queue *rewardqueue.Memory
	owner *crypto.Wallet
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	owner, err := crypto.Generate()
	require.NoError(t, err)

	store := state.New("", decimal.Zero)
	queue := rewardqueue.NewMemory()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := rewards.New(store, queue, crypto.NewVerifier(), config.EconomyConfig{
		PricePer100Views:   decimals.MustFromString("1.0"),
		PlatformFeePercent: decimal.NewFromInt(20),
		WorkerTimeout:      3 * time.Minute,
	},
		rewards.WithClock(func() time.Time { return now }),
		rewards.WithRandom(func(int) int { return 0 }),
	)

	app := fiber.New(fiber.Config{ErrorHandler: errorhandler.NewHTTPErrorHandler()})
	require.NoError(t, New(svc).Mount(app))
	return &testEnv{app: app, store: store, queue: queue, owner: owner}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestHeartbeatAndList(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/heartbeat", `{"worker_address":"w1","worker_type":"view_worker"}`)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/heartbeat", `{"worker_address":"b1","worker_type":"backlink_service","status":"BUSY"}`)
	assert.Equal(t, http.StatusOK, status)

	status, raw := env.do(t, http.MethodPost, "/heartbeat", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(raw), "worker_address")

	status, raw = env.do(t, http.MethodGet, "/api/v1/workers/list_by_type", "")
	require.Equal(t, http.StatusOK, status)
	var groups map[string][]workerResult
	require.NoError(t, json.Unmarshal(raw, &groups))
	require.Len(t, groups["view_worker"], 1)
	assert.Equal(t, "w1", groups["view_worker"][0].Address)
	assert.True(t, groups["view_worker"][0].Online)
	require.Len(t, groups["backlink_service"], 1)
	assert.Equal(t, "BUSY", groups["backlink_service"][0].Status)
}

func TestWebsiteFlow(t *testing.T) {
	env := newTestEnv(t)
	body := `{"url":"my-site.com","owner_public_key":"` + env.owner.PublicKey() + `"}`

	status, raw := env.do(t, http.MethodPost, "/api/v1/websites/add", body)
	require.Equal(t, http.StatusCreated, status, string(raw))
	var added addWebsiteResponse
	require.NoError(t, json.Unmarshal(raw, &added))
	assert.Equal(t, "https://my-site.com", added.Website.URL)
	assert.Equal(t, env.owner.Address(), added.Website.Owner)

	status, _ = env.do(t, http.MethodPost, "/api/v1/websites/add", body)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/websites/get_one", "")
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, env.store.Update(func(st *state.State) error {
		st.Websites["https://my-site.com"].ViewsFunded = decimal.NewFromInt(1)
		return nil
	}))

	status, raw = env.do(t, http.MethodGet, "/api/v1/websites/get_one", "")
	require.Equal(t, http.StatusOK, status)
	var assignment rewards.Assignment
	require.NoError(t, json.Unmarshal(raw, &assignment))
	assert.Equal(t, "https://my-site.com", assignment.URL)

	proof := `{"viewId":"` + assignment.ViewID + `","worker_address":"w1"}`
	status, _ = env.do(t, http.MethodPost, "/api/v1/views/submit_proof", proof)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"w1"}, env.queue.Pending())

	status, _ = env.do(t, http.MethodPost, "/api/v1/views/submit_proof", proof)
	assert.Equal(t, http.StatusPaymentRequired, status)

	status, raw = env.do(t, http.MethodGet, "/api/v1/websites/list?owner="+env.owner.Address(), "")
	require.Equal(t, http.StatusOK, status)
	var list []websiteResult
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Info.ViewsCompleted.String())

	status, _ = env.do(t, http.MethodGet, "/api/v1/websites/list", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/websites/remove", `{"url":"https://my-site.com","owner_address":"someone"}`)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/websites/remove", `{"url":"https://my-site.com","owner_address":"`+env.owner.Address()+`"}`)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/websites/remove", `{"url":"https://my-site.com","owner_address":"`+env.owner.Address()+`"}`)
	assert.Equal(t, http.StatusNotFound, status)
}
