package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/engine"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/database"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/lock"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/provider"
	"github.com/amifistore/cekot-sub000/internal/repository"
	"github.com/amifistore/cekot-sub000/internal/service"
	"github.com/amifistore/cekot-sub000/internal/webhook"
	"github.com/amifistore/cekot-sub000/pkg/idgen"
	"github.com/amifistore/cekot-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeDispatcher struct {
	result provider.DispatchResult
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, productCode, target, providerRef string) provider.DispatchResult {
	return d.result
}

type apiFixture struct {
	router     *gin.Engine
	db         *gorm.DB
	eng        *engine.Engine
	cfg        *config.Config
	dispatcher *fakeDispatcher
	auditPath  string
	ledger     *repository.LedgerRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	ids, err := idgen.New(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Business.RefundOnFailure = true
	cfg.Business.OperatorIDs = []string{"op1"}

	dispatcher := &fakeDispatcher{result: provider.DispatchResult{Outcome: provider.DispatchAccepted}}
	eng := engine.New(db, cfg, lock.NewKeyedMutex(), dispatcher, ids)

	auditPath := filepath.Join(t.TempDir(), "webhook_raw.log")
	audit, err := webhook.NewAuditLog(auditPath)
	require.NoError(t, err)

	walletSvc := service.NewWalletService(db, ids)
	topupSvc := service.NewTopupService(db, ids)
	catalogSvc := service.NewCatalogService(db, nil)

	h := NewHandler(db, cfg, eng, walletSvc, topupSvc, catalogSvc, audit)

	return &apiFixture{
		router:     SetupRouter(h, cfg),
		db:         db,
		eng:        eng,
		cfg:        cfg,
		dispatcher: dispatcher,
		auditPath:  auditPath,
		ledger:     repository.NewLedgerRepository(db, ids),
	}
}

func (f *apiFixture) seedFundedUser(t *testing.T, chatID string, balance int64) {
	t.Helper()
	_, err := repository.NewUserRepository(f.db).GetOrCreate(context.Background(), chatID, "", "")
	require.NoError(t, err)
	_, err = f.ledger.Credit(context.Background(), nil, chatID, balance, model.TransactionKindTopup, "seed")
	require.NoError(t, err)
}

func (f *apiFixture) seedProduct(t *testing.T, code string, price int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.Product{
		Code:        code,
		Name:        "Data 5GB",
		Price:       price,
		Status:      model.ProductStatusActive,
		ProviderTag: code,
	}).Error)
}

func (f *apiFixture) placeOrder(t *testing.T, chatID, code, target string) *model.Order {
	t.Helper()
	order, err := f.eng.PlaceOrder(context.Background(), chatID, code, target)
	require.NoError(t, err)
	return order
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func postJSON(path string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWebhookResolvesOrder(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFundedUser(t, "u1", 10000)
	f.seedProduct(t, "DATA5GB", 7500)
	order := f.placeOrder(t, "u1", "DATA5GB", "081234567890")

	message := fmt.Sprintf("ReffID: %s Status: Sukses Keterangan: SN: 1234567890123 tujuan 081234567890", order.ProviderRef)
	w := f.do(postJSON("/webhook", gin.H{"message": message}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)

	got, err := repository.NewOrderRepository(f.db).GetByProviderRef(context.Background(), order.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusSucceeded, got.Status)
	require.Equal(t, "1234567890123", got.SN)

	// The raw payload landed in the audit log before parsing.
	raw, err := os.ReadFile(f.auditPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), order.ProviderRef)
}

func TestWebhookFormBody(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFundedUser(t, "u1", 10000)
	f.seedProduct(t, "DATA5GB", 7500)
	order := f.placeOrder(t, "u1", "DATA5GB", "081234567890")

	message := fmt.Sprintf("reff_id=%s status=Proses", order.ProviderRef)
	form := "message=" + strings.ReplaceAll(message, " ", "+")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repository.NewOrderRepository(f.db).GetByProviderRef(context.Background(), order.ProviderRef)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusProcessing, got.Status)
}

func TestWebhookUnknownRefAcknowledged(t *testing.T) {
	f := newAPIFixture(t)

	message := "ReffID: TRX20260901000000999 Status: Sukses Keterangan: ok banget"
	w := f.do(postJSON("/webhook", gin.H{"message": message}))

	// 200 so the provider stops re-posting; the reconciler owns the rest.
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"dropped"`)
}

func TestWebhookUnparseableRejected(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(postJSON("/webhook", gin.H{"message": "halo kak mau order dong"}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(postJSON("/webhook", gin.H{"other": "field"}))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSecretEnforced(t *testing.T) {
	f := newAPIFixture(t)
	f.cfg.Webhook.Secret = "s3cret"

	w := f.do(postJSON("/webhook", gin.H{"message": "x"}))
	resp := envelope(t, w)
	require.Equal(t, response.CodeForbidden, resp.Code)

	req := postJSON("/webhook", gin.H{"message": "reff_id=TRXX status=Proses"})
	req.Header.Set("X-Webhook-Token", "s3cret")
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPlaceOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFundedUser(t, "u1", 10000)
	f.seedProduct(t, "DATA5GB", 7500)

	w := f.do(postJSON("/api/v1/order/place", gin.H{
		"chat_id":        "u1",
		"product_code":   "DATA5GB",
		"customer_input": "081234567890",
	}))
	resp := envelope(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	require.Equal(t, model.OrderStatusDispatched, data["status"])
	require.NotEmpty(t, data["provider_ref"])
}

func TestPlaceOrderInsufficientFundsCode(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFundedUser(t, "u1", 100)
	f.seedProduct(t, "DATA5GB", 7500)

	w := f.do(postJSON("/api/v1/order/place", gin.H{
		"chat_id":        "u1",
		"product_code":   "DATA5GB",
		"customer_input": "081234567890",
	}))
	resp := envelope(t, w)
	require.Equal(t, response.CodeInsufficientFunds, resp.Code)
	require.Equal(t, "saldo tidak cukup", resp.Message)
}

func TestOrderSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	f.seedFundedUser(t, "u1", 10000)
	f.seedProduct(t, "DATA5GB", 7500)
	order := f.placeOrder(t, "u1", "DATA5GB", "081234567890")

	w := f.do(httptest.NewRequest(http.MethodGet, "/order/"+order.ProviderRef, nil))
	resp := envelope(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/order/TRX00000000000000000", nil))
	resp = envelope(t, w)
	require.Equal(t, response.CodeNotFound, resp.Code)
}

func TestBalanceRegistersUser(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/account/balance?chat_id=newuser", nil))
	resp := envelope(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	require.Equal(t, "newuser", data["chat_id"])
	require.Equal(t, float64(0), data["balance"])
}

func TestAdminRequiresOperator(t *testing.T) {
	f := newAPIFixture(t)

	body := gin.H{"request_id": 1}

	w := f.do(postJSON("/api/v1/admin/topup/approve", body))
	resp := envelope(t, w)
	require.Equal(t, response.CodeForbidden, resp.Code)

	req := postJSON("/api/v1/admin/topup/approve", body)
	req.Header.Set("X-Operator-ID", "intruder")
	resp = envelope(t, f.do(req))
	require.Equal(t, response.CodeForbidden, resp.Code)

	req = postJSON("/api/v1/admin/topup/approve", body)
	req.Header.Set("X-Operator-ID", "op1")
	resp = envelope(t, f.do(req))
	require.Equal(t, response.CodeTopupNotFound, resp.Code)
}

func TestTopupRequestAndApproveFlow(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(postJSON("/api/v1/topup/request", gin.H{
		"chat_id": "u1",
		"amount":  50000,
	}))
	resp := envelope(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	requestID := int64(data["request_id"].(float64))
	transferAmount := int64(data["transfer_amount"].(float64))
	require.GreaterOrEqual(t, transferAmount, int64(50000))

	req := postJSON("/api/v1/admin/topup/approve", gin.H{"request_id": requestID})
	req.Header.Set("X-Operator-ID", "op1")
	resp = envelope(t, f.do(req))
	require.Equal(t, response.CodeSuccess, resp.Code)

	// Double approval reports already settled and credits nothing extra.
	req = postJSON("/api/v1/admin/topup/approve", gin.H{"request_id": requestID})
	req.Header.Set("X-Operator-ID", "op1")
	resp = envelope(t, f.do(req))
	require.Equal(t, response.CodeTopupSettled, resp.Code)

	balance, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, transferAmount, balance)
}

func TestProductList(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProduct(t, "DATA5GB", 7500)
	require.NoError(t, f.db.Create(&model.Product{
		Code:   "GONE",
		Name:   "Gone",
		Price:  1,
		Status: model.ProductStatusInactive,
	}).Error)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/product/list", nil))
	resp := envelope(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	list := resp.Data.(map[string]interface{})["list"].([]interface{})
	require.Len(t, list, 1)
}
