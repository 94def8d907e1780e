package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/handlers"
	"github.com/mmdatafocus/retail_backend/middlewares"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, workflow.Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := store.NewMemoryStore(store.DefaultMaxAttempts * 4)
	c := cache.NewMemoryCache(0)
	t.Cleanup(c.Close)
	inventory := models.NewInventoryLedger(s, c, time.Minute, logger, nil)
	identifiers := models.NewIdentifierLedger(s, logger, nil)
	d := workflow.Deps{
		Store:       s,
		Products:    models.NewProductRegistry(s, c, time.Minute, inventory, logger, nil),
		Inventory:   inventory,
		Identifiers: identifiers,
		Invoices:    models.NewInvoiceEngine(s, inventory, identifiers, logger, nil),
		Suppliers:   models.NewSupplierLedgerService(s, logger, nil),
		Dispatcher:  notification.NewDispatcher(nil, logger, "MM"),
		Logger:      logger,
	}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.LoaderMiddleware(inventory))
	handlers.NewHandler(d).Register(r)
	return r, d
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.CorrelationIdHeader, "test-cid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestProductsAndInventory(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/api/products", map[string]any{
		"sku": "CABLE", "name": "USB cable", "salesPrice": "10", "openingQuantity": 4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/products", map[string]any{"sku": "MUG", "name": "Mug", "salesPrice": "3"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "CABLE", products[0]["sku"])
	assert.EqualValues(t, 4, products[0]["stock"])
	assert.EqualValues(t, 0, products[1]["stock"])

	w = do(t, r, http.MethodPost, "/api/inventory/CABLE/adjustments", map[string]any{"quantity": 6})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 10, decode(t, w)["totalQuantity"])

	w = do(t, r, http.MethodPost, "/api/inventory/CABLE/adjustments", map[string]any{"quantity": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code, "removing stock needs a reason")

	w = do(t, r, http.MethodPost, "/api/inventory/CABLE/adjustments", map[string]any{"quantity": -100, "forWhat": "shrinkage"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/inventory/CABLE/adjustments", map[string]any{"quantity": -3, "forWhat": "shrinkage"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/inventory/CABLE/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 7, page["totalQuantity"])
	assert.Len(t, page["entries"], 2)

	w = do(t, r, http.MethodGet, "/api/products/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "test-cid", decode(t, w)["correlationId"])
	assert.Equal(t, "test-cid", w.Header().Get(middlewares.CorrelationIdHeader))

	w = do(t, r, http.MethodPost, "/api/products", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaleAndReturnFlow(t *testing.T) {
	r, _ := newRouter(t)
	w := do(t, r, http.MethodPost, "/api/products", map[string]any{"sku": "PHONE", "name": "Phone", "salesPrice": "100", "identifierType": "serial"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/products", map[string]any{"sku": "CABLE", "name": "Cable", "salesPrice": "10", "openingQuantity": 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/inventory/PHONE/adjustments", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code, "serial stock arrives through purchases")

	w = do(t, r, http.MethodPost, "/api/purchases", map[string]any{
		"contactId": "SUP-1",
		"items":     []map[string]any{{"productId": "PHONE", "quantity": 2, "unitCost": "70", "identifiers": []string{"S1", "S2"}}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/invoices", map[string]any{
		"items": []map[string]any{
			{"id": "PHONE", "quantity": 1, "identifierValue": "S1"},
			{"id": "CABLE", "quantity": 2},
		},
		"customer":      map[string]any{"name": "Walk-in"},
		"paymentMethod": "Cash",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invoice := decode(t, w)["invoice"].(map[string]any)
	assert.Equal(t, "Inv-01", invoice["invoiceNumber"])

	w = do(t, r, http.MethodPost, "/api/invoices", map[string]any{
		"items":         []map[string]any{{"id": "CABLE", "quantity": 50}},
		"customer":      map[string]any{"name": "Walk-in"},
		"paymentMethod": "Cash",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/invoices/Inv-01/returns", map[string]any{
		"items": []map[string]any{
			{"id": "PHONE", "identifierValue": "S1", "returnType": "Opened"},
			{"id": "CABLE", "quantity": 1, "returnType": "Good"},
		},
		"reason": "unwanted",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ret := decode(t, w)
	assert.Equal(t, "110", ret["returnAmount"])
	assert.Len(t, ret["groups"], 2)

	w = do(t, r, http.MethodGet, "/api/invoices/Inv-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	original := decode(t, w)
	assert.Equal(t, true, original["isPartiallyReturned"])
	assert.Equal(t, []any{"rtn-inv-Inv-01-#1"}, original["returnInvoices"])

	w = do(t, r, http.MethodGet, "/api/invoices?isReturn=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.Len(t, list["invoices"], 1)

	w = do(t, r, http.MethodGet, "/api/invoices?isReturn=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/identifiers/serial/PHONE", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/identifiers/serial/PHONE/return-to-supplier", map[string]any{"values": []string{"S1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["stock"])

	w = do(t, r, http.MethodGet, "/api/identifiers/none/CABLE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPartialReturnIsMultiStatus(t *testing.T) {
	r, d := newRouter(t)
	w := do(t, r, http.MethodPost, "/api/products", map[string]any{"sku": "PHONE", "name": "Phone", "salesPrice": "100", "identifierType": "serial"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/purchases", map[string]any{
		"contactId": "SUP-1",
		"items":     []map[string]any{{"productId": "PHONE", "quantity": 2, "identifiers": []string{"S1", "S2"}}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/invoices", map[string]any{
		"items": []map[string]any{
			{"id": "PHONE", "quantity": 1, "identifierValue": "S1"},
			{"id": "PHONE", "quantity": 1, "identifierValue": "S2"},
		},
		"customer":      map[string]any{"name": "Walk-in"},
		"paymentMethod": "Cash",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	_, err := d.Identifiers.MarkReturnedGood(context.Background(), models.IdentifierTypeSerial, "PHONE", "S2")
	require.NoError(t, err)

	w = do(t, r, http.MethodPost, "/api/invoices/Inv-01/returns", map[string]any{
		"items": []map[string]any{
			{"id": "PHONE", "identifierValue": "S1", "returnType": "Good"},
			{"id": "PHONE", "identifierValue": "S2", "returnType": "Damaged"},
		},
	})
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["error"])
	groups := body["groups"].([]any)
	require.Len(t, groups, 2)
	assert.Equal(t, "completed", groups[0].(map[string]any)["status"])
	assert.Equal(t, "failed", groups[1].(map[string]any)["status"])
}

func TestSupplierPayments(t *testing.T) {
	r, _ := newRouter(t)
	w := do(t, r, http.MethodPost, "/api/products", map[string]any{"sku": "CABLE", "name": "Cable", "salesPrice": "10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/purchases", map[string]any{
		"contactId": "SUP-1",
		"items":     []map[string]any{{"productId": "CABLE", "quantity": 10, "unitCost": "25"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	purchaseId := decode(t, w)["purchase"].(map[string]any)["purchaseId"].(string)

	w = do(t, r, http.MethodPost, "/api/purchases/"+purchaseId+"/payments", map[string]any{"amount": "100", "method": "Card", "cardLast4": "4242"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "150", decode(t, w)["pendingAmount"])

	w = do(t, r, http.MethodPost, "/api/purchases/"+purchaseId+"/payments", map[string]any{"amount": "10", "method": "Card"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/purchases/"+purchaseId+"/payments", map[string]any{"amount": "150", "method": "BankTransfer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/purchases/"+purchaseId+"/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ledger := decode(t, w)
	assert.Equal(t, "Paid", ledger["status"])
	assert.Len(t, ledger["paidAmountHistory"], 2)

	w = do(t, r, http.MethodGet, "/api/purchases/PUR-missing/payments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
