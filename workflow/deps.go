package workflow

import (
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const DefaultReturnLockTTL = 15 * time.Second

// Deps are the services the multi-step workflows orchestrate.
type Deps struct {
	Store       store.Store
	Products    *models.ProductRegistry
	Inventory   *models.InventoryLedger
	Identifiers *models.IdentifierLedger
	Invoices    *models.InvoiceEngine
	Suppliers   *models.SupplierLedgerService
	Dispatcher  *notification.Dispatcher
	// Locker serializes returns of one invoice across instances; nil on a single instance.
	Locker  *redislock.Client
	LockTTL time.Duration
	Logger  *logrus.Logger
	Tracer  trace.Tracer
	Now     models.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("retail-backend/workflow")
	}
	if d.LockTTL <= 0 {
		d.LockTTL = DefaultReturnLockTTL
	}
	if d.Now == nil {
		d.Now = models.SystemClock
	}
	if d.Dispatcher == nil {
		d.Dispatcher = notification.NewDispatcher(nil, d.Logger, "")
	}
	return d
}
