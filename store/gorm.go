package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWaitTimout = 1205
	mysqlErrDeadlock       = 1213
)

// Document is the row every collection is stored in.
type Document struct {
	Collection string          `gorm:"primaryKey;size:64;not null"`
	DocId      string          `gorm:"primaryKey;size:191;not null"`
	Data       json.RawMessage `gorm:"type:json;not null"`
	Version    int64           `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) snapshot() *Snapshot {
	return &Snapshot{Collection: d.Collection, Id: d.DocId, Data: d.Data, Version: d.Version}
}

// GormStore keeps documents as JSON rows in MySQL. Transaction reads take
// SELECT ... FOR UPDATE row locks; deadlocks and lock timeouts are retried.
type GormStore struct {
	db          *gorm.DB
	maxAttempts int
}

func NewGormStore(db *gorm.DB, maxAttempts int) *GormStore {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &GormStore{db: db, maxAttempts: maxAttempts}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Document{})
}

func (s *GormStore) Get(ctx context.Context, collection, id string) (*Snapshot, error) {
	return getDocument(s.db.WithContext(ctx), collection, id, false)
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	return queryDocuments(s.db.WithContext(ctx), q, false)
}

func (s *GormStore) BatchWrite(ctx context.Context, writes []Write) error {
	return batchWrite(ctx, s, writes)
}

func (s *GormStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, &gormTx{db: tx})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) && !isRetryableMySQLError(err) {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt*attempt) * 10 * time.Millisecond)
	}
	return &utils.ConflictError{Resource: "transaction", Attempts: s.maxAttempts, Err: lastErr}
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Get(collection, id string) (*Snapshot, error) {
	return getDocument(t.db, collection, id, true)
}

func (t *gormTx) Query(q Query) ([]Snapshot, error) {
	return queryDocuments(t.db, q, true)
}

func (t *gormTx) Set(collection, id string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	now := time.Now().UTC()
	doc := Document{Collection: collection, DocId: id, Data: raw, Version: 1, CreatedAt: now, UpdatedAt: now}
	err = t.db.Clauses(clause.OnConflict{
		DoUpdates: clause.Assignments(map[string]any{
			"data":       raw,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}),
	}).Create(&doc).Error
	return classify(err)
}

func (t *gormTx) Create(collection, id string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	now := time.Now().UTC()
	doc := Document{Collection: collection, DocId: id, Data: raw, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := t.db.Create(&doc).Error; err != nil {
		var mysqlErr *mysqlDriver.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
		}
		return classify(err)
	}
	return nil
}

func (t *gormTx) Delete(collection, id string) error {
	err := t.db.Where("collection = ? AND doc_id = ?", collection, id).Delete(&Document{}).Error
	return classify(err)
}

func getDocument(db *gorm.DB, collection, id string, lock bool) (*Snapshot, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var doc Document
	err := db.Where("collection = ? AND doc_id = ?", collection, id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError(collection, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return doc.snapshot(), nil
}

func queryDocuments(db *gorm.DB, q Query, lock bool) ([]Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	db = db.Model(&Document{}).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		expr, value := jsonCondition(f)
		db = db.Where(expr, jsonPath(f.Field), value)
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		// field names are validated against fieldPattern before being inlined
		db = db.Order(fmt.Sprintf("JSON_EXTRACT(data, '%s') %s, doc_id %s", jsonPath(q.OrderBy), dir, dir))
	} else {
		db = db.Order("doc_id ASC")
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit == 0 {
			// MySQL has no OFFSET without LIMIT
			db = db.Limit(1 << 31)
		}
		db = db.Offset(q.Offset)
	}
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var docs []Document
	if err := db.Find(&docs).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]Snapshot, len(docs))
	for i := range docs {
		out[i] = *docs[i].snapshot()
	}
	return out, nil
}

func jsonPath(field string) string {
	return "$." + field
}

func jsonCondition(f Filter) (string, any) {
	value := normalize(f.Value)
	op := string(f.Op)
	if f.Op == OpEqual {
		op = "="
	}
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(data, ?)) %s ?", op), v
	case bool:
		// JSON booleans compare against CAST('true' AS JSON)
		lit := "false"
		if v {
			lit = "true"
		}
		return fmt.Sprintf("JSON_EXTRACT(data, ?) %s CAST(? AS JSON)", op), lit
	default:
		return fmt.Sprintf("JSON_EXTRACT(data, ?) %s ?", op), v
	}
}

func isRetryableMySQLError(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	switch mysqlErr.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimout, mysqlErrDuplicateEntry:
		return true
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableMySQLError(err) {
		return Retry(err)
	}
	if strings.Contains(err.Error(), "Deadlock found") {
		return Retry(err)
	}
	return err
}
