package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// MaxBatchSize bounds the number of documents one atomic commit may touch.
const MaxBatchSize = 500

const DefaultMaxAttempts = 5

var (
	// ErrAlreadyExists is returned by Tx.Create when the document is present.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict marks an error that should make RunTransaction retry the whole function.
	ErrConflict = errors.New("transaction conflict")
)

// Retry wraps err so RunTransaction re-runs the transaction function.
func Retry(err error) error {
	return fmt.Errorf("%w: %w", ErrConflict, err)
}

type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter matches a top level or dotted JSON field of a document.
type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Page(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

func Collection(name string) Query {
	return Query{Collection: name}
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func (q Query) validate() error {
	if q.Collection == "" {
		return errors.New("query collection is required")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	return nil
}

// Snapshot is one document as read from the store.
type Snapshot struct {
	Collection string
	Id         string
	Data       json.RawMessage
	Version    int64
}

func (s *Snapshot) Decode(dst any) error {
	if err := json.Unmarshal(s.Data, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", s.Collection, s.Id, err)
	}
	return nil
}

// Tx is the view a transaction function gets. Reads observe the transaction's own
// pending writes; writes become visible to others only when the function returns nil.
type Tx interface {
	Get(collection, id string) (*Snapshot, error)
	Query(q Query) ([]Snapshot, error)
	Set(collection, id string, data any) error
	Create(collection, id string, data any) error
	Delete(collection, id string) error
}

// Store is the document database the ledgers are written against.
// Get reports a missing document with utils.NotFoundError.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// RunTransaction runs fn atomically, re-running it on contention a bounded
	// number of times before failing with utils.ConflictError.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// BatchWrite commits writes in chunks of at most MaxBatchSize; each chunk is atomic.
	BatchWrite(ctx context.Context, writes []Write) error
}

type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteCreate
	WriteDelete
)

type Write struct {
	Kind       WriteKind
	Collection string
	Id         string
	Data       any
}

func batchWrite(ctx context.Context, s Store, writes []Write) error {
	for start := 0; start < len(writes); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(writes))
		chunk := writes[start:end]
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			for _, w := range chunk {
				var err error
				switch w.Kind {
				case WriteSet:
					err = tx.Set(w.Collection, w.Id, w.Data)
				case WriteCreate:
					err = tx.Create(w.Collection, w.Id, w.Data)
				case WriteDelete:
					err = tx.Delete(w.Collection, w.Id)
				default:
					err = fmt.Errorf("unknown write kind %d", w.Kind)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("batch write %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}
