package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/retail_backend/utils"
)

type memDoc struct {
	data    json.RawMessage
	version int64
}

// MemoryStore keeps documents in process. Transactions are optimistic: every
// document read (and every collection queried) is validated at commit and the
// function is re-run when another commit got there first.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[string]map[string]*memDoc
	collVersion map[string]int64
	clock       int64
	maxAttempts int
}

func NewMemoryStore(maxAttempts int) *MemoryStore {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryStore{
		docs:        make(map[string]map[string]*memDoc),
		collVersion: make(map[string]int64),
		maxAttempts: maxAttempts,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, utils.NewNotFoundError(collection, id)
	}
	return &Snapshot{Collection: collection, Id: id, Data: doc.data, Version: doc.version}, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snaps := s.collectionLocked(q.Collection)
	s.mu.RUnlock()
	return applyQuery(snaps, q)
}

func (s *MemoryStore) collectionLocked(collection string) []Snapshot {
	docs := s.docs[collection]
	snaps := make([]Snapshot, 0, len(docs))
	for id, doc := range docs {
		snaps = append(snaps, Snapshot{Collection: collection, Id: id, Data: doc.data, Version: doc.version})
	}
	return snaps
}

func (s *MemoryStore) BatchWrite(ctx context.Context, writes []Write) error {
	return batchWrite(ctx, s, writes)
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newMemTx(s)
		err := fn(ctx, tx)
		if err == nil {
			err = s.commit(tx)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
		// small jittered pause so competing writers interleave
		time.Sleep(time.Duration(attempt) * time.Millisecond)
	}
	return &utils.ConflictError{Resource: "transaction", Attempts: s.maxAttempts, Err: lastErr}
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range tx.reads {
		var current int64
		if doc, ok := s.docs[key.collection][key.id]; ok {
			current = doc.version
		}
		if current != version {
			return fmt.Errorf("%w: %s/%s changed", ErrConflict, key.collection, key.id)
		}
	}
	for collection, version := range tx.queried {
		if s.collVersion[collection] != version {
			return fmt.Errorf("%w: collection %s changed", ErrConflict, collection)
		}
	}
	for _, key := range tx.order {
		w := tx.pending[key]
		if w.create {
			if _, exists := s.docs[key.collection][key.id]; exists {
				return fmt.Errorf("%w: %s/%s created concurrently", ErrConflict, key.collection, key.id)
			}
		}
	}

	for _, key := range tx.order {
		w := tx.pending[key]
		coll := s.docs[key.collection]
		if coll == nil {
			coll = make(map[string]*memDoc)
			s.docs[key.collection] = coll
		}
		s.clock++
		if w.deleted {
			delete(coll, key.id)
		} else {
			coll[key.id] = &memDoc{data: w.data, version: s.clock}
		}
		s.collVersion[key.collection] = s.clock
	}
	return nil
}

type docKey struct {
	collection string
	id         string
}

type pendingWrite struct {
	data    json.RawMessage
	deleted bool
	create  bool
}

type memTx struct {
	store   *MemoryStore
	reads   map[docKey]int64
	queried map[string]int64
	pending map[docKey]*pendingWrite
	order   []docKey
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		store:   s,
		reads:   make(map[docKey]int64),
		queried: make(map[string]int64),
		pending: make(map[docKey]*pendingWrite),
	}
}

func (t *memTx) Get(collection, id string) (*Snapshot, error) {
	key := docKey{collection, id}
	if w, ok := t.pending[key]; ok {
		if w.deleted {
			return nil, utils.NewNotFoundError(collection, id)
		}
		return &Snapshot{Collection: collection, Id: id, Data: w.data}, nil
	}
	t.store.mu.RLock()
	doc, ok := t.store.docs[collection][id]
	var snap *Snapshot
	if ok {
		snap = &Snapshot{Collection: collection, Id: id, Data: doc.data, Version: doc.version}
	}
	t.store.mu.RUnlock()
	if _, seen := t.reads[key]; !seen {
		if snap != nil {
			t.reads[key] = snap.Version
		} else {
			t.reads[key] = 0
		}
	}
	if snap == nil {
		return nil, utils.NewNotFoundError(collection, id)
	}
	return snap, nil
}

func (t *memTx) Query(q Query) ([]Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	snaps := t.store.collectionLocked(q.Collection)
	version := t.store.collVersion[q.Collection]
	t.store.mu.RUnlock()
	if _, seen := t.queried[q.Collection]; !seen {
		t.queried[q.Collection] = version
	}

	merged := snaps[:0]
	for _, snap := range snaps {
		if _, overridden := t.pending[docKey{q.Collection, snap.Id}]; !overridden {
			merged = append(merged, snap)
		}
	}
	for _, key := range t.order {
		if key.collection != q.Collection {
			continue
		}
		if w := t.pending[key]; !w.deleted {
			merged = append(merged, Snapshot{Collection: key.collection, Id: key.id, Data: w.data})
		}
	}
	return applyQuery(merged, q)
}

func (t *memTx) stage(key docKey, w *pendingWrite) {
	if _, ok := t.pending[key]; !ok {
		t.order = append(t.order, key)
	}
	t.pending[key] = w
}

func (t *memTx) Set(collection, id string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	key := docKey{collection, id}
	create := false
	if prev, ok := t.pending[key]; ok {
		create = prev.create
	}
	t.stage(key, &pendingWrite{data: raw, create: create})
	return nil
}

func (t *memTx) Create(collection, id string, data any) error {
	if _, err := t.Get(collection, id); err == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	} else if !utils.IsNotFound(err) {
		return err
	}
	raw, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	t.stage(docKey{collection, id}, &pendingWrite{data: raw, create: true})
	return nil
}

func (t *memTx) Delete(collection, id string) error {
	t.stage(docKey{collection, id}, &pendingWrite{deleted: true})
	return nil
}

func applyQuery(snaps []Snapshot, q Query) ([]Snapshot, error) {
	type row struct {
		snap   Snapshot
		fields map[string]any
	}
	rows := make([]row, 0, len(snaps))
	for _, snap := range snaps {
		var fields map[string]any
		if err := json.Unmarshal(snap.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", snap.Collection, snap.Id, err)
		}
		if matchesAll(fields, q.Filters) {
			rows = append(rows, row{snap: snap, fields: fields})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if q.OrderBy == "" {
			return rows[i].snap.Id < rows[j].snap.Id
		}
		a, aok := lookupField(rows[i].fields, q.OrderBy)
		b, bok := lookupField(rows[j].fields, q.OrderBy)
		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c, _ = compareValues(a, b)
		}
		if c == 0 {
			c = strings.Compare(rows[i].snap.Id, rows[j].snap.Id)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snap
	}
	return out, nil
}

func matchesAll(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := lookupField(fields, f.Field)
		if !ok {
			return false
		}
		c, comparable := compareValues(v, f.Value)
		if !comparable {
			if f.Op == OpNotEqual {
				continue
			}
			return false
		}
		var hit bool
		switch f.Op {
		case OpEqual:
			hit = c == 0
		case OpNotEqual:
			hit = c != 0
		case OpLess:
			hit = c < 0
		case OpLessEqual:
			hit = c <= 0
		case OpGreater:
			hit = c > 0
		case OpGreaterEqual:
			hit = c >= 0
		}
		if !hit {
			return false
		}
	}
	return true
}

func lookupField(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// normalize folds named Go types (enums, ints) into the shapes encoding/json decodes to.
func normalize(v any) any {
	switch n := v.(type) {
	case nil, string, bool, float64:
		return n
	case time.Time:
		return n.Format(time.RFC3339Nano)
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() != reflect.String {
			return n.String()
		}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// compareValues orders a decoded JSON value against a Go value. Strings that are both
// RFC 3339 timestamps compare chronologically.
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bs)
		if aerr == nil && berr == nil {
			return at.Compare(bt), true
		}
		return strings.Compare(av, bs), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
