package store

import (
	"context"

	"github.com/mmdatafocus/retail_backend/utils"
)

// GetAs loads and decodes one document.
func GetAs[T any](ctx context.Context, s Store, collection, id string) (*T, error) {
	snap, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func QueryAs[T any](ctx context.Context, s Store, q Query) ([]T, error) {
	snaps, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](snaps)
}

// TxGet loads and decodes one document inside a transaction.
func TxGet[T any](tx Tx, collection, id string) (*T, error) {
	snap, err := tx.Get(collection, id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TxFind is TxGet that reports absence as (nil, nil).
func TxFind[T any](tx Tx, collection, id string) (*T, error) {
	out, err := TxGet[T](tx, collection, id)
	if utils.IsNotFound(err) {
		return nil, nil
	}
	return out, err
}

func TxQuery[T any](tx Tx, q Query) ([]T, error) {
	snaps, err := tx.Query(q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](snaps)
}

func decodeAll[T any](snaps []Snapshot) ([]T, error) {
	out := make([]T, 0, len(snaps))
	for i := range snaps {
		var v T
		if err := snaps[i].Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// TransactionalUpdate is an atomic read-modify-write of a single document.
// update receives nil when the document does not exist; returning a nil value deletes it.
func TransactionalUpdate[T any](ctx context.Context, s Store, collection, id string, update func(current *T) (*T, error)) (*T, error) {
	var result *T
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		current, err := TxFind[T](tx, collection, id)
		if err != nil {
			return err
		}
		next, err := update(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = nil
			if current == nil {
				return nil
			}
			return tx.Delete(collection, id)
		}
		result = next
		return tx.Set(collection, id, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
