package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/masterdata/shared"
)

type fakeRepo struct {
	stores map[int64]Store
	nextID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stores: make(map[int64]Store)}
}

func (r *fakeRepo) List(ctx context.Context, filters shared.ListFilters) ([]Store, int, error) {
	var result []Store
	for _, s := range r.stores {
		result = append(result, s)
	}
	return result, len(result), nil
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (Store, error) {
	s, ok := r.stores[id]
	if !ok {
		return Store{}, shared.ErrNotFound
	}
	return s, nil
}

func (r *fakeRepo) GetByCode(ctx context.Context, code string) (Store, error) {
	for _, s := range r.stores {
		if s.Code == code {
			return s, nil
		}
	}
	return Store{}, shared.ErrNotFound
}

func (r *fakeRepo) Create(ctx context.Context, store Store) (Store, error) {
	for _, existing := range r.stores {
		if existing.Code == store.Code {
			return Store{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	store.ID = r.nextID
	r.stores[store.ID] = store
	return store, nil
}

func (r *fakeRepo) Update(ctx context.Context, id int64, store Store) error {
	if _, ok := r.stores[id]; !ok {
		return shared.ErrNotFound
	}
	store.ID = id
	r.stores[id] = store
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.stores[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.stores, id)
	return nil
}

func TestCreateRequiresAllFields(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	cases := []Store{
		{Name: "Centre", Address: "1 rue du Port", City: "Lyon"},
		{Code: "LYO-1", Address: "1 rue du Port", City: "Lyon"},
		{Code: "LYO-1", Name: "Centre", City: "Lyon"},
		{Code: "LYO-1", Name: "Centre", Address: "1 rue du Port"},
		{Code: "  ", Name: "Centre", Address: "1 rue du Port", City: "Lyon"},
	}
	for _, store := range cases {
		_, err := svc.Create(ctx, store)
		require.Error(t, err)
	}

	created, err := svc.Create(ctx, Store{Code: "LYO-1", Name: "Centre", Address: "1 rue du Port", City: "Lyon"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
}

func TestDuplicateCode(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Store{Code: "LYO-1", Name: "Centre", Address: "1 rue du Port", City: "Lyon"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, Store{Code: "LYO-1", Name: "Nord", Address: "9 avenue Foch", City: "Lyon"})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestInvalidID(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	_, err := svc.Get(ctx, 0)
	require.ErrorIs(t, err, shared.ErrInvalidID)
	require.ErrorIs(t, svc.Delete(ctx, -1), shared.ErrInvalidID)
}
