// Package memstore — хранилище ledger в памяти на go-memdb. Единственная пишущая
// транзакция memdb даёт ту же сериализацию, что строковые блокировки в postgres.
package memstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"trading-service/internal/models"
	"trading-service/internal/repository"
)

const (
	tblItems      = "items"
	tblInventory  = "inventory_entries"
	tblBalances   = "balances"
	tblListings   = "sale_listings"
	tblBuyOrders  = "buy_orders"
	tblTrades     = "trades"
	tblTradeItems = "trade_items"
)

var ErrConstraint = errors.New("memstore: constraint violation")

// uuidIndexer индексирует поле uuid.UUID (или *uuid.UUID через ok=false).
type uuidIndexer struct {
	field func(obj any) (uuid.UUID, bool)
}

func (u uuidIndexer) FromObject(obj any) (bool, []byte, error) {
	id, ok := u.field(obj)
	if !ok {
		return false, nil, nil
	}
	b := make([]byte, len(id))
	copy(b, id[:])
	return true, b, nil
}

func (u uuidIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	id, ok := args[0].(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("argument must be a uuid.UUID: %#v", args[0])
	}
	b := make([]byte, len(id))
	copy(b, id[:])
	return b, nil
}

func index(name string, unique, allowMissing bool, field func(obj any) (uuid.UUID, bool)) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:         name,
		Unique:       unique,
		AllowMissing: allowMissing,
		Indexer:      uuidIndexer{field: field},
	}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tblItems: {
				Name: tblItems,
				Indexes: map[string]*memdb.IndexSchema{
					"id": index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.Item).ID, true }),
				},
			},
			tblInventory: {
				Name: tblInventory,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.InventoryEntry).ID, true }),
					"owner": index("owner", false, false, func(o any) (uuid.UUID, bool) { return o.(*models.InventoryEntry).OwnerID, true }),
					"item":  index("item", false, false, func(o any) (uuid.UUID, bool) { return o.(*models.InventoryEntry).ItemID, true }),
					"tag": index("tag", true, true, func(o any) (uuid.UUID, bool) {
						if t := o.(*models.InventoryEntry).UniqueTag; t != nil {
							return *t, true
						}
						return uuid.Nil, false
					}),
				},
			},
			tblBalances: {
				Name: tblBalances,
				Indexes: map[string]*memdb.IndexSchema{
					"id": index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.Balance).UserID, true }),
				},
			},
			tblListings: {
				Name: tblListings,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.SaleListing).ID, true }),
					"item": index("item", false, false, func(o any) (uuid.UUID, bool) { return o.(*models.SaleListing).ItemID, true }),
				},
			},
			tblBuyOrders: {
				Name: tblBuyOrders,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.BuyOrder).ID, true }),
					"item": index("item", false, false, func(o any) (uuid.UUID, bool) { return o.(*models.BuyOrder).ItemID, true }),
				},
			},
			tblTrades: {
				Name: tblTrades,
				Indexes: map[string]*memdb.IndexSchema{
					"id": index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.Trade).ID, true }),
				},
			},
			tblTradeItems: {
				Name: tblTradeItems,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    index("id", true, false, func(o any) (uuid.UUID, bool) { return o.(*models.TradeItem).ID, true }),
					"trade": index("trade", false, false, func(o any) (uuid.UUID, bool) { return o.(*models.TradeItem).TradeID, true }),
				},
			},
		},
	}
}

type Store struct {
	db *memdb.MemDB
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Repository возвращает набор репозиториев; каждый вызов вне WithTx — отдельная транзакция memdb.
func (st *Store) Repository() *repository.Repository {
	return st.build(&session{db: st.db})
}

func (st *Store) build(s *session) *repository.Repository {
	r := &repository.Repository{
		Items:     &itemRepo{s: s},
		Inventory: &inventoryRepo{s: s},
		Balances:  &balanceRepo{s: s},
		Listings:  &listingRepo{s: s},
		BuyOrders: &buyOrderRepo{s: s},
		Trades:    &tradeRepo{s: s},
	}
	r.Tx = func(fn func(tx *repository.Repository) error) error {
		if s.txn != nil {
			return s.savepoint(func() error { return fn(r) })
		}
		return st.transaction(fn)
	}
	return r
}

func (st *Store) transaction(fn func(tx *repository.Repository) error) (err error) {
	txn := st.db.Txn(true)
	defer func() {
		if p := recover(); p != nil {
			txn.Abort()
			panic(p)
		}
	}()

	if err = fn(st.build(&session{db: st.db, txn: txn})); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

type change struct {
	table  string
	before any
	after  any
}

// session — либо открытая пишущая транзакция с журналом отката, либо «автокоммит».
type session struct {
	db      *memdb.MemDB
	txn     *memdb.Txn
	journal []change
}

func (s *session) view(fn func(txn *memdb.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (s *session) update(fn func(w *writer) error) error {
	if s.txn != nil {
		return fn(&writer{txn: s.txn, s: s})
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(&writer{txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// savepoint откатывает изменения fn по журналу, если fn вернула ошибку.
func (s *session) savepoint(fn func() error) error {
	mark := len(s.journal)
	if err := fn(); err != nil {
		if rbErr := s.rollbackTo(mark); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

func (s *session) rollbackTo(mark int) error {
	for i := len(s.journal) - 1; i >= mark; i-- {
		c := s.journal[i]
		if c.after != nil {
			if err := s.txn.Delete(c.table, c.after); err != nil {
				return err
			}
		}
		if c.before != nil {
			if err := s.txn.Insert(c.table, c.before); err != nil {
				return err
			}
		}
	}
	s.journal = s.journal[:mark]
	return nil
}

type writer struct {
	txn *memdb.Txn
	s   *session
}

// put вставляет или заменяет объект. Сохранённые объекты не изменяются: всегда передаём копию.
func (w *writer) put(table string, before, after any) error {
	if err := w.txn.Insert(table, after); err != nil {
		return err
	}
	if w.s != nil {
		w.s.journal = append(w.s.journal, change{table: table, before: before, after: after})
	}
	return nil
}

func (w *writer) remove(table string, obj any) error {
	if err := w.txn.Delete(table, obj); err != nil {
		return err
	}
	if w.s != nil {
		w.s.journal = append(w.s.journal, change{table: table, before: obj})
	}
	return nil
}

func collect[T any](txn *memdb.Txn, table, idx string, args ...any) ([]*T, error) {
	it, err := txn.Get(table, idx, args...)
	if err != nil {
		return nil, err
	}
	var out []*T
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*T))
	}
	return out, nil
}

func first[T any](txn *memdb.Txn, table, idx string, arg any) (*T, error) {
	raw, err := txn.First(table, idx, arg)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*T), nil
}

var (
	_ repository.ItemRepo      = (*itemRepo)(nil)
	_ repository.InventoryRepo = (*inventoryRepo)(nil)
	_ repository.BalanceRepo   = (*balanceRepo)(nil)
	_ repository.ListingRepo   = (*listingRepo)(nil)
	_ repository.BuyOrderRepo  = (*buyOrderRepo)(nil)
	_ repository.TradeRepo     = (*tradeRepo)(nil)
)
