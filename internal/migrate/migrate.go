package migrate

import (
	"context"

	"trading-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint'ы
	CreateIndexes          bool // частичные уникальные индексы стеков и сделок
	CreateFKsViaSQL        bool // FK через Exec после AutoMigrate
	CreateUpdatedAtTrigger bool // триггеры updated_at
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateFKsViaSQL:        true,
		CreateUpdatedAtTrigger: true,
	}
}

type step struct {
	name string
	sql  string
}

func run(db *gorm.DB, log *zap.Logger, steps []step) error {
	for _, s := range steps {
		if err := db.Exec(s.sql).Error; err != nil {
			log.Error(s.name, zap.Error(err))
			return err
		}
	}
	return nil
}

func MigrateTradingDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	log.Info("Начало миграции базы маркетплейса")
	db = db.WithContext(ctx)

	if opt.CreateExtensions {
		log.Info("Создание расширений PostgreSQL")
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
			log.Error("pgcrypto error", zap.Error(err))
			return err
		}
		log.Info("Расширения созданы")
	}

	log.Info("Создание таблиц: items, inventory_entries, balances, sale_listings, buy_orders, trades, trade_items")
	if err := db.AutoMigrate(
		&models.Item{},
		&models.InventoryEntry{},
		&models.Balance{},
		&models.SaleListing{},
		&models.BuyOrder{},
		&models.Trade{},
		&models.TradeItem{},
	); err != nil {
		log.Error("AutoMigrate error", zap.Error(err))
		return err
	}
	log.Info("Таблицы созданы")

	if opt.CreateUpdatedAtTrigger {
		log.Info("Создание триггеров updated_at")
		if err := db.Exec(`
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_inventory_entries_updated ON inventory_entries;
CREATE TRIGGER trg_inventory_entries_updated BEFORE UPDATE ON inventory_entries
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_balances_updated ON balances;
CREATE TRIGGER trg_balances_updated BEFORE UPDATE ON balances
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`).Error; err != nil {
			log.Error("triggers error", zap.Error(err))
			return err
		}
		log.Info("Триггеры созданы")
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")
		if err := run(db, log, []step{
			{"chk inventory quantity", `
ALTER TABLE inventory_entries
	DROP CONSTRAINT IF EXISTS chk_inventory_quantity_non_negative,
	ADD CONSTRAINT chk_inventory_quantity_non_negative
	CHECK (quantity >= 0);`},
			// уникальная копия всегда в единственном экземпляре
			{"chk inventory unique qty", `
ALTER TABLE inventory_entries
	DROP CONSTRAINT IF EXISTS chk_inventory_unique_single,
	ADD CONSTRAINT chk_inventory_unique_single
	CHECK (unique_tag IS NULL OR quantity = 1);`},
			{"chk inventory cost basis", `
ALTER TABLE inventory_entries
	DROP CONSTRAINT IF EXISTS chk_inventory_cost_basis_non_negative,
	ADD CONSTRAINT chk_inventory_cost_basis_non_negative
	CHECK (cost_basis IS NULL OR cost_basis >= 0);`},
			{"chk balances", `
ALTER TABLE balances
	DROP CONSTRAINT IF EXISTS chk_balances_non_negative,
	ADD CONSTRAINT chk_balances_non_negative
	CHECK (amount >= 0);`},
			{"chk listings price", `
ALTER TABLE sale_listings
	DROP CONSTRAINT IF EXISTS chk_sale_listings_price_positive,
	ADD CONSTRAINT chk_sale_listings_price_positive
	CHECK (price > 0);`},
			{"chk listings status", `
ALTER TABLE sale_listings
	DROP CONSTRAINT IF EXISTS chk_sale_listings_status_allowed,
	ADD CONSTRAINT chk_sale_listings_status_allowed
	CHECK (status IN ('active','sold','cancelled'));`},
			{"chk buy orders price", `
ALTER TABLE buy_orders
	DROP CONSTRAINT IF EXISTS chk_buy_orders_max_price_positive,
	ADD CONSTRAINT chk_buy_orders_max_price_positive
	CHECK (max_price > 0);`},
			{"chk buy orders status", `
ALTER TABLE buy_orders
	DROP CONSTRAINT IF EXISTS chk_buy_orders_status_allowed,
	ADD CONSTRAINT chk_buy_orders_status_allowed
	CHECK (status IN ('active','fulfilled','cancelled'));`},
			{"chk trades status", `
ALTER TABLE trades
	DROP CONSTRAINT IF EXISTS chk_trades_status_allowed,
	ADD CONSTRAINT chk_trades_status_allowed
	CHECK (status IN ('pending','completed','cancelled'));`},
			{"chk trades distinct users", `
ALTER TABLE trades
	DROP CONSTRAINT IF EXISTS chk_trades_distinct_users,
	ADD CONSTRAINT chk_trades_distinct_users
	CHECK (user_a <> user_b);`},
			{"chk trade items qty", `
ALTER TABLE trade_items
	DROP CONSTRAINT IF EXISTS chk_trade_items_quantity_positive,
	ADD CONSTRAINT chk_trade_items_quantity_positive
	CHECK (quantity > 0 AND (unique_tag IS NULL OR quantity = 1));`},
		}); err != nil {
			return err
		}
		log.Info("CHECK-и созданы")
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов и уникальностей")
		if err := run(db, log, []step{
			// один стек на (owner, item, cost_basis, sellable); NULL cost_basis сравнивается как -1
			{"ux inventory stack", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_inventory_stack
ON inventory_entries (owner_id, item_id, (COALESCE(cost_basis, -1)), sellable)
WHERE unique_tag IS NULL;`},
			// не больше одной pending-сделки на неупорядоченную пару
			{"ux trades pending pair", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_trades_pending_pair
ON trades (LEAST(user_a, user_b), GREATEST(user_a, user_b))
WHERE status = 'pending';`},
			{"ix listings book", `
CREATE INDEX IF NOT EXISTS ix_sale_listings_book
ON sale_listings (item_id, price ASC, created_at ASC)
WHERE status = 'active';`},
			{"ix buy orders book", `
CREATE INDEX IF NOT EXISTS ix_buy_orders_book
ON buy_orders (item_id, max_price DESC, created_at ASC)
WHERE status = 'active';`},
		}); err != nil {
			return err
		}
		log.Info("Индексы созданы")
	}

	if opt.CreateFKsViaSQL {
		log.Info("Создание внешних ключей")
		if err := run(db, log, []step{
			// удаление предмета каталога каскадно удаляет весь инвентарь
			{"fk inventory_entries.item_id", `
ALTER TABLE inventory_entries
  DROP CONSTRAINT IF EXISTS fk_inventory_entries_item,
  ADD CONSTRAINT fk_inventory_entries_item
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE;`},
			{"fk trade_items.trade_id", `
ALTER TABLE trade_items
  DROP CONSTRAINT IF EXISTS fk_trades_items,
  ADD CONSTRAINT fk_trades_items
    FOREIGN KEY (trade_id) REFERENCES trades(id) ON DELETE CASCADE;`},
		}); err != nil {
			return err
		}
		log.Info("Внешние ключи созданы")
	}

	log.Info("Миграция базы маркетплейса успешно завершена")
	return nil
}
