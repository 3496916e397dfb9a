package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required (needs multiStatements=true)")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get DB: %v", err)
	}

	sql := `
	CREATE TABLE IF NOT EXISTS orders (
	  id CHAR(36) NOT NULL,
	  user_id CHAR(36) NULL,
	  store_id CHAR(36) NOT NULL,
	  status VARCHAR(32) NOT NULL,
	  currency CHAR(3) NOT NULL,
	  total_cents INT NOT NULL,
	  balance_cents INT NOT NULL,
	  refunded_cents INT NOT NULL DEFAULT 0,
	  pending_intent_id VARCHAR(128) NULL,
	  payment_method_id CHAR(36) NULL,
	  placed_at DATETIME(3) NULL,
	  refunded_at DATETIME(3) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  KEY ix_orders_user_id (user_id),
	  KEY ix_orders_pending_intent (pending_intent_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS order_events (
	  id CHAR(36) NOT NULL,
	  order_id CHAR(36) NOT NULL,
	  actor_user_id VARCHAR(64) NOT NULL,
	  action VARCHAR(32) NOT NULL,
	  from_status VARCHAR(32) NOT NULL,
	  to_status VARCHAR(32) NOT NULL,
	  note VARCHAR(255) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  KEY ix_order_events_order_id (order_id),
	  CONSTRAINT fk_order_events_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS order_financial_entries (
	  id CHAR(36) NOT NULL,
	  order_id CHAR(36) NOT NULL,
	  event VARCHAR(32) NOT NULL,
	  amount_cents INT NOT NULL,
	  currency CHAR(3) NOT NULL,
	  ref_type VARCHAR(16) NOT NULL,
	  ref_id CHAR(36) NOT NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  KEY ix_financial_entries_order_id (order_id),
	  KEY ix_financial_entries_ref (ref_type, ref_id),
	  CONSTRAINT fk_fin_entries_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS payments (
	  id CHAR(36) NOT NULL,
	  order_id CHAR(36) NOT NULL,
	  provider VARCHAR(64) NOT NULL,
	  remote_id VARCHAR(128) NOT NULL,
	  state VARCHAR(32) NOT NULL,
	  amount_cents INT NOT NULL,
	  refunded_cents INT NOT NULL DEFAULT 0,
	  currency CHAR(3) NOT NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_payments_remote_id (remote_id),
	  KEY ix_payments_order_id (order_id),
	  CONSTRAINT fk_payments_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS payment_methods (
	  id CHAR(36) NOT NULL,
	  user_id CHAR(36) NULL,
	  remote_id VARCHAR(128) NOT NULL,
	  kind VARCHAR(32) NOT NULL,
	  reusable TINYINT(1) NOT NULL,
	  card_brand VARCHAR(32) NULL,
	  card_last4 CHAR(4) NULL,
	  card_exp_month INT NULL,
	  card_exp_year INT NULL,
	  bank_name VARCHAR(128) NULL,
	  bank_last4 CHAR(4) NULL,
	  wallet_email VARCHAR(255) NULL,
	  bnpl_provider VARCHAR(64) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_payment_methods_remote_id (remote_id),
	  KEY ix_payment_methods_user_id (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS gateway_customers (
	  user_id CHAR(36) NOT NULL,
	  remote_id VARCHAR(128) NOT NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (user_id),
	  UNIQUE KEY ux_gateway_customers_remote_id (remote_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS refunds (
	  id CHAR(36) NOT NULL,
	  order_id CHAR(36) NOT NULL,
	  payment_id CHAR(36) NOT NULL,
	  provider VARCHAR(64) NOT NULL,
	  remote_id VARCHAR(128) NULL,
	  status VARCHAR(32) NOT NULL,
	  amount_cents INT NOT NULL,
	  currency CHAR(3) NOT NULL,
	  idempotency_key VARCHAR(64) NOT NULL,
	  reason VARCHAR(255) NULL,
	  error_message VARCHAR(255) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_refunds_payment_key (payment_id, idempotency_key),
	  KEY ix_refunds_order_id (order_id),
	  KEY ix_refunds_payment_id (payment_id),
	  CONSTRAINT fk_refunds_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
	  CONSTRAINT fk_refunds_payment FOREIGN KEY (payment_id) REFERENCES payments(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

	CREATE TABLE IF NOT EXISTS webhook_events (
	  id CHAR(36) NOT NULL,
	  provider VARCHAR(64) NOT NULL,
	  event_id VARCHAR(128) NOT NULL,
	  event_type VARCHAR(64) NOT NULL,
	  payload_json JSON NOT NULL,
	  signature VARCHAR(512) NOT NULL,
	  status VARCHAR(16) NOT NULL,
	  reason VARCHAR(255) NULL,
	  payment_id CHAR(36) NULL,
	  received_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  processed_at DATETIME(3) NULL,
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_webhook_events_provider_event (provider, event_id),
	  KEY ix_webhook_events_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := sqlDB.Exec(sql); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	log.Println("✓ all tables created successfully")
}
