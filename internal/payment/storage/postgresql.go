// Package storage keeps the append-only payment transaction log on a raw
// PostgreSQL connection, separate from the booking ORM layer.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"studio-booking/internal/logger"
	"studio-booking/internal/models"
)

type PostgreSQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgreSQLStoreWithDB creates the transaction log on an existing
// database connection.
func NewPostgreSQLStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgreSQLStore, error) {
	store := &PostgreSQLStore{db: db, log: log}

	if err := store.initTables(); err != nil {
		log.Error("DATABASE", "Failed to initialize payment tables: "+err.Error())
		return nil, fmt.Errorf("failed to initialize payment tables: %w", err)
	}

	log.Info("DATABASE", "Payment transaction log initialized")
	return store, nil
}

func (s *PostgreSQLStore) initTables() error {
	s.log.LogDatabase("MIGRATE", "payment_transactions", "Creating payment_transactions table if not exists")

	query := `
    CREATE TABLE IF NOT EXISTS payment_transactions (
        transaction_id VARCHAR(36) PRIMARY KEY,
        reservation_id BIGINT NOT NULL,
        kind VARCHAR(20) NOT NULL,
        amount DECIMAL(10,2) NOT NULL,
        method VARCHAR(20) NOT NULL,
        processor_ref VARCHAR(255),
        created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    `
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create payment_transactions table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_payment_txn_reservation ON payment_transactions(reservation_id);",
		"CREATE INDEX IF NOT EXISTS idx_payment_txn_kind ON payment_transactions(kind);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.db.Exec(indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// SaveTransaction appends one charge or refund to the log.
func (s *PostgreSQLStore) SaveTransaction(txn *models.PaymentTransaction) error {
	s.log.LogDatabase("INSERT", "payment_transactions", fmt.Sprintf("Saving %s %s", txn.Kind, txn.TransactionID))

	query := `
    INSERT INTO payment_transactions (
        transaction_id, reservation_id, kind, amount, method, processor_ref, created_date
    ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := s.db.Exec(query,
		txn.TransactionID, txn.ReservationID, txn.Kind, txn.Amount, txn.Method, txn.ProcessorRef, txn.CreatedDate,
	)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save transaction %s: %s", txn.TransactionID, err.Error()))
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the log for one reservation, oldest first.
func (s *PostgreSQLStore) ListTransactions(reservationID int64) ([]*models.PaymentTransaction, error) {
	query := `
    SELECT transaction_id, reservation_id, kind, amount, method, processor_ref, created_date
    FROM payment_transactions
    WHERE reservation_id = $1
    ORDER BY created_date ASC
    `
	rows, err := s.db.Query(query, reservationID)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to list transactions: %s", err.Error()))
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.PaymentTransaction
	for rows.Next() {
		txn := &models.PaymentTransaction{}
		err := rows.Scan(
			&txn.TransactionID, &txn.ReservationID, &txn.Kind, &txn.Amount, &txn.Method, &txn.ProcessorRef, &txn.CreatedDate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return txns, nil
}

func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
