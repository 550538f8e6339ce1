// Package watchlist manages tracked coins, their long-watch subscriptions,
// and the long trigger evaluator.
package watchlist

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// CoinRepository persists coin identities and symbol aliases.
type CoinRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewCoinRepository creates a coin repository on the watch database.
func NewCoinRepository(db *database.DB, log zerolog.Logger) *CoinRepository {
	return &CoinRepository{
		db:  db,
		log: log.With().Str("component", "coin_repository").Logger(),
	}
}

const coinColumns = `id, chain, token_address, symbol, name, decimals, is_active, created_at`

// Create inserts a new coin. (chain, tokenAddress) must be unique; addresses
// are stored lowercased so lookups match the market-data client's keys.
func (r *CoinRepository) Create(coin *domain.Coin) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO coins (chain, token_address, symbol, name, decimals, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`, strings.ToLower(coin.Chain), strings.ToLower(coin.TokenAddress),
		coin.Symbol, coin.Name, coin.Decimals, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create coin: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read coin id: %w", err)
	}
	return id, nil
}

// GetByID returns a coin by id, or nil when absent.
func (r *CoinRepository) GetByID(id int64) (*domain.Coin, error) {
	row := r.db.QueryRow(`SELECT `+coinColumns+` FROM coins WHERE id = ?`, id)
	return scanCoin(row)
}

// GetByChainAddress returns a coin by its unique identity, or nil.
func (r *CoinRepository) GetByChainAddress(chain, tokenAddress string) (*domain.Coin, error) {
	row := r.db.QueryRow(`
		SELECT `+coinColumns+` FROM coins WHERE chain = ? AND token_address = ?
	`, strings.ToLower(chain), strings.ToLower(tokenAddress))
	return scanCoin(row)
}

// Resolve finds a coin by symbol or alias, case-insensitively. Aliases win
// over symbols so operators can repoint a name; among symbol matches the
// oldest active coin wins.
func (r *CoinRepository) Resolve(name string) (*domain.Coin, error) {
	row := r.db.QueryRow(`
		SELECT `+coinColumns+` FROM coins
		WHERE id = (SELECT coin_id FROM symbol_aliases WHERE alias = ?)
	`, name)
	coin, err := scanCoin(row)
	if err != nil {
		return nil, err
	}
	if coin != nil {
		return coin, nil
	}

	row = r.db.QueryRow(`
		SELECT `+coinColumns+` FROM coins
		WHERE symbol = ? COLLATE NOCASE AND is_active = 1
		ORDER BY created_at ASC LIMIT 1
	`, name)
	return scanCoin(row)
}

// ListActive returns all active coins ordered by symbol.
func (r *CoinRepository) ListActive() ([]domain.Coin, error) {
	rows, err := r.db.Query(`
		SELECT ` + coinColumns + ` FROM coins WHERE is_active = 1 ORDER BY symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list coins: %w", err)
	}
	defer rows.Close()

	var coins []domain.Coin
	for rows.Next() {
		coin, err := scanCoinRow(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, *coin)
	}
	return coins, rows.Err()
}

// UpdateMetadata refreshes symbol, name and decimals from upstream data.
func (r *CoinRepository) UpdateMetadata(id int64, symbol, name string, decimals *int64) error {
	_, err := r.db.Exec(`
		UPDATE coins SET symbol = ?, name = ?, decimals = ? WHERE id = ?
	`, symbol, name, decimals, id)
	if err != nil {
		return fmt.Errorf("failed to update coin metadata: %w", err)
	}
	return nil
}

// Reactivate flips a soft-deleted coin back on.
func (r *CoinRepository) Reactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE coins SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to reactivate coin: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a coin. Its rows survive for audit; evaluators
// skip inactive coins.
func (r *CoinRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE coins SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate coin: %w", err)
	}
	return nil
}

// Delete removes a coin and cascades to its watch, state, samples and
// aliases. Alert history rows survive; the audit trail is immutable.
func (r *CoinRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM coins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete coin: %w", err)
	}
	return nil
}

// AddAlias points a name at a coin. Re-adding an existing alias repoints it.
func (r *CoinRepository) AddAlias(coinID int64, alias string) error {
	_, err := r.db.Exec(`
		INSERT INTO symbol_aliases (alias, coin_id) VALUES (?, ?)
		ON CONFLICT(alias) DO UPDATE SET coin_id = excluded.coin_id
	`, alias, coinID)
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// RemoveAlias drops an alias. Removing an unknown alias is a no-op.
func (r *CoinRepository) RemoveAlias(alias string) error {
	_, err := r.db.Exec(`DELETE FROM symbol_aliases WHERE alias = ?`, alias)
	if err != nil {
		return fmt.Errorf("failed to remove alias: %w", err)
	}
	return nil
}

// Aliases lists the aliases pointing at a coin.
func (r *CoinRepository) Aliases(coinID int64) ([]string, error) {
	rows, err := r.db.Query(`SELECT alias FROM symbol_aliases WHERE coin_id = ? ORDER BY alias`, coinID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

func scanCoin(row *sql.Row) (*domain.Coin, error) {
	coin, err := scanCoinFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coin: %w", err)
	}
	return coin, nil
}

func scanCoinRow(rows *sql.Rows) (*domain.Coin, error) {
	coin, err := scanCoinFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan coin: %w", err)
	}
	return coin, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCoinFrom(s scanner) (*domain.Coin, error) {
	var coin domain.Coin
	var name sql.NullString
	var decimals sql.NullInt64

	err := s.Scan(&coin.ID, &coin.Chain, &coin.TokenAddress, &coin.Symbol,
		&name, &decimals, &coin.IsActive, &coin.CreatedAt)
	if err != nil {
		return nil, err
	}

	coin.Name = name.String
	if decimals.Valid {
		coin.Decimals = &decimals.Int64
	}
	return &coin, nil
}
