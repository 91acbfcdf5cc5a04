package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// PostgresMerchantStore is the merchant-side analogue of
// PostgresCustomerStore, additionally owning the nonces/revocations tables
// and the singleton config row (spec.md §4.C).
type PostgresMerchantStore struct {
	db *sql.DB
}

func NewPostgresMerchantStore(db *sql.DB) *PostgresMerchantStore {
	return &PostgresMerchantStore{db: db}
}

var _ MerchantStore = (*PostgresMerchantStore)(nil)

type merchantRowDAO struct {
	channelID      []byte
	contractID     sql.NullString
	merchPubkey    []byte
	merchFundAddr  string
	status         string
	custBalance    int64
	merchBalance   int64
	merchantPayout sql.NullInt64
	custPayout     sql.NullInt64
}

func (s *PostgresMerchantStore) WithChannelState(ctx context.Context, channelID zkchannel.ID,
	expected zkchannel.ChannelStatus, f MerchantMutator) (any, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	var custBalance, merchBalance int64
	err = tx.QueryRowContext(ctx, `
		SELECT status, customer_balance, merchant_balance
		FROM merchant_channels WHERE channel_id = $1 FOR UPDATE`,
		channelID[:]).Scan(&status, &custBalance, &merchBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: select for update: %w", err)
	}

	observed := zkchannel.ChannelStatus(status)
	if observed != expected {
		return nil, ErrUnexpectedMerchantState{ChannelID: channelID, Expected: expected, Observed: observed}
	}
	balances := zkchannel.Balances{
		CustomerBalance: zkchannel.Amount(custBalance),
		MerchantBalance: zkchannel.Amount(merchBalance),
	}

	next, nextBalances, out, err := f(observed, balances)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE merchant_channels SET status = $1, customer_balance = $2, merchant_balance = $3
		WHERE channel_id = $4`,
		string(next), int64(nextBalances.CustomerBalance), int64(nextBalances.MerchantBalance), channelID[:]); err != nil {
		return nil, fmt.Errorf("store: update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return out, nil
}

func (s *PostgresMerchantStore) NewChannel(ctx context.Context, channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_channels
			(channel_id, merchant_ledger_pubkey, merchant_funding_address, status,
			 customer_balance, merchant_balance)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		channelID[:], contract.MerchantLedgerPubkey, contract.MerchantFundingAddress,
		string(zkchannel.StatusOriginated), int64(balances.CustomerBalance), int64(balances.MerchantBalance))
	if err != nil {
		return fmt.Errorf("store: new channel: %w", classifyPgError(err))
	}
	return nil
}

func (s *PostgresMerchantStore) UpdateClosingBalances(ctx context.Context, channelID zkchannel.ID, cb zkchannel.ClosingBalances) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE merchant_channels SET merchant_payout = $1, customer_payout = $2
		WHERE channel_id = $3`, amountPtr(cb.MerchantPayout), amountPtr(cb.CustomerPayout), channelID[:])
	if err != nil {
		return fmt.Errorf("store: update closing balances: %w", err)
	}
	return nil
}

func (s *PostgresMerchantStore) InsertContractID(ctx context.Context, channelID zkchannel.ID, contractID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE merchant_channels SET contract_id = $1 WHERE channel_id = $2`, contractID, channelID[:])
	if err != nil {
		return fmt.Errorf("store: insert contract id: %w", err)
	}
	return nil
}

func (s *PostgresMerchantStore) FetchChannel(ctx context.Context, channelID zkchannel.ID) (MerchantRow, error) {
	var row merchantRowDAO
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, contract_id, merchant_ledger_pubkey, merchant_funding_address,
		       status, customer_balance, merchant_balance, merchant_payout, customer_payout
		FROM merchant_channels WHERE channel_id = $1`, channelID[:],
	).Scan(&row.channelID, &row.contractID, &row.merchPubkey, &row.merchFundAddr,
		&row.status, &row.custBalance, &row.merchBalance, &row.merchantPayout, &row.custPayout)
	if errors.Is(err, sql.ErrNoRows) {
		return MerchantRow{}, ErrChannelNotFound
	}
	if err != nil {
		return MerchantRow{}, err
	}
	return row.toMerchantRow(), nil
}

func (s *PostgresMerchantStore) ListChannels(ctx context.Context) ([]MerchantRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, contract_id, merchant_ledger_pubkey, merchant_funding_address,
		       status, customer_balance, merchant_balance, merchant_payout, customer_payout
		FROM merchant_channels ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MerchantRow
	for rows.Next() {
		var row merchantRowDAO
		if err := rows.Scan(&row.channelID, &row.contractID, &row.merchPubkey, &row.merchFundAddr,
			&row.status, &row.custBalance, &row.merchBalance, &row.merchantPayout, &row.custPayout); err != nil {
			return nil, err
		}
		out = append(out, row.toMerchantRow())
	}
	return out, rows.Err()
}

func (r merchantRowDAO) toMerchantRow() MerchantRow {
	var id zkchannel.ID
	copy(id[:], r.channelID)

	contract := zkchannel.ContractDetails{
		MerchantLedgerPubkey:   r.merchPubkey,
		MerchantFundingAddress: r.merchFundAddr,
	}
	if r.contractID.Valid {
		cid := r.contractID.String
		contract.ContractID = &cid
	}

	return MerchantRow{
		ChannelID: id,
		Contract:  contract,
		Status:    zkchannel.ChannelStatus(r.status),
		Balances: zkchannel.Balances{
			CustomerBalance: zkchannel.Amount(r.custBalance),
			MerchantBalance: zkchannel.Amount(r.merchBalance),
		},
		ClosingBalances: closingBalancesFromNull(r.merchantPayout, r.custPayout),
	}
}

// InsertNonce reports true on first insertion, false on reuse, matching
// spec.md §4.C's replay-prevention contract for payment nonces: the unique
// constraint on the nonces table is the entire mechanism, classified via
// pgerrcode the way the rest of this store reports conflicts.
func (s *PostgresMerchantStore) InsertNonce(ctx context.Context, nonce []byte) (bool, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO nonces (nonce) VALUES ($1)`, nonce)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return false, nil
	}
	return false, fmt.Errorf("store: insert nonce: %w", err)
}

// InsertRevocationPair records (lock, secret) for the pay/close revocation
// scheme and returns every secret recorded against lock strictly before
// this insertion, in insertion order, with a nil entry for any prior
// insertion that carried no secret (spec.md §4.C:
// `Vec<Option<secret>>`). Detecting reuse of the same (lock, secret) pair
// twice is a caller concern; this method is append-only.
func (s *PostgresMerchantStore) InsertRevocationPair(ctx context.Context, lock []byte, secret []byte) ([][]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT secret FROM revocations WHERE lock = $1 ORDER BY id`, lock)
	if err != nil {
		return nil, fmt.Errorf("store: fetch prior revocations: %w", err)
	}
	var prior [][]byte
	for rows.Next() {
		var secret sql.NullString
		if err := rows.Scan(&secret); err != nil {
			rows.Close()
			return nil, err
		}
		if secret.Valid {
			prior = append(prior, []byte(secret.String))
		} else {
			prior = append(prior, nil)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var secretArg any
	if len(secret) > 0 {
		secretArg = string(secret)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO revocations (lock, secret) VALUES ($1, $2)`, lock, secretArg); err != nil {
		return nil, fmt.Errorf("store: insert revocation pair: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return prior, nil
}

type merchantConfigPayload struct {
	SigningPublicKey []byte `json:"signing_public_key"`
	SigningSecretKey []byte `json:"signing_secret_key"`
	LedgerPublicKey  []byte `json:"ledger_public_key"`
	LedgerSecretKey  []byte `json:"ledger_secret_key"`
	CommitmentParams []byte `json:"commitment_params"`
	RangeProofParams []byte `json:"range_proof_params"`
}

// FetchOrCreateConfig initializes the singleton merchant_config row on
// first call (via a conditional INSERT ... ON CONFLICT DO NOTHING, so
// concurrent first calls race safely to the same stored value) and
// returns the same values on every subsequent call.
func (s *PostgresMerchantStore) FetchOrCreateConfig(ctx context.Context, init func() (MerchantConfig, error)) (MerchantConfig, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM merchant_config WHERE id = 1`).Scan(&payload)
	if err == nil {
		return decodeMerchantConfig(payload)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return MerchantConfig{}, fmt.Errorf("store: fetch config: %w", err)
	}

	cfg, err := init()
	if err != nil {
		return MerchantConfig{}, err
	}
	encoded, err := json.Marshal(merchantConfigPayload{
		SigningPublicKey: cfg.SigningPublicKey,
		SigningSecretKey: cfg.SigningSecretKey,
		LedgerPublicKey:  cfg.LedgerPublicKey,
		LedgerSecretKey:  cfg.LedgerSecretKey,
		CommitmentParams: cfg.CommitmentParams,
		RangeProofParams: cfg.RangeProofParams,
	})
	if err != nil {
		return MerchantConfig{}, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_config (id, payload) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`, encoded); err != nil {
		return MerchantConfig{}, fmt.Errorf("store: insert config: %w", err)
	}

	// Re-fetch regardless of whether this call won the race, so every
	// caller returns the one row that actually landed.
	if err := s.db.QueryRowContext(ctx, `SELECT payload FROM merchant_config WHERE id = 1`).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MerchantConfig{}, ErrConfigNotInitialized
		}
		return MerchantConfig{}, fmt.Errorf("store: refetch config: %w", err)
	}
	return decodeMerchantConfig(payload)
}

func decodeMerchantConfig(raw []byte) (MerchantConfig, error) {
	var p merchantConfigPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return MerchantConfig{}, fmt.Errorf("store: decode config: %w", err)
	}
	return MerchantConfig{
		SigningPublicKey: p.SigningPublicKey,
		SigningSecretKey: p.SigningSecretKey,
		LedgerPublicKey:  p.LedgerPublicKey,
		LedgerSecretKey:  p.LedgerSecretKey,
		CommitmentParams: p.CommitmentParams,
		RangeProofParams: p.RangeProofParams,
	}, nil
}
