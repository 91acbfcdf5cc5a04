package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// PostgresCustomerStore backs CustomerStore with a Postgres table via
// database/sql and the pgx stdlib driver. WithChannelState is a single
// `SELECT ... FOR UPDATE` + compare + `UPDATE` inside one sql.Tx: Postgres's
// row lock gives the atomic compare-and-swap spec.md §4.C requires without
// the store inventing its own locking scheme.
type PostgresCustomerStore struct {
	db *sql.DB
}

// OpenPostgres opens a *sql.DB against dsn using the pgx stdlib driver. Run
// migrations separately via RunMigrations before first use.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return db, nil
}

// NewPostgresCustomerStore wraps an already-open, already-migrated database
// handle.
func NewPostgresCustomerStore(db *sql.DB) *PostgresCustomerStore {
	return &PostgresCustomerStore{db: db}
}

var _ CustomerStore = (*PostgresCustomerStore)(nil)

type customerRowDAO struct {
	label           string
	channelID       []byte
	contractID      sql.NullString
	merchPubkey     []byte
	merchFundAddr   string
	stateVariant    string
	stateJSON       []byte
	custBalance     int64
	merchBalance    int64
	merchantPayout  sql.NullInt64
	custPayout      sql.NullInt64
}

func (s *PostgresCustomerStore) WithChannelState(ctx context.Context, label zkchannel.Label,
	expected zkchannel.Variant, f CustomerMutator) (any, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var row customerRowDAO
	err = tx.QueryRowContext(ctx, `
		SELECT label, channel_id, contract_id, merchant_ledger_pubkey,
		       merchant_funding_address, state_variant, state_payload,
		       customer_balance, merchant_balance, merchant_payout, customer_payout
		FROM customer_channels WHERE label = $1 FOR UPDATE`, string(label),
	).Scan(&row.label, &row.channelID, &row.contractID, &row.merchPubkey,
		&row.merchFundAddr, &row.stateVariant, &row.stateJSON,
		&row.custBalance, &row.merchBalance, &row.merchantPayout, &row.custPayout)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: select for update: %w", err)
	}

	observed := zkchannel.Variant(row.stateVariant)
	if observed != expected {
		return nil, ErrUnexpectedCustomerState{Label: label, Expected: expected, Observed: observed}
	}

	current, err := decodeCustomerState(observed, row.stateJSON)
	if err != nil {
		return nil, err
	}
	balances := zkchannel.Balances{
		CustomerBalance: zkchannel.Amount(row.custBalance),
		MerchantBalance: zkchannel.Amount(row.merchBalance),
	}

	next, nextBalances, out, err := f(current, balances)
	if err != nil {
		return nil, err
	}

	payload, err := encodeCustomerState(next)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customer_channels
		SET state_variant = $1, state_payload = $2, customer_balance = $3, merchant_balance = $4
		WHERE label = $5`, string(next.Variant()), payload,
		int64(nextBalances.CustomerBalance), int64(nextBalances.MerchantBalance), string(label)); err != nil {
		return nil, fmt.Errorf("store: update state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return out, nil
}

func (s *PostgresCustomerStore) NewChannel(ctx context.Context, label zkchannel.Label,
	channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error {

	initial := zkchannel.NewInactive()
	payload, err := encodeCustomerState(initial)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customer_channels
			(label, channel_id, merchant_ledger_pubkey, merchant_funding_address,
			 state_variant, state_payload, customer_balance, merchant_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(label), channelID[:], contract.MerchantLedgerPubkey,
		contract.MerchantFundingAddress, string(initial.Variant()), payload,
		int64(balances.CustomerBalance), int64(balances.MerchantBalance))
	if err != nil {
		return fmt.Errorf("store: new channel: %w", classifyPgError(err))
	}
	return nil
}

func (s *PostgresCustomerStore) UpdateClosingBalances(ctx context.Context, label zkchannel.Label, cb zkchannel.ClosingBalances) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE customer_channels SET merchant_payout = $1, customer_payout = $2
		WHERE label = $3`, amountPtr(cb.MerchantPayout), amountPtr(cb.CustomerPayout), string(label))
	if err != nil {
		return fmt.Errorf("store: update closing balances: %w", err)
	}
	return nil
}

func (s *PostgresCustomerStore) InsertContractID(ctx context.Context, label zkchannel.Label, contractID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE customer_channels SET contract_id = $1 WHERE label = $2`, contractID, string(label))
	if err != nil {
		return fmt.Errorf("store: insert contract id: %w", err)
	}
	return nil
}

func (s *PostgresCustomerStore) FetchChannel(ctx context.Context, label zkchannel.Label) (CustomerRow, error) {
	var row customerRowDAO
	err := s.db.QueryRowContext(ctx, `
		SELECT label, channel_id, contract_id, merchant_ledger_pubkey,
		       merchant_funding_address, state_variant, state_payload,
		       customer_balance, merchant_balance, merchant_payout, customer_payout
		FROM customer_channels WHERE label = $1`, string(label),
	).Scan(&row.label, &row.channelID, &row.contractID, &row.merchPubkey,
		&row.merchFundAddr, &row.stateVariant, &row.stateJSON,
		&row.custBalance, &row.merchBalance, &row.merchantPayout, &row.custPayout)
	if errors.Is(err, sql.ErrNoRows) {
		return CustomerRow{}, ErrChannelNotFound
	}
	if err != nil {
		return CustomerRow{}, err
	}
	return row.toCustomerRow()
}

func (s *PostgresCustomerStore) ListChannels(ctx context.Context) ([]CustomerRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, channel_id, contract_id, merchant_ledger_pubkey,
		       merchant_funding_address, state_variant, state_payload,
		       customer_balance, merchant_balance, merchant_payout, customer_payout
		FROM customer_channels ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerRow
	for rows.Next() {
		var row customerRowDAO
		if err := rows.Scan(&row.label, &row.channelID, &row.contractID, &row.merchPubkey,
			&row.merchFundAddr, &row.stateVariant, &row.stateJSON,
			&row.custBalance, &row.merchBalance, &row.merchantPayout, &row.custPayout); err != nil {
			return nil, err
		}
		cr, err := row.toCustomerRow()
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (r customerRowDAO) toCustomerRow() (CustomerRow, error) {
	var id zkchannel.ID
	copy(id[:], r.channelID)

	state, err := decodeCustomerState(zkchannel.Variant(r.stateVariant), r.stateJSON)
	if err != nil {
		return CustomerRow{}, err
	}

	contract := zkchannel.ContractDetails{
		MerchantLedgerPubkey:   r.merchPubkey,
		MerchantFundingAddress: r.merchFundAddr,
	}
	if r.contractID.Valid {
		cid := r.contractID.String
		contract.ContractID = &cid
	}

	return CustomerRow{
		Label:     zkchannel.Label(r.label),
		ChannelID: id,
		Contract:  contract,
		State:     state,
		Balances: zkchannel.Balances{
			CustomerBalance: zkchannel.Amount(r.custBalance),
			MerchantBalance: zkchannel.Amount(r.merchBalance),
		},
		ClosingBalances: closingBalancesFromNull(r.merchantPayout, r.custPayout),
	}, nil
}

// customerStatePayload is the JSON shape stored for a customer row's state
// payload: the tag plus whichever optional closing message it carries
// (spec.md §3's State is a closed tagged variant; only the active tag's
// fields are populated).
type customerStatePayload struct {
	ClosingMessage *closingMessagePayload `json:"closing_message,omitempty"`
}

type closingMessagePayload struct {
	ChannelID       string `json:"channel_id"`
	CustomerBalance int64  `json:"customer_balance"`
	MerchantBalance int64  `json:"merchant_balance"`
	CloseSignature  []byte `json:"close_signature"`
	RevocationLock  []byte `json:"revocation_lock"`
	Random          []byte `json:"random"`
}

func encodeCustomerState(s zkchannel.State) ([]byte, error) {
	var payload customerStatePayload
	if msg, ok := s.ClosingMessage(); ok {
		payload.ClosingMessage = &closingMessagePayload{
			ChannelID:       msg.ChannelID.String(),
			CustomerBalance: int64(msg.Balances.CustomerBalance),
			MerchantBalance: int64(msg.Balances.MerchantBalance),
			CloseSignature:  msg.CloseSignature,
			RevocationLock:  msg.RevocationLock,
			Random:          msg.Random,
		}
	}
	return json.Marshal(payload)
}

func decodeCustomerState(variant zkchannel.Variant, raw []byte) (zkchannel.State, error) {
	var payload customerStatePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return zkchannel.State{}, fmt.Errorf("store: decode state payload: %w", err)
		}
	}

	var msg zkchannel.ClosingMessage
	if payload.ClosingMessage != nil {
		id, err := zkchannel.ParseID(payload.ClosingMessage.ChannelID)
		if err != nil {
			return zkchannel.State{}, err
		}
		msg = zkchannel.ClosingMessage{
			ChannelID: id,
			Balances: zkchannel.Balances{
				CustomerBalance: zkchannel.Amount(payload.ClosingMessage.CustomerBalance),
				MerchantBalance: zkchannel.Amount(payload.ClosingMessage.MerchantBalance),
			},
			CloseSignature: payload.ClosingMessage.CloseSignature,
			RevocationLock: payload.ClosingMessage.RevocationLock,
			Random:         payload.ClosingMessage.Random,
		}
	}

	switch variant {
	case zkchannel.VariantInactive:
		return zkchannel.NewInactive(), nil
	case zkchannel.VariantOriginated:
		return zkchannel.NewOriginated(), nil
	case zkchannel.VariantCustomerFunded:
		return zkchannel.NewCustomerFunded(), nil
	case zkchannel.VariantMerchantFunded:
		return zkchannel.NewMerchantFunded(), nil
	case zkchannel.VariantReady:
		return zkchannel.NewReady(), nil
	case zkchannel.VariantStarted:
		return zkchannel.NewStarted(), nil
	case zkchannel.VariantStartedFailed:
		return zkchannel.NewStartedFailed(), nil
	case zkchannel.VariantLocked:
		return zkchannel.NewLocked(), nil
	case zkchannel.VariantLockedFailed:
		return zkchannel.NewLockedFailed(), nil
	case zkchannel.VariantPendingMutualClose:
		return zkchannel.NewPendingMutualClose(msg), nil
	case zkchannel.VariantPendingExpiry:
		return zkchannel.NewPendingExpiry(msg), nil
	case zkchannel.VariantPendingClose:
		return zkchannel.NewPendingClose(msg), nil
	case zkchannel.VariantPendingCustomerClaim:
		return zkchannel.NewPendingCustomerClaim(msg), nil
	case zkchannel.VariantDispute:
		return zkchannel.NewDispute(msg), nil
	case zkchannel.VariantClosed:
		return zkchannel.NewClosed(msg), nil
	case zkchannel.VariantPendingPayment:
		base := zkchannel.NewReady()
		pp, err := zkchannel.NewPendingPayment(base)
		return pp, err
	default:
		return zkchannel.State{}, fmt.Errorf("store: unknown state variant %q", variant)
	}
}

func amountPtr(a *zkchannel.Amount) any {
	if a == nil {
		return nil
	}
	return int64(*a)
}

func closingBalancesFromNull(merchant, customer sql.NullInt64) zkchannel.ClosingBalances {
	var cb zkchannel.ClosingBalances
	if merchant.Valid {
		a := zkchannel.Amount(merchant.Int64)
		cb.MerchantPayout = &a
	}
	if customer.Valid {
		a := zkchannel.Amount(customer.Int64)
		cb.CustomerPayout = &a
	}
	return cb
}

// classifyPgError wraps unique-violation errors the way pgerrcode-based
// classification is used throughout this store, surfacing a stable
// sentinel instead of leaking the driver's raw *pgconn.PgError.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ErrNonceReused, pgErr.ConstraintName)
	}
	return err
}

func idHex(id zkchannel.ID) string { return hex.EncodeToString(id[:]) }
