package store

import (
	"context"
	"sync"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// MockCustomerStore is an in-memory CustomerStore test double, grounded on
// the teacher's htlcswitch/mock.go and lnwallet/test_utils.go pattern of
// backing an interface with a mutex-guarded map for unit tests of the
// protocol engine and FSM without a database.
type MockCustomerStore struct {
	mu   sync.Mutex
	rows map[zkchannel.Label]CustomerRow
}

func NewMockCustomerStore() *MockCustomerStore {
	return &MockCustomerStore{rows: make(map[zkchannel.Label]CustomerRow)}
}

var _ CustomerStore = (*MockCustomerStore)(nil)

func (m *MockCustomerStore) WithChannelState(ctx context.Context, label zkchannel.Label,
	expected zkchannel.Variant, f CustomerMutator) (any, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[label]
	if !ok {
		return nil, ErrChannelNotFound
	}
	observed := row.State.Variant()
	if observed != expected {
		return nil, ErrUnexpectedCustomerState{Label: label, Expected: expected, Observed: observed}
	}

	next, nextBalances, out, err := f(row.State, row.Balances)
	if err != nil {
		return nil, err
	}
	row.State = next
	row.Balances = nextBalances
	m.rows[label] = row
	return out, nil
}

func (m *MockCustomerStore) NewChannel(ctx context.Context, label zkchannel.Label, channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[label] = CustomerRow{
		Label:     label,
		ChannelID: channelID,
		Contract:  contract,
		State:     zkchannel.NewInactive(),
		Balances:  balances,
	}
	return nil
}

func (m *MockCustomerStore) UpdateClosingBalances(ctx context.Context, label zkchannel.Label, cb zkchannel.ClosingBalances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[label]
	if !ok {
		return ErrChannelNotFound
	}
	row.ClosingBalances = cb
	m.rows[label] = row
	return nil
}

func (m *MockCustomerStore) InsertContractID(ctx context.Context, label zkchannel.Label, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[label]
	if !ok {
		return ErrChannelNotFound
	}
	row.Contract.ContractID = &contractID
	m.rows[label] = row
	return nil
}

func (m *MockCustomerStore) FetchChannel(ctx context.Context, label zkchannel.Label) (CustomerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[label]
	if !ok {
		return CustomerRow{}, ErrChannelNotFound
	}
	return row, nil
}

func (m *MockCustomerStore) ListChannels(ctx context.Context) ([]CustomerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CustomerRow, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

// MockMerchantStore is the merchant-side analogue, additionally backing
// nonce/revocation/config state with plain maps.
type MockMerchantStore struct {
	mu         sync.Mutex
	rows       map[zkchannel.ID]MerchantRow
	nonces     map[string]bool
	revocation map[string][][]byte
	config     *MerchantConfig
}

func NewMockMerchantStore() *MockMerchantStore {
	return &MockMerchantStore{
		rows:       make(map[zkchannel.ID]MerchantRow),
		nonces:     make(map[string]bool),
		revocation: make(map[string][][]byte),
	}
}

var _ MerchantStore = (*MockMerchantStore)(nil)

func (m *MockMerchantStore) WithChannelState(ctx context.Context, channelID zkchannel.ID,
	expected zkchannel.ChannelStatus, f MerchantMutator) (any, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if row.Status != expected {
		return nil, ErrUnexpectedMerchantState{ChannelID: channelID, Expected: expected, Observed: row.Status}
	}

	next, nextBalances, out, err := f(row.Status, row.Balances)
	if err != nil {
		return nil, err
	}
	row.Status = next
	row.Balances = nextBalances
	m.rows[channelID] = row
	return out, nil
}

func (m *MockMerchantStore) NewChannel(ctx context.Context, channelID zkchannel.ID, contract zkchannel.ContractDetails, balances zkchannel.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[channelID] = MerchantRow{
		ChannelID: channelID,
		Contract:  contract,
		Status:    zkchannel.StatusOriginated,
		Balances:  balances,
	}
	return nil
}

func (m *MockMerchantStore) UpdateClosingBalances(ctx context.Context, channelID zkchannel.ID, cb zkchannel.ClosingBalances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	row.ClosingBalances = cb
	m.rows[channelID] = row
	return nil
}

func (m *MockMerchantStore) InsertContractID(ctx context.Context, channelID zkchannel.ID, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	row.Contract.ContractID = &contractID
	m.rows[channelID] = row
	return nil
}

func (m *MockMerchantStore) FetchChannel(ctx context.Context, channelID zkchannel.ID) (MerchantRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[channelID]
	if !ok {
		return MerchantRow{}, ErrChannelNotFound
	}
	return row, nil
}

func (m *MockMerchantStore) ListChannels(ctx context.Context) ([]MerchantRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MerchantRow, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *MockMerchantStore) InsertNonce(ctx context.Context, nonce []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(nonce)
	if m.nonces[key] {
		return false, nil
	}
	m.nonces[key] = true
	return true, nil
}

func (m *MockMerchantStore) InsertRevocationPair(ctx context.Context, lock []byte, secret []byte) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(lock)
	prior := append([][]byte(nil), m.revocation[key]...)
	var stored []byte
	if len(secret) > 0 {
		stored = append([]byte(nil), secret...)
	}
	m.revocation[key] = append(m.revocation[key], stored)
	return prior, nil
}

func (m *MockMerchantStore) FetchOrCreateConfig(ctx context.Context, init func() (MerchantConfig, error)) (MerchantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		return *m.config, nil
	}
	cfg, err := init()
	if err != nil {
		return MerchantConfig{}, err
	}
	m.config = &cfg
	return cfg, nil
}
