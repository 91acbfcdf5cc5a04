package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/boltlabs-inc/zeekoe/zkchannel"
)

// MockDriver is an in-memory ContractDriver test double, grounded on the
// teacher's htlcswitch/mock.go and lnwallet/test_utils.go fakes: every
// state-changing call "confirms" synchronously (WriteStatus Applied)
// unless the test has configured it to fail, so the protocol engine and
// FSM can be exercised without a real ledger.
var _ Driver = (*MockDriver)(nil)

type mockContract struct {
	state            ContractState
	merchantFunded   bool
	customerFunded   bool
	originationExp   OriginationExpectation
	closeAuthorized  bool
}

// MockDriver is safe for concurrent use.
type MockDriver struct {
	mu        sync.Mutex
	contracts map[string]*mockContract
	nextID    int

	// FailOriginate, while set, makes every Originate call return
	// Failed instead of Applied -- used to exercise the protocol
	// engine's abort-on-ledger-failure paths.
	FailOriginate bool
}

// NewMockDriver constructs an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{contracts: make(map[string]*mockContract)}
}

func (m *MockDriver) Originate(ctx context.Context, merchantFund, customerFund FundInfo,
	merchantPK, originatorKey []byte, channelID zkchannel.ID,
	confirmationDepth, selfDelay uint32) (string, WriteStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOriginate {
		return "", Failed, nil
	}

	m.nextID++
	id := fmt.Sprintf("KT1mock%d%s", m.nextID, hex.EncodeToString(channelID[:4]))
	m.contracts[id] = &mockContract{
		state: ContractState{
			Status:            AwaitingCustomerFunding,
			MerchantPublicKey: merchantPK,
			SelfDelay:         selfDelay,
			CodeHash:          sha256.Sum256([]byte("mock-contract-code")),
		},
	}
	return id, Applied, nil
}

func (m *MockDriver) lookup(contractID string) (*mockContract, error) {
	c, ok := m.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrContractNotFound, contractID)
	}
	return c, nil
}

func (m *MockDriver) AddCustomerFunding(ctx context.Context, contractID string, amount zkchannel.Amount) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	c.state.CustomerBalance = amount
	c.customerFunded = true
	c.state.Status = AwaitingMerchantFunding
	return Applied, nil
}

func (m *MockDriver) AddMerchantFunding(ctx context.Context, contractID string, amount zkchannel.Amount) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	if amount == 0 {
		return Skipped, nil
	}
	c.state.MerchantBalance = amount
	c.merchantFunded = true
	c.state.Status = Open
	return Applied, nil
}

func (m *MockDriver) GetContractState(ctx context.Context, contractID string, confirmationDepth uint32) (ContractState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return ContractState{}, err
	}
	return c.state, nil
}

func (m *MockDriver) VerifyOrigination(ctx context.Context, contractID string, expected OriginationExpectation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return err
	}
	if c.state.Status != AwaitingCustomerFunding {
		return ErrVerificationFailed
	}
	if c.state.SelfDelay != expected.SelfDelay {
		return ErrVerificationFailed
	}
	c.originationExp = expected
	return nil
}

func (m *MockDriver) VerifyCustomerFunding(ctx context.Context, contractID string, expectedAmount zkchannel.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return err
	}
	if !c.customerFunded || c.state.CustomerBalance != expectedAmount {
		return ErrVerificationFailed
	}
	return nil
}

func (m *MockDriver) VerifyMerchantFunding(ctx context.Context, contractID string, expectedAmount zkchannel.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return err
	}
	if expectedAmount == 0 {
		return nil
	}
	if !c.merchantFunded || c.state.MerchantBalance != expectedAmount {
		return ErrVerificationFailed
	}
	return nil
}

func (m *MockDriver) CustClose(ctx context.Context, contractID string, closingMessage zkchannel.ClosingMessage) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	c.state.Status = CustomerClose
	c.state.CustomerBalance = closingMessage.Balances.CustomerBalance
	c.state.MerchantBalance = closingMessage.Balances.MerchantBalance
	c.state.RevocationLock = closingMessage.RevocationLock
	return Applied, nil
}

func (m *MockDriver) CustClaim(ctx context.Context, contractID string) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	if c.state.Status != CustomerClose {
		return Failed, nil
	}
	c.state.Status = Closed
	return Applied, nil
}

func (m *MockDriver) Expiry(ctx context.Context, contractID string) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	c.state.Status = Expiry
	return Applied, nil
}

func (m *MockDriver) MerchClaim(ctx context.Context, contractID string) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	c.state.Status = Closed
	return Applied, nil
}

func (m *MockDriver) MerchDispute(ctx context.Context, contractID string, revocationSecret []byte) (WriteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	c.state.Status = Closed
	c.state.MerchantBalance = c.state.MerchantBalance + c.state.CustomerBalance
	c.state.CustomerBalance = 0
	return Applied, nil
}

func (m *MockDriver) AuthorizeMutualClose(ctx context.Context, contractID string,
	closeCtx zkchannel.MutualCloseAuthorizationContext) ([]byte, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return nil, err
	}
	c.closeAuthorized = true
	digest := MutualCloseAuthorizationDigest(closeCtx)
	return digest[:], nil
}

func (m *MockDriver) MutualClose(ctx context.Context, contractID string,
	customerBalance, merchantBalance zkchannel.Amount, authorizationSig []byte) (WriteStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.lookup(contractID)
	if err != nil {
		return Failed, err
	}
	if !c.closeAuthorized || len(authorizationSig) == 0 {
		return Failed, nil
	}
	c.state.Status = Closed
	c.state.CustomerBalance = customerBalance
	c.state.MerchantBalance = merchantBalance
	return Applied, nil
}
