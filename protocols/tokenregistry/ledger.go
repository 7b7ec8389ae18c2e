package tokenregistry

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken        = errors.New("unknown token")
	ErrTokenExists         = errors.New("token already registered")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("amount must not be negative")
)

// Ledger is an in-memory registry of tokens and the balances held in them.
// It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	tokens   map[common.Address]Token
	balances map[common.Address]map[common.Address]*big.Int
}

func NewLedger(tokens ...Token) (*Ledger, error) {
	l := &Ledger{
		tokens:   make(map[common.Address]Token, len(tokens)),
		balances: make(map[common.Address]map[common.Address]*big.Int, len(tokens)),
	}
	for _, t := range tokens {
		if err := l.Register(t); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) Register(t Token) error {
	if err := t.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[t.Address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.Address.Hex())
	}
	l.tokens[t.Address] = t
	l.balances[t.Address] = make(map[common.Address]*big.Int)
	return nil
}

func (l *Ledger) Token(address common.Address) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[address]
	return t, ok
}

// Tokens returns every registered token ordered by address.
func (l *Ledger) Tokens() []Token {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := make([]Token, 0, len(l.tokens))
	for _, t := range l.tokens {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Address.Cmp(all[j].Address) < 0
	})
	return all
}

// Mint creates amount of token in the account of to. No transfer fee applies.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balances, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	credit(balances, to, amount)
	return nil
}

func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	balances, ok := l.balances[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if b, ok := balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// Transfer moves amount of token from one account to another. The token's
// transfer fee is burned, so to receives less than from sends.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	balances := l.balances[token]

	have := balances[from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from.Hex(), balanceString(have), t.Symbol, amount)
	}

	balances[from] = new(big.Int).Sub(have, amount)
	credit(balances, to, new(big.Int).Sub(amount, t.transferFee(amount)))
	return nil
}

// Account returns a view of the ledger from owner's side.
func (l *Ledger) Account(owner common.Address) *Account {
	return &Account{ledger: l, owner: owner}
}

func credit(balances map[common.Address]*big.Int, to common.Address, amount *big.Int) {
	if b, ok := balances[to]; ok {
		balances[to] = new(big.Int).Add(b, amount)
		return
	}
	balances[to] = new(big.Int).Set(amount)
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}

// Account is the ledger seen by a single owner. It is the custody a pool
// uses for its own balances.
type Account struct {
	ledger *Ledger
	owner  common.Address
}

func (a *Account) Owner() common.Address {
	return a.owner
}

func (a *Account) BalanceOf(token common.Address) (*big.Int, error) {
	return a.ledger.BalanceOf(token, a.owner)
}

func (a *Account) Transfer(token, to common.Address, amount *big.Int) error {
	return a.ledger.Transfer(token, a.owner, to, amount)
}
