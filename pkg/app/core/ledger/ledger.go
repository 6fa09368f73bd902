package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSupplyOverflow        = errors.New("balance overflows 256 bits")
)

// Ledger is a fungible token ledger keyed by asset address. State lives in
// the KV it is bound to, so writes made through a storage.Tx share that
// transaction's fate.
//
// Amounts cross the API as (low, high) 128-bit limbs and are recomposed
// losslessly before arithmetic.
type Ledger struct {
	kv storage.KV
}

func New(kv storage.KV) *Ledger {
	return &Ledger{kv: kv}
}

func (l *Ledger) BalanceOf(asset, account common.Address) (num.Limbs, error) {
	bal, err := storage.GetUint256(l.kv, storage.BalanceKey(asset, account))
	if err != nil {
		return num.Limbs{}, fmt.Errorf("read balance: %w", err)
	}
	return num.SplitLimbs(bal), nil
}

func (l *Ledger) Allowance(asset, owner, spender common.Address) (num.Limbs, error) {
	alw, err := storage.GetUint256(l.kv, storage.AllowanceKey(asset, owner, spender))
	if err != nil {
		return num.Limbs{}, fmt.Errorf("read allowance: %w", err)
	}
	return num.SplitLimbs(alw), nil
}

// Approve sets (not adds to) spender's allowance over owner's balance
func (l *Ledger) Approve(asset, owner, spender common.Address, amount num.Limbs) error {
	return storage.PutUint256(l.kv, storage.AllowanceKey(asset, owner, spender), amount.Int())
}

// Mint credits amount to account out of thin air (genesis, faucets)
func (l *Ledger) Mint(asset, account common.Address, amount num.Limbs) error {
	key := storage.BalanceKey(asset, account)
	bal, err := storage.GetUint256(l.kv, key)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if _, overflow := bal.AddOverflow(bal, amount.Int()); overflow {
		return fmt.Errorf("mint %s to %s: %w", amount, account.Hex(), ErrSupplyOverflow)
	}
	return storage.PutUint256(l.kv, key, bal)
}

// TransferFrom moves amount from one account to another on behalf of
// spender, consuming spender's allowance. Nothing is written on failure.
func (l *Ledger) TransferFrom(asset, spender, from, to common.Address, amount num.Limbs) error {
	amt := amount.Int()

	alwKey := storage.AllowanceKey(asset, from, spender)
	alw, err := storage.GetUint256(l.kv, alwKey)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if alw.Lt(amt) {
		return fmt.Errorf("%s spending %s of %s: have %s: %w",
			spender.Hex(), amt.Dec(), from.Hex(), alw.Dec(), ErrInsufficientAllowance)
	}

	if err := l.move(asset, from, to, amt); err != nil {
		return err
	}
	return storage.PutUint256(l.kv, alwKey, alw.Sub(alw, amt))
}

func (l *Ledger) move(asset, from, to common.Address, amt *uint256.Int) error {
	fromKey := storage.BalanceKey(asset, from)
	fromBal, err := storage.GetUint256(l.kv, fromKey)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%s has %s, needs %s: %w", from.Hex(), fromBal.Dec(), amt.Dec(), ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}

	toKey := storage.BalanceKey(asset, to)
	toBal, err := storage.GetUint256(l.kv, toKey)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if _, overflow := toBal.AddOverflow(toBal, amt); overflow {
		return fmt.Errorf("credit %s: %w", to.Hex(), ErrSupplyOverflow)
	}

	if err := storage.PutUint256(l.kv, fromKey, fromBal.Sub(fromBal, amt)); err != nil {
		return err
	}
	return storage.PutUint256(l.kv, toKey, toBal)
}
