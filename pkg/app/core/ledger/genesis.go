package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
)

// Genesis seeds token balances and allowances on a fresh chain.
//
//	{
//	  "oracle_time": 1700000000,
//	  "tokens": [{
//	    "asset": "0x...", "symbol": "WETH",
//	    "balances": {"0xalice": "1000"},
//	    "allowances": [{"owner": "0xalice", "amount": "1000"}]
//	  }]
//	}
//
// An allowance without a spender is granted to the settlement engine.
type Genesis struct {
	OracleTime uint64         `json:"oracle_time"`
	Tokens     []GenesisToken `json:"tokens"`
}

type GenesisToken struct {
	Asset      string             `json:"asset"`
	Symbol     string             `json:"symbol,omitempty"`
	Balances   map[string]string  `json:"balances"`
	Allowances []GenesisAllowance `json:"allowances,omitempty"`
}

type GenesisAllowance struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// LoadGenesis reads a genesis file from disk
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &g, nil
}

// Apply mints every balance and sets every allowance
func (g *Genesis) Apply(l *Ledger, engine common.Address) error {
	for _, tok := range g.Tokens {
		if !common.IsHexAddress(tok.Asset) {
			return fmt.Errorf("token %q: invalid asset address %q", tok.Symbol, tok.Asset)
		}
		asset := common.HexToAddress(tok.Asset)

		for acct, amount := range tok.Balances {
			if !common.IsHexAddress(acct) {
				return fmt.Errorf("token %s: invalid account %q", tok.Asset, acct)
			}
			amt, err := num.ParseUint256(amount)
			if err != nil {
				return fmt.Errorf("token %s balance of %s: %w", tok.Asset, acct, err)
			}
			if err := l.Mint(asset, common.HexToAddress(acct), num.SplitLimbs(amt)); err != nil {
				return err
			}
		}

		for _, a := range tok.Allowances {
			spender := engine
			if a.Spender != "" {
				spender = common.HexToAddress(a.Spender)
			}
			amt, err := num.ParseUint256(a.Amount)
			if err != nil {
				return fmt.Errorf("token %s allowance of %s: %w", tok.Asset, a.Owner, err)
			}
			if err := l.Approve(asset, common.HexToAddress(a.Owner), spender, num.SplitLimbs(amt)); err != nil {
				return err
			}
		}
	}
	return nil
}
