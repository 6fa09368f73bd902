package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/zigzag/params"
	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/app/core/order"
	"github.com/uhyunpark/zigzag/pkg/app/core/transaction"
	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// sign-order builds a matched, signed order pair and prints the fill
// transaction to POST to /api/v1/fills. Keys are generated unless given.
func main() {
	var (
		sellerKey = flag.String("seller-key", "", "seller private key (hex); generated if empty")
		buyerKey  = flag.String("buyer-key", "", "buyer private key (hex); generated if empty")
		base      = flag.String("base", "0x00000000000000000000000000000000000000b1", "base token address")
		quote     = flag.String("quote", "0x00000000000000000000000000000000000000a1", "quote token address")
		qty       = flag.String("qty", "100", "base quantity of both orders")
		fillQty   = flag.String("fill", "", "base fill quantity (default: qty)")
		priceNum  = flag.String("price-num", "3", "price numerator (quote units)")
		priceDen  = flag.String("price-den", "1", "price denominator (base units)")
		exp       = flag.Uint64("exp", 4102444800, "order expiration (oracle time)")
		scheme    = flag.String("scheme", "typed", "signing scheme: typed or raw")
	)
	flag.Parse()

	// Domain comes from the same env the node reads
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fail("config", err)
	}
	hasher := order.NewHasher(cfg.Domain.EIP712())

	seller := loadOrGenerate("seller", *sellerKey)
	buyer := loadOrGenerate("buyer", *buyerKey)

	for _, a := range []string{*base, *quote} {
		if !common.IsHexAddress(a) {
			fail("asset", fmt.Errorf("invalid address %q", a))
		}
	}
	quantity, err := num.ParseUint256(*qty)
	if err != nil {
		fail("qty", err)
	}
	price, err := num.ParseRatio(*priceNum, *priceDen)
	if err != nil {
		fail("price", err)
	}
	sch, err := order.ParseScheme(*scheme)
	if err != nil {
		fail("scheme", err)
	}
	if *fillQty == "" {
		*fillQty = *qty
	}

	template := order.Order{
		BaseAsset:    common.HexToAddress(*base),
		QuoteAsset:   common.HexToAddress(*quote),
		BaseQuantity: quantity,
		Price:        price,
		Expiration:   *exp,
	}

	sellOrder := template
	sellOrder.Side = order.Sell
	sell, err := hasher.Sign(sellOrder, sch, seller)
	if err != nil {
		fail("sign sell", err)
	}
	buyOrder := template
	buyOrder.Side = order.Buy
	buy, err := hasher.Sign(buyOrder, sch, buyer)
	if err != nil {
		fail("sign buy", err)
	}

	for _, so := range []order.SignedOrder{sell, buy} {
		h, err := hasher.Hash(&so.Order, so.Scheme)
		if err != nil {
			fail("hash", err)
		}
		if !crypto.VerifySignature(so.Order.Signer, h[:], so.Signature) {
			fail("verify", fmt.Errorf("%s order signature does not verify", so.Order.Side))
		}
		fmt.Fprintf(os.Stderr, "%s order %s signed by %s\n", so.Order.Side, h.Hex(), so.Order.Signer.Hex())
	}

	tx := transaction.NewFillTransaction(sell, buy, price, *fillQty)
	if err := tx.Validate(); err != nil {
		fail("validate", err)
	}
	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}

	fmt.Fprintln(os.Stderr, "\nPOST http://localhost:8080/api/v1/fills")
	fmt.Println(string(out))
}

func loadOrGenerate(role, hexKey string) *crypto.Signer {
	if hexKey != "" {
		s, err := crypto.FromPrivateKeyHex(hexKey)
		if err != nil {
			fail(role+" key", err)
		}
		return s
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		fail(role+" key", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %s key=%s (KEEP SECRET!)\n", role, s.Address().Hex(), s.PrivateKeyHex())
	return s
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
