package api

// API response types for REST endpoints and WebSocket messages.
// 256-bit quantities are decimal strings.

// ==============================
// REST Response Types
// ==============================

// SubmitFillResponse is returned once a fill is admitted to the mempool.
// Admission only checks encoding; the outcome is known after the block.
type SubmitFillResponse struct {
	Status   string `json:"status"`    // "submitted"
	SellHash string `json:"sell_hash"` // 0x...
	BuyHash  string `json:"buy_hash"`
}

// SubmitTimeResponse is returned for an admitted oracle time update
type SubmitTimeResponse struct {
	Status string `json:"status"`
	Writer string `json:"writer"`
	Time   uint64 `json:"time"`
}

// OrderStatus is the cumulative filled quantity recorded for an order hash
type OrderStatus struct {
	Hash   string `json:"hash"`
	Filled string `json:"filled"`
}

// OrderHashResponse is the digest a signer must sign for an order
type OrderHashResponse struct {
	Hash   string `json:"hash"`
	Scheme string `json:"scheme"`
}

// OracleInfo is the current oracle state
type OracleInfo struct {
	Time   uint64 `json:"time"`
	Writer string `json:"writer"`
}

// BalanceInfo is one account's balance of one token
type BalanceInfo struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// AllowanceInfo is an owner's allowance to a spender
type AllowanceInfo struct {
	Asset     string `json:"asset"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

// ChainStatus is the block producer's view of the chain
type ChainStatus struct {
	Height          int64  `json:"height"`
	AppHash         string `json:"app_hash"`
	MempoolSize     int    `json:"mempool_size"`
	OracleTime      uint64 `json:"oracle_time"`
	EngineAddress   string `json:"engine_address"`
	DomainSeparator string `json:"domain_separator"` // what wallets must sign typed orders against
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every pushed update
type WSMessage struct {
	Type string      `json:"type"` // "settlement", "block", "subscribe", "unsubscribe"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "settlements", "blocks", "account:0x..."
}

// BlockUpdate summarizes a finalized block
type BlockUpdate struct {
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	AppHash   string `json:"app_hash"`
	Txs       int    `json:"txs"`
	Rejected  int    `json:"rejected"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
