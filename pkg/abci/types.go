package abci

import (
	"github.com/ethereum/go-ethereum/common"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the outcome of one transaction in a finalized block.
// Code 0 is success; anything else leaves state as it was.
type TxResult struct {
	Code   uint32 `json:"code"`
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Log    string `json:"log,omitempty"`
}

const (
	CodeOK       uint32 = 0
	CodeRejected uint32 = 1 // settlement or oracle rule said no
	CodeInvalid  uint32 = 2 // undecodable or badly signed envelope
	CodeInternal uint32 = 3 // storage fault
)

type ResponseFinalizeBlock struct {
	Results []TxResult
	AppHash common.Hash // Hash of application state after execution
}

// Application is the state machine a block producer drives
type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}
