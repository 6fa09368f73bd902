package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/abci"
	"github.com/uhyunpark/zigzag/pkg/app/core/ledger"
	"github.com/uhyunpark/zigzag/pkg/app/core/mempool"
	"github.com/uhyunpark/zigzag/pkg/app/core/oracle"
	"github.com/uhyunpark/zigzag/pkg/app/core/settlement"
	"github.com/uhyunpark/zigzag/pkg/app/core/transaction"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

// ErrTxTooLarge is returned by PushTx for a tx that could never fit in a block
var ErrTxTooLarge = errors.New("transaction exceeds block size limit")

// BlockRecord is what the app persists per finalized block
type BlockRecord struct {
	Height    int64             `json:"height"`
	Timestamp int64             `json:"timestamp"`
	AppHash   common.Hash       `json:"app_hash"`
	Txs       []json.RawMessage `json:"txs"`
	Results   []abci.TxResult   `json:"results"`
}

// App applies blocks of fill and time transactions to the state store,
// one transaction at a time in block order.
type App struct {
	mu       sync.Mutex
	store    storage.Store
	engine   *settlement.Engine
	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	txLog    storage.TxLog
	logger   *zap.SugaredLogger
	metrics  *Metrics

	maxTxBytes int64 // 0 means unlimited

	height  int64
	appHash common.Hash

	// Hooks (set before the producer starts)
	OnSettlement func(ev settlement.Event)
	OnBlock      func(rec BlockRecord)
}

// NewApp resumes from whatever height the store has reached
func NewApp(store storage.Store, engine *settlement.Engine, verifier *transaction.Verifier, logger *zap.Logger, metrics *Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	a := &App{
		store:    store,
		engine:   engine,
		verifier: verifier,
		mempool:  mempool.NewMempool(),
		txLog:    storage.NewNopWAL(),
		logger:   logger.Sugar(),
		metrics:  metrics,
	}

	h, err := storage.GetUint64(store, storage.ChainHeightKey())
	if err != nil {
		return nil, fmt.Errorf("read height: %w", err)
	}
	a.height = int64(h)
	if v, err := store.Get(storage.ChainAppHashKey()); err == nil {
		a.appHash = common.BytesToHash(v)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read app hash: %w", err)
	}
	a.metrics.Height.Set(float64(a.height))
	return a, nil
}

// SetTxLog records every finalized transaction to l
func (a *App) SetTxLog(l storage.TxLog) { a.txLog = l }

// SetMaxTxBytes caps the size of an admitted tx, normally at the block limit
func (a *App) SetMaxTxBytes(n int64) { a.maxTxBytes = n }

// InitChain seeds oracle and token state on an empty store. It is a no-op
// once the oracle has a writer.
func (a *App) InitChain(g *ledger.Genesis, writer common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := oracle.Writer(a.store); err == nil {
		a.logger.Infow("genesis_skipped", "reason", "already_initialized", "height", a.height)
		return nil
	} else if !errors.Is(err, oracle.ErrNotInitialized) {
		return err
	}

	if g == nil {
		g = &ledger.Genesis{}
	}
	tx := storage.NewTx(a.store)
	if err := oracle.Init(tx, writer, g.OracleTime); err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}
	if err := g.Apply(ledger.New(tx), a.engine.Address()); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	a.logger.Infow("genesis_applied", "oracle_writer", writer.Hex(), "oracle_time", g.OracleTime, "tokens", len(g.Tokens))
	return nil
}

// PushTx admits a transaction into the mempool after a size and
// structural check
func (a *App) PushTx(b []byte) error {
	if a.maxTxBytes > 0 && int64(len(b)) > a.maxTxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTxTooLarge, len(b), a.maxTxBytes)
	}
	if _, err := transaction.ParseTransaction(b); err != nil {
		return err
	}
	kind := a.mempool.PushRaw(b)
	a.metrics.Admitted.WithLabelValues(kind.String()).Inc()
	return nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any block whose transactions decode
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, tx := range req.Txs {
		if _, err := transaction.ParseTransaction(tx); err != nil {
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies txs in order. A rejected tx changes nothing and
// does not stop the block. Every write of the block, its record, height
// and app hash included, reaches the store in one commit; if that commit
// fails the app stays at the previous height.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	block := storage.NewTx(a.store)
	results := make([]abci.TxResult, len(req.Txs))
	var events []settlement.Event
	for i, tx := range req.Txs {
		res, ev := a.applyTx(block, tx)
		results[i] = res
		if ev != nil {
			events = append(events, *ev)
		}
	}

	appHash := nextAppHash(a.appHash, req, results)
	rec := BlockRecord{
		Height:    req.Height,
		Timestamp: req.Timestamp,
		AppHash:   appHash,
		Txs:       make([]json.RawMessage, len(req.Txs)),
		Results:   results,
	}
	for i, tx := range req.Txs {
		rec.Txs[i] = json.RawMessage(tx)
	}
	if err := a.commitBlock(block, rec); err != nil {
		block.Discard()
		a.logger.Errorw("block_commit_failed", "height", req.Height, "err", err)
		failed := make([]abci.TxResult, len(req.Txs))
		for i := range failed {
			failed[i] = abci.TxResult{Code: abci.CodeInternal, Type: results[i].Type, Log: err.Error()}
			a.metrics.TxResults.WithLabelValues(failed[i].Type, codeLabel(failed[i].Code)).Inc()
		}
		return abci.ResponseFinalizeBlock{Results: failed, AppHash: a.appHash}
	}

	a.appHash = appHash
	a.height = req.Height
	for i, res := range results {
		a.metrics.TxResults.WithLabelValues(res.Type, codeLabel(res.Code)).Inc()
		a.txLog.Append(fmt.Sprintf("%d\t%d\t%s\t%s", req.Height, res.Code, res.Reason, req.Txs[i]))
	}

	a.metrics.Height.Set(float64(req.Height))
	if len(req.Txs) > 0 {
		a.logger.Infow("block_applied",
			"height", req.Height,
			"txs", len(req.Txs),
			"settlements", len(events),
			"apphash", a.appHash.Hex())
	}

	for _, ev := range events {
		if a.OnSettlement != nil {
			a.OnSettlement(ev)
		}
	}
	if a.OnBlock != nil {
		a.OnBlock(rec)
	}

	return abci.ResponseFinalizeBlock{Results: results, AppHash: a.appHash}
}

// applyTx stages one tx in block. A tx that fails leaves block as it was.
func (a *App) applyTx(block *storage.Tx, raw []byte) (abci.TxResult, *settlement.Event) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return abci.TxResult{Code: abci.CodeInvalid, Type: "unknown", Log: err.Error()}, nil
	}

	switch tx.Type {
	case transaction.TxTypeFill:
		req, err := tx.Fill.ToFillRequest()
		if err != nil {
			return abci.TxResult{Code: abci.CodeInvalid, Type: string(tx.Type), Log: err.Error()}, nil
		}
		receipt, err := a.engine.FillOrderOn(context.Background(), block, req)
		if err != nil {
			if reason, ok := settlement.ReasonOf(err); ok {
				return abci.TxResult{Code: abci.CodeRejected, Type: string(tx.Type), Reason: string(reason), Log: err.Error()}, nil
			}
			return abci.TxResult{Code: abci.CodeInternal, Type: string(tx.Type), Log: err.Error()}, nil
		}
		return abci.TxResult{Code: abci.CodeOK, Type: string(tx.Type)}, &receipt.Event

	case transaction.TxTypeTime:
		writer, err := a.verifier.VerifyTimeTransaction(tx)
		if err != nil {
			return abci.TxResult{Code: abci.CodeInvalid, Type: string(tx.Type), Log: err.Error()}, nil
		}
		if err := setTime(block, writer, tx.Time.Time); err != nil {
			code := abci.CodeInternal
			reason := ""
			switch {
			case errors.Is(err, oracle.ErrUnauthorized):
				code, reason = abci.CodeRejected, "Unauthorized"
			case errors.Is(err, oracle.ErrTimeRegression):
				code, reason = abci.CodeRejected, "TimeRegression"
			}
			return abci.TxResult{Code: code, Type: string(tx.Type), Reason: reason, Log: err.Error()}, nil
		}
		return abci.TxResult{Code: abci.CodeOK, Type: string(tx.Type)}, nil
	}

	return abci.TxResult{Code: abci.CodeInvalid, Type: string(tx.Type), Log: "unsupported transaction type"}, nil
}

func setTime(block *storage.Tx, writer common.Address, t uint64) error {
	tx := storage.NewTx(block)
	if err := oracle.SetCurrentTime(tx, writer, t); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// commitBlock adds the block record, height and app hash to block and
// commits everything to the store at once
func (a *App) commitBlock(block *storage.Tx, rec BlockRecord) error {
	if err := storage.PutJSON(block, storage.BlockKey(uint64(rec.Height)), rec); err != nil {
		return err
	}
	if err := storage.PutUint64(block, storage.ChainHeightKey(), uint64(rec.Height)); err != nil {
		return err
	}
	if err := block.Set(storage.ChainAppHashKey(), rec.AppHash.Bytes()); err != nil {
		return err
	}
	return block.Commit()
}

// nextAppHash chains the previous hash with the block header and each
// transaction's digest and result code. Replaying the same blocks from
// the same genesis yields the same hash.
func nextAppHash(prev common.Hash, req abci.RequestFinalizeBlock, results []abci.TxResult) common.Hash {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(req.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(req.Timestamp))
	h.Write(buf[:])

	for i, tx := range req.Txs {
		h.Write(crypto.Keccak256(tx))
		binary.BigEndian.PutUint32(buf[:4], results[i].Code)
		h.Write(buf[:4])
	}
	return common.BytesToHash(h.Sum(nil))
}

func codeLabel(code uint32) string {
	switch code {
	case abci.CodeOK:
		return "ok"
	case abci.CodeRejected:
		return "rejected"
	case abci.CodeInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// ==============================
// Queries (API read path)
// ==============================

func (a *App) Height() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

func (a *App) AppHash() common.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appHash
}

func (a *App) MempoolSize() int { return a.mempool.Len() }

func (a *App) Engine() *settlement.Engine { return a.engine }

func (a *App) Verifier() *transaction.Verifier { return a.verifier }

// State is the committed state, for read-only queries
func (a *App) State() storage.KV { return a.store }

// Block returns the record of a finalized block
func (a *App) Block(height int64) (*BlockRecord, error) {
	var rec BlockRecord
	if err := storage.GetJSON(a.store, storage.BlockKey(uint64(height)), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ abci.Application = (*App)(nil)
