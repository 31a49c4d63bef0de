package algorand

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/keys"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// payloadArgIndex is the application argument carrying the message payload.
const payloadArgIndex = 1

// Extractor turns indexer transactions into canonical messages. A
// transaction matches when it is not a payment, calls the configured
// application and emitted exactly one log.
//
// Only a top-level transaction without id or sender is malformed. A call
// whose log or payload cannot be decoded is skipped and counted so that
// its siblings in the same group still produce messages.
type Extractor struct {
	chain   string
	appID   uint64
	logger  *zap.Logger
	skipped atomic.Uint64
}

var _ chain.Extractor[Transaction] = (*Extractor)(nil)

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorLogger sets the logger used to report skipped calls.
func WithExtractorLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor returns an extractor for messages of appID on chainName.
func NewExtractor(chainName string, appID uint64, opts ...ExtractorOption) (*Extractor, error) {
	if chainName == "" {
		return nil, chain.Configurationf("algorand: chain name is required")
	}
	if appID == 0 {
		return nil, chain.Configurationf("algorand: app id is required")
	}
	e := &Extractor{chain: chainName, appID: appID, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Skipped returns the number of matching calls dropped so far because
// their log or payload could not be decoded.
func (e *Extractor) Skipped() uint64 {
	return e.skipped.Load()
}

// Extract returns the messages of tx and its inner transactions in
// encounter order. Messages found in inner transactions are attributed to
// the outermost transaction.
func (e *Extractor) Extract(tx Transaction, parentTxHash string) ([]types.CanonicalMessage, error) {
	if parentTxHash == "" && tx.ID == "" {
		return nil, chain.Malformed("algorand: top-level transaction without id")
	}

	var out []types.CanonicalMessage
	if msg, ok, err := e.match(tx, parentTxHash); err != nil {
		if parentTxHash == "" {
			return nil, err
		}
		e.skip(tx, parentTxHash, err.Error())
	} else if ok {
		out = append(out, msg)
	}

	outer := parentTxHash
	if outer == "" {
		outer = tx.ID
	}
	for _, inner := range tx.InnerTxns {
		if inner.ConfirmedRound == 0 {
			inner.ConfirmedRound = tx.ConfirmedRound
		}
		if inner.RoundTime == 0 {
			inner.RoundTime = tx.RoundTime
		}
		msgs, err := e.Extract(inner, outer)
		if err != nil {
			e.skip(inner, outer, err.Error())
			continue
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (e *Extractor) match(tx Transaction, parentTxHash string) (types.CanonicalMessage, bool, error) {
	app := tx.ApplicationTransaction
	if tx.TxType == TxTypePayment || app == nil || app.ApplicationID != e.appID || len(tx.Logs) != 1 {
		return types.CanonicalMessage{}, false, nil
	}
	if len(app.ApplicationArgs) <= payloadArgIndex {
		return types.CanonicalMessage{}, false, nil
	}

	if tx.Sender == "" {
		return types.CanonicalMessage{}, false, chain.Malformed("algorand: %s has no sender", txRef(tx, parentTxHash))
	}
	publicKey, err := DecodeAddress(tx.Sender)
	if err != nil {
		return types.CanonicalMessage{}, false, chain.Malformed("algorand: %s sender: %v", txRef(tx, parentTxHash), err)
	}

	logBytes, err := base64.StdEncoding.DecodeString(tx.Logs[0])
	if err != nil || len(logBytes) == 0 {
		e.skip(tx, parentTxHash, fmt.Sprintf("undecodable log %q", tx.Logs[0]))
		return types.CanonicalMessage{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(app.ApplicationArgs[payloadArgIndex])
	if err != nil {
		e.skip(tx, parentTxHash, "undecodable payload argument")
		return types.CanonicalMessage{}, false, nil
	}

	txHash := parentTxHash
	if txHash == "" {
		txHash = tx.ID
	}
	emitter := hex.EncodeToString(publicKey)
	sequence := new(big.Int).SetBytes(logBytes).String()
	ts := time.Unix(tx.RoundTime, 0).UTC()

	return types.CanonicalMessage{
		Chain:       e.chain,
		TxHash:      txHash,
		Emitter:     emitter,
		Sequence:    sequence,
		BlockNumber: tx.ConfirmedRound,
		Timestamp:   ts,
		Payload:     payload,
		BlockKey:    keys.BlockKey(tx.ConfirmedRound, ts),
		MessageKey:  keys.MessageKey(e.chain, emitter, sequence),
	}, true, nil
}

func (e *Extractor) skip(tx Transaction, parentTxHash, reason string) {
	e.skipped.Add(1)
	e.logger.Warn("skipping application call",
		zap.String("chain", e.chain),
		zap.String("tx", txRef(tx, parentTxHash)),
		zap.String("reason", reason),
	)
}

// txRef names tx in errors and logs. Inner transactions carry no id of
// their own and are named after the outermost transaction.
func txRef(tx Transaction, parentTxHash string) string {
	switch {
	case tx.ID != "":
		return "transaction " + tx.ID
	case parentTxHash != "":
		return "inner transaction of " + parentTxHash
	default:
		return "transaction without id"
	}
}
