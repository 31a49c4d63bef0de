package evm

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/keys"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// MessageEventName is the event carrying cross-chain messages.
const MessageEventName = "LogMessagePublished"

// MessageEventABI is the ABI of the core bridge message event.
const MessageEventABI = `[{"anonymous":false,"inputs":[` +
	`{"indexed":true,"internalType":"address","name":"sender","type":"address"},` +
	`{"indexed":false,"internalType":"uint64","name":"sequence","type":"uint64"},` +
	`{"indexed":false,"internalType":"uint32","name":"nonce","type":"uint32"},` +
	`{"indexed":false,"internalType":"bytes","name":"payload","type":"bytes"},` +
	`{"indexed":false,"internalType":"uint8","name":"consistencyLevel","type":"uint8"}],` +
	`"name":"LogMessagePublished","type":"event"}]`

type messagePublished struct {
	Sequence         uint64
	Nonce            uint32
	Payload          []byte
	ConsistencyLevel uint8
}

// Extractor decodes LogMessagePublished logs into canonical messages.
type Extractor struct {
	chain  string
	abi    abi.ABI
	event  abi.Event
	filter types.Filter
}

var _ chain.Extractor[Record] = (*Extractor)(nil)

// NewExtractor parses abiJSON (MessageEventABI when empty) and returns an
// extractor for logs accepted by filter.
func NewExtractor(chainName, abiJSON string, filter types.Filter) (*Extractor, error) {
	if chainName == "" {
		return nil, chain.Configurationf("evm: chain name is required")
	}
	if abiJSON == "" {
		abiJSON = MessageEventABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, chain.Configurationf("evm: parse abi: %v", err)
	}
	event, ok := parsed.Events[MessageEventName]
	if !ok {
		return nil, chain.Configurationf("evm: abi has no %s event", MessageEventName)
	}
	return &Extractor{chain: chainName, abi: parsed, event: event, filter: filter.Normalize()}, nil
}

// Topic returns the topic0 of the message event.
func (e *Extractor) Topic() common.Hash {
	return e.event.ID
}

// Extract returns the message carried by rec, if any. EVM logs have no
// nesting; parentTxHash only overrides the attributed transaction.
func (e *Extractor) Extract(rec Record, parentTxHash string) ([]types.CanonicalMessage, error) {
	l := rec.Log
	if len(l.Topics) == 0 || l.Topics[0] != e.event.ID {
		return nil, nil
	}
	if !e.filter.HasAddress(l.Address.Hex()) {
		return nil, nil
	}
	if !e.filter.HasTopic(l.Topics[0].Hex()) {
		return nil, nil
	}
	if len(l.Topics) < 2 {
		return nil, chain.Malformed("evm: log %s:%d has no sender topic", l.TxHash.Hex(), l.Index)
	}

	var decoded messagePublished
	if err := e.abi.UnpackIntoInterface(&decoded, MessageEventName, l.Data); err != nil {
		return nil, chain.Malformed("evm: log %s:%d: %v", l.TxHash.Hex(), l.Index, err)
	}

	txHash := parentTxHash
	if txHash == "" {
		txHash = l.TxHash.Hex()
	}
	emitter := hex.EncodeToString(l.Topics[1].Bytes())
	sequence := strconv.FormatUint(decoded.Sequence, 10)
	ts := time.Unix(int64(rec.BlockTime), 0).UTC()

	return []types.CanonicalMessage{{
		Chain:       e.chain,
		TxHash:      txHash,
		Emitter:     emitter,
		Sequence:    sequence,
		BlockNumber: l.BlockNumber,
		Timestamp:   ts,
		Payload:     decoded.Payload,
		BlockKey:    keys.BlockKey(l.BlockNumber, ts),
		MessageKey:  keys.MessageKey(e.chain, emitter, sequence),
	}}, nil
}
