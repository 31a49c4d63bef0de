package algorand

// Transaction is the subset of an indexer transaction the watcher reads.
// Byte fields stay base64 strings so the extractor decides how to treat
// undecodable values.
type Transaction struct {
	ID                     string                  `json:"id,omitempty"`
	TxType                 string                  `json:"tx-type"`
	Sender                 string                  `json:"sender"`
	ConfirmedRound         uint64                  `json:"confirmed-round,omitempty"`
	RoundTime              int64                   `json:"round-time,omitempty"`
	Logs                   []string                `json:"logs,omitempty"`
	ApplicationTransaction *ApplicationTransaction `json:"application-transaction,omitempty"`
	InnerTxns              []Transaction           `json:"inner-txns,omitempty"`
}

// ApplicationTransaction holds the application call fields of a transaction.
type ApplicationTransaction struct {
	ApplicationID   uint64   `json:"application-id"`
	ApplicationArgs []string `json:"application-args,omitempty"`
	OnCompletion    string   `json:"on-completion,omitempty"`
}

// Transaction types that never carry protocol messages.
const (
	TxTypePayment = "pay"
	TxTypeAppCall = "appl"
)

// ApplicationLogsPage is one page of /v2/applications/{id}/logs.
type ApplicationLogsPage struct {
	ApplicationID uint64           `json:"application-id"`
	CurrentRound  uint64           `json:"current-round"`
	LogData       []ApplicationLog `json:"log-data"`
	NextToken     string           `json:"next-token,omitempty"`
}

// ApplicationLog is one entry of ApplicationLogsPage.LogData.
type ApplicationLog struct {
	TxID string   `json:"txid"`
	Logs []string `json:"logs"`
}

// Block is the header of an indexer block.
type Block struct {
	Round     uint64 `json:"round"`
	Timestamp int64  `json:"timestamp"`
}

type statusResponse struct {
	LastRound uint64 `json:"last-round"`
}

type transactionsResponse struct {
	CurrentRound uint64        `json:"current-round"`
	Transactions []Transaction `json:"transactions"`
	NextToken    string        `json:"next-token,omitempty"`
}
