package txn

import (
	"encoding/json"
	"fmt"
	"time"
)

// Input is a transaction input. Amount is nil when the explorer does not
// report the value spent by the input.
type Input struct {
	Address string  `json:"address"`
	Amount  *Amount `json:"amount,omitempty"`
}

// Output is a transaction output.
type Output struct {
	Address string `json:"address"`
	Amount  Amount `json:"amount"`
}

// Transaction is a confirmed transaction as reported by the explorer.
// Transactions are read-only once fetched.
type Transaction struct {
	Hash      string    `json:"hash"`
	BlockHash string    `json:"blockHash,omitempty"`
	Timestamp time.Time `json:"-"`
	Inputs    []Input   `json:"inputs"`
	Outputs   []Output  `json:"outputs"`
}

type transactionJSON struct {
	Hash      string   `json:"hash"`
	BlockHash string   `json:"blockHash,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
}

// MarshalJSON writes the timestamp as epoch milliseconds, the explorer's wire format.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		Hash:      t.Hash,
		BlockHash: t.BlockHash,
		Timestamp: t.Timestamp.UnixMilli(),
		Inputs:    t.Inputs,
		Outputs:   t.Outputs,
	})
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Hash == "" {
		return fmt.Errorf("transaction is missing hash")
	}
	*t = Transaction{
		Hash:      raw.Hash,
		BlockHash: raw.BlockHash,
		Timestamp: time.UnixMilli(raw.Timestamp).UTC(),
		Inputs:    raw.Inputs,
		Outputs:   raw.Outputs,
	}
	return nil
}

// PendingTransaction is a transaction submitted by this wallet that has not
// been observed as confirmed yet. Amount is the positive magnitude debited
// from FromAddress.
type PendingTransaction struct {
	TxID        string    `json:"txId"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
	Amount      Amount    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// AddressDetails is the explorer's summary for an address.
type AddressDetails struct {
	Balance       Amount `json:"balance"`
	LockedBalance Amount `json:"lockedBalance"`
	TxNumber      int    `json:"txNumber"`
}
