package txn

import "time"

// GenesisTimestamp is the timestamp of the genesis transaction, which has
// neither inputs nor a sender.
var GenesisTimestamp = time.UnixMilli(1231006505000).UTC()

const (
	LabelGenesis       = "Genesis TX"
	LabelMiningRewards = "Mining Rewards"
)

// Direction of a transaction relative to an address.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// AmountDelta returns the net change in the balance of address caused by tx:
// the sum of outputs paying address minus the sum of inputs spent by it.
//
// When any input spent by address carries no amount, the transaction is
// treated as wholly funded by address and the delta becomes the outputs paying
// address minus all outputs. A transaction that does not involve address
// yields zero. Self-sends are reported as computed.
func AmountDelta(tx Transaction, address string) Amount {
	received := Amount{}
	total := Amount{}
	for _, out := range tx.Outputs {
		total = total.Add(out.Amount)
		if out.Address == address {
			received = received.Add(out.Amount)
		}
	}

	spent := Amount{}
	for _, in := range tx.Inputs {
		if in.Address != address {
			continue
		}
		if in.Amount == nil {
			return received.Sub(total)
		}
		spent = spent.Add(*in.Amount)
	}
	return received.Sub(spent)
}

// Involves reports whether address appears among the inputs or outputs of tx.
func Involves(tx Transaction, address string) bool {
	for _, in := range tx.Inputs {
		if in.Address == address {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == address {
			return true
		}
	}
	return false
}

// DirectionOf classifies a delta: negative is outgoing, everything else incoming.
func DirectionOf(delta Amount) Direction {
	if delta.Sign() < 0 {
		return DirectionOut
	}
	return DirectionIn
}

// Row is a display-ready projection of a pending or confirmed transaction.
type Row struct {
	ID             string    `json:"id"`
	Pending        bool      `json:"pending"`
	Timestamp      time.Time `json:"timestamp"`
	Delta          Amount    `json:"delta"`
	Amount         Amount    `json:"amount"`
	Direction      Direction `json:"direction"`
	Counterparties []string  `json:"counterparties,omitempty"`
	Label          string    `json:"label,omitempty"`
}

// Classify projects a confirmed transaction into a Row from the point of view
// of address. Counterparties come from the outputs of outgoing transactions and
// from the inputs of incoming ones. When that side is empty the row is labelled
// as the genesis transaction or as a mining reward.
func Classify(tx Transaction, address string) Row {
	delta := AmountDelta(tx, address)
	dir := DirectionOf(delta)

	var side []string
	if dir == DirectionOut {
		for _, out := range tx.Outputs {
			side = append(side, out.Address)
		}
	} else {
		for _, in := range tx.Inputs {
			side = append(side, in.Address)
		}
	}

	row := Row{
		ID:        tx.Hash,
		Timestamp: tx.Timestamp,
		Delta:     delta,
		Amount:    delta.Abs(),
		Direction: dir,
	}
	if len(side) == 0 {
		if tx.Timestamp.Equal(GenesisTimestamp) {
			row.Label = LabelGenesis
		} else {
			row.Label = LabelMiningRewards
		}
		return row
	}
	row.Counterparties = uniqueExcept(side, address)
	return row
}

// ClassifyPending projects a pending transaction. Pending entries are always
// outgoing debits.
func ClassifyPending(p PendingTransaction) Row {
	return Row{
		ID:             p.TxID,
		Pending:        true,
		Timestamp:      p.Timestamp,
		Delta:          p.Amount.Abs().Neg(),
		Amount:         p.Amount.Abs(),
		Direction:      DirectionOut,
		Counterparties: []string{p.ToAddress},
	}
}

func uniqueExcept(addrs []string, exclude string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == exclude {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
