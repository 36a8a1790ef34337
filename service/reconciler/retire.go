package reconciler

import (
	"fmt"
	"time"

	"github.com/brojonat/walletsync/service/txn"
)

// RetirePolicy decides which pending transactions have been confirmed and
// can be dropped from the session.
type RetirePolicy interface {
	Name() string
	// Retire returns the TxIDs of pending entries that correspond to
	// transactions in confirmed.
	Retire(address string, pending []txn.PendingTransaction, confirmed []txn.Transaction) []string
}

// DefaultMatchWindow bounds the timestamp distance accepted by RetireByMatch.
const DefaultMatchWindow = 10 * time.Minute

// RetireNever leaves pending entries alone; the owner of the session removes
// them.
type RetireNever struct{}

func (RetireNever) Name() string { return "never" }

func (RetireNever) Retire(string, []txn.PendingTransaction, []txn.Transaction) []string {
	return nil
}

// RetireByID retires a pending entry once a confirmed transaction with the
// same hash is loaded.
type RetireByID struct{}

func (RetireByID) Name() string { return "id" }

func (RetireByID) Retire(_ string, pending []txn.PendingTransaction, confirmed []txn.Transaction) []string {
	hashes := make(map[string]struct{}, len(confirmed))
	for _, tx := range confirmed {
		hashes[tx.Hash] = struct{}{}
	}
	var ids []string
	for _, p := range pending {
		if _, ok := hashes[p.TxID]; ok {
			ids = append(ids, p.TxID)
		}
	}
	return ids
}

// RetireByMatch retires by hash like RetireByID and otherwise matches an
// outgoing confirmed transaction paying exactly Amount to ToAddress within
// Window of the pending timestamp. Each confirmed transaction retires at most
// one pending entry.
type RetireByMatch struct {
	Window time.Duration
}

func (RetireByMatch) Name() string { return "match" }

func (m RetireByMatch) Retire(address string, pending []txn.PendingTransaction, confirmed []txn.Transaction) []string {
	window := m.Window
	if window <= 0 {
		window = DefaultMatchWindow
	}

	used := make(map[int]bool, len(confirmed))
	byHash := make(map[string]int, len(confirmed))
	for i, tx := range confirmed {
		byHash[tx.Hash] = i
	}

	var ids []string
	for _, p := range pending {
		if i, ok := byHash[p.TxID]; ok && !used[i] {
			used[i] = true
			ids = append(ids, p.TxID)
			continue
		}
		if p.FromAddress != "" && p.FromAddress != address {
			continue
		}
		for i, tx := range confirmed {
			if used[i] || !matches(tx, address, p, window) {
				continue
			}
			used[i] = true
			ids = append(ids, p.TxID)
			break
		}
	}
	return ids
}

func matches(tx txn.Transaction, address string, p txn.PendingTransaction, window time.Duration) bool {
	if txn.AmountDelta(tx, address).Sign() >= 0 {
		return false
	}
	d := tx.Timestamp.Sub(p.Timestamp)
	if d < 0 {
		d = -d
	}
	if d > window {
		return false
	}
	for _, out := range tx.Outputs {
		if out.Address == p.ToAddress && out.Amount.Equal(p.Amount) {
			return true
		}
	}
	return false
}

// ParseRetirePolicy maps a configuration value to a policy.
func ParseRetirePolicy(name string, window time.Duration) (RetirePolicy, error) {
	switch name {
	case "", "never":
		return RetireNever{}, nil
	case "id":
		return RetireByID{}, nil
	case "match":
		return RetireByMatch{Window: window}, nil
	default:
		return nil, fmt.Errorf("unknown pending retire policy %q (want never, id or match)", name)
	}
}
