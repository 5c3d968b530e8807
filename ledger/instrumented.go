package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Recorder receives one observation per provider call.
type Recorder interface {
	ObserveLedgerCall(action string, took time.Duration, err error)
}

// Instrumented reports call counts, errors and latency of a Provider.
type Instrumented struct {
	next Provider
	rec  Recorder
}

func NewInstrumented(next Provider, rec Recorder) Provider {
	if rec == nil {
		return next
	}
	return &Instrumented{next: next, rec: rec}
}

func (i *Instrumented) FetchAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*Account, error) {
	start := time.Now()
	acc, err := i.next.FetchAccount(ctx, address, commitment)
	i.rec.ObserveLedgerCall("fetch_account", time.Since(start), err)
	return acc, err
}

func (i *Instrumented) SubmitTransaction(ctx context.Context, bundle Bundle) (solana.Signature, error) {
	start := time.Now()
	sig, err := i.next.SubmitTransaction(ctx, bundle)
	i.rec.ObserveLedgerCall("submit_transaction", time.Since(start), err)
	return sig, err
}
