// Package ledger is the boundary to the chain: account reads and
// transaction submission.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrAccountNotFound    = errors.New("ledger: account not found")
	ErrSubmissionRejected = errors.New("ledger: transaction rejected")
)

// Account is a raw account snapshot and the slot it was read at.
type Account struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
	Slot    uint64
}

// Bundle is an ordered list of instructions submitted as one transaction.
type Bundle struct {
	Label        string
	Payer        solana.PublicKey
	Instructions []solana.Instruction
}

// Provider reads accounts and submits transactions.
type Provider interface {
	FetchAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*Account, error)
	SubmitTransaction(ctx context.Context, bundle Bundle) (solana.Signature, error)
}
