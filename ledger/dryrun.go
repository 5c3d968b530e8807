package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"openbook-mm/infrastructure/logger"
)

// DryRun reads through to the wrapped provider and only logs submissions.
type DryRun struct {
	next   Provider
	logger *logger.Logger
}

func NewDryRun(next Provider, log *logger.Logger) *DryRun {
	if log == nil {
		log = logger.NewNop()
	}
	return &DryRun{next: next, logger: log.Component("dry_run")}
}

func (d *DryRun) FetchAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*Account, error) {
	return d.next.FetchAccount(ctx, address, commitment)
}

func (d *DryRun) SubmitTransaction(_ context.Context, bundle Bundle) (solana.Signature, error) {
	programs := make([]string, 0, len(bundle.Instructions))
	for _, ix := range bundle.Instructions {
		programs = append(programs, ix.ProgramID().String())
	}
	d.logger.Info("dry run: transaction not sent",
		zap.String("label", bundle.Label),
		zap.Stringer("payer", bundle.Payer),
		zap.Strings("programs", programs),
	)
	return solana.Signature{}, nil
}
