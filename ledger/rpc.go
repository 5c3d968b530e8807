package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"openbook-mm/infrastructure/logger"
)

// RPCConfig configures the JSON-RPC backed provider.
type RPCConfig struct {
	Endpoint          string
	RequestsPerSecond float64
	Burst             int
	SkipPreflight     bool
	MaxRetries        uint
	// Confirm waits for confirmed status after sending.
	Confirm         bool
	ConfirmInterval time.Duration
	// Commitment used for blockhash and preflight.
	Commitment rpc.CommitmentType
}

// RPCProvider talks to a node over JSON-RPC.
type RPCProvider struct {
	cfg     RPCConfig
	client  *rpc.Client
	limiter *rate.Limiter
	signers map[solana.PublicKey]solana.PrivateKey
	logger  *logger.Logger
}

func NewRPCProvider(cfg RPCConfig, signers []solana.PrivateKey, log *logger.Logger) (*RPCProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ledger: rpc endpoint required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 700 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if log == nil {
		log = logger.NewNop()
	}
	keys := make(map[solana.PublicKey]solana.PrivateKey, len(signers))
	for _, k := range signers {
		keys[k.PublicKey()] = k
	}
	return &RPCProvider{
		cfg:     cfg,
		client:  rpc.New(cfg.Endpoint),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		signers: keys,
		logger:  log.Component("ledger"),
	}, nil
}

// LoadSigner reads a solana-keygen JSON keypair file.
func LoadSigner(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", path, err)
	}
	return key, nil
}

func (p *RPCProvider) FetchAccount(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*Account, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	return &Account{
		Address: address,
		Owner:   resp.Value.Owner,
		Data:    resp.Value.Data.GetBinary(),
		Slot:    resp.Context.Slot,
	}, nil
}

func (p *RPCProvider) SubmitTransaction(ctx context.Context, bundle Bundle) (solana.Signature, error) {
	if len(bundle.Instructions) == 0 {
		return solana.Signature{}, fmt.Errorf("%s: empty bundle: %w", bundle.Label, ErrSubmissionRejected)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	recent, err := p.client.GetLatestBlockhash(ctx, p.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(bundle.Instructions, recent.Value.Blockhash, solana.TransactionPayer(bundle.Payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k, ok := p.signers[key]; ok {
			return &k
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       p.cfg.SkipPreflight,
		PreflightCommitment: p.cfg.Commitment,
	}
	if p.cfg.MaxRetries > 0 {
		retries := p.cfg.MaxRetries
		opts.MaxRetries = &retries
	}
	sig, err := p.client.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%s: %w: %v", bundle.Label, ErrSubmissionRejected, err)
	}
	p.logger.Debug("transaction sent", zap.String("label", bundle.Label), zap.Stringer("signature", sig))

	if p.cfg.Confirm {
		if err := p.waitForConfirmation(ctx, sig); err != nil {
			return sig, fmt.Errorf("confirm %s: %w", sig, err)
		}
	}
	return sig, nil
}

func (p *RPCProvider) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(p.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := p.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", ErrSubmissionRejected, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
