// Package agentapi serves the agent level endpoints that do not belong to a single module:
// liveness, payment parameters, dashboard counters and the chain proxy endpoints.
package agentapi

import (
	"context"
	"encoding/json"

	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/modules/p2p"
	"github.com/poybro/soknode/modules/rewards"
	"github.com/poybro/soknode/modules/staking"
)

type Chain interface {
	Available() bool
	GetHeight(ctx context.Context) (int64, error)
	GetBalanceRaw(ctx context.Context, address string) (json.RawMessage, error)
	RecoverPublicKey(ctx context.Context, address string) (string, error)
	BroadcastTransaction(ctx context.Context, tx any) error
}

type SignatureVerifier interface {
	Verify(pubKeyHex, message, sigHex string) (bool, error)
}

type Dependencies struct {
	Chain           Chain
	Verifier        SignatureVerifier
	Rewards         *rewards.Service
	Book            *p2p.Book
	Ledger          *staking.Ledger
	TreasuryAddress string
	Economy         config.EconomyConfig
}

type HttpHandler struct {
	Dependencies
}

func New(deps Dependencies) *HttpHandler {
	return &HttpHandler{
		Dependencies: deps,
	}
}
