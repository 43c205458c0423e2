package order

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/providers/cowswap"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/roles"
)

// Terminal states reported by Await.
const (
	StateFulfilled = "fulfilled"
	StateExpired   = "expired"
	StateCancelled = "cancelled"
	StateTimeout   = "timeout"
)

const defaultPollInterval = 5 * time.Second

// Lifecycle drives a presign order from placement to a terminal state. The
// order book never holds funds; authorization happens on-chain through the
// settlement contract's presignature, executed from the vault via the role
// contract.
type Lifecycle struct {
	book       *cowswap.Client
	submit     roles.Submitter
	chainID    int64
	vault      common.Address
	settlement common.Address

	settlementABI abi.ABI
	wrappedABI    abi.ABI

	pollInterval time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	log          zerolog.Logger
}

func NewLifecycle(book *cowswap.Client, submit roles.Submitter, chainID int64, vault, settlement common.Address, log zerolog.Logger) (*Lifecycle, error) {
	settlementABI, err := abi.JSON(strings.NewReader(registry.SettlementABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse settlement abi", err)
	}
	wrappedABI, err := abi.JSON(strings.NewReader(registry.WrappedNativeABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse wrapped native abi", err)
	}
	return &Lifecycle{
		book:          book,
		submit:        submit,
		chainID:       chainID,
		vault:         vault,
		settlement:    settlement,
		settlementABI: settlementABI,
		wrappedABI:    wrappedABI,
		pollInterval:  defaultPollInterval,
		now:           time.Now,
		sleep:         sleepContext,
		log:           log,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WrapNative deposits amount of the vault's native balance into the wrapped
// native token. Auction orders sell ERC-20 balances only, so a native input
// is wrapped first.
func (l *Lifecycle) WrapNative(ctx context.Context, wrapped common.Address, amount *big.Int) (string, error) {
	data, err := l.wrappedABI.Pack("deposit")
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode deposit call", err)
	}
	txHash, err := l.submit.Exec(ctx, roles.Call{
		To:        wrapped,
		Value:     amount,
		Data:      data,
		Operation: roles.OperationCall,
	})
	if err != nil {
		return txHash, err
	}
	l.log.Info().Str("tx", txHash).Str("amount", amount.String()).Msg("native input wrapped")
	return txHash, nil
}

// Place submits the order document and verifies the order book's answer by
// recomputing the UID from the fields the vault is actually committing to.
// A mismatch means the book priced or routed something other than what was
// sent; the order is left unsigned and therefore inert.
func (l *Lifecycle) Place(ctx context.Context, sub cowswap.OrderSubmission) (string, error) {
	params, err := ParamsFromSubmission(sub)
	if err != nil {
		return "", err
	}
	expected := UID(Digest(l.chainID, l.settlement, params), l.vault, sub.ValidTo)

	uid, err := l.book.CreateOrder(ctx, sub)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(uid, expected) {
		return "", clierr.New(clierr.CodeOrderIntegrity,
			fmt.Sprintf("order book uid %s does not match locally computed %s; order left unsigned", uid, expected))
	}
	l.log.Info().Str("uid", uid).Msg("order placed")
	return uid, nil
}

// Presign authorizes the order on-chain. After this call solvers may settle
// the order against the vault's balance.
func (l *Lifecycle) Presign(ctx context.Context, uid string) (string, error) {
	_, owner, _, err := DecodeUID(uid)
	if err != nil {
		return "", err
	}
	if owner != l.vault {
		return "", clierr.New(clierr.CodeOrderIntegrity,
			fmt.Sprintf("order %s is owned by %s, not the vault", uid, owner.Hex()))
	}
	rawUID := common.FromHex(uid)
	data, err := l.settlementABI.Pack("setPreSignature", rawUID, true)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode presignature call", err)
	}
	txHash, err := l.submit.Exec(ctx, roles.Call{
		To:        l.settlement,
		Value:     new(big.Int),
		Data:      data,
		Operation: roles.OperationCall,
	})
	if err != nil {
		return txHash, err
	}
	l.log.Info().Str("uid", uid).Str("tx", txHash).Msg("order presigned")
	return txHash, nil
}

// Await polls the order book until the order reaches a terminal state or the
// budget runs out. Transient status-read failures are tolerated; the order
// is on-chain authorized and polling errors must not abandon it early.
func (l *Lifecycle) Await(ctx context.Context, uid string, budget time.Duration) (string, error) {
	deadline := l.now().Add(budget)
	for {
		status, err := l.book.OrderStatus(ctx, uid)
		if err != nil {
			l.log.Debug().Err(err).Str("uid", uid).Msg("status poll failed, retrying")
		} else {
			switch status {
			case cowswap.StatusFulfilled:
				return StateFulfilled, nil
			case cowswap.StatusExpired:
				return StateExpired, nil
			case cowswap.StatusCancelled:
				return StateCancelled, nil
			case cowswap.StatusOpen, cowswap.StatusPresignaturePending:
				// Keep waiting.
			default:
				l.log.Debug().Str("status", status).Msg("unrecognized order status")
			}
		}
		if !l.now().Before(deadline) {
			return StateTimeout, nil
		}
		if err := l.sleep(ctx, l.pollInterval); err != nil {
			return StateTimeout, clierr.Wrap(clierr.CodeUnavailable, "order wait cancelled", err)
		}
	}
}
