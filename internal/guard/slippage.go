package guard

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
)

const bpsDenominator = 10_000

// MaxSlippageFraction bounds the tolerated quote-to-settlement gap. Anything
// above half the output is almost certainly a typo, not a preference.
const MaxSlippageFraction = 0.5

// FractionToBps converts a slippage fraction into basis points, rounded to
// the nearest integer. Fractions outside [0, 0.5] are rejected.
func FractionToBps(fraction float64) (int64, error) {
	if math.IsNaN(fraction) || fraction < 0 || fraction > MaxSlippageFraction {
		return 0, clierr.New(clierr.CodeInvalidSlippage,
			fmt.Sprintf("slippage %v outside [0, %v]", fraction, MaxSlippageFraction))
	}
	return int64(math.Round(fraction * bpsDenominator)), nil
}

// MinOut computes amountOut x (10000 - bps) / 10000 with integer truncation.
// Token amounts never touch floating point; rounding drift on-chain is real
// money.
func MinOut(amountOut *big.Int, bps int64) *big.Int {
	keep := big.NewInt(bpsDenominator - bps)
	out := new(big.Int).Mul(amountOut, keep)
	return out.Div(out, big.NewInt(bpsDenominator))
}

// Protect validates a direct-venue quote against the safety invariants and
// returns the minimum acceptable output. The checks run before any signing
// key is consulted:
//   - a non-native input must never require attached native value,
//   - a native input must never require more value than the user authorized,
//   - the recipient must be the vault; funds return nowhere else.
func Protect(q model.RouteQuote, amountIn *big.Int, inputIsNative bool, vault string, bps int64) (*big.Int, error) {
	ethValue := q.EthValue
	if ethValue == nil {
		ethValue = new(big.Int)
	}
	if !inputIsNative && ethValue.Sign() != 0 {
		return nil, clierr.New(clierr.CodeUnsafeQuote,
			"quote attaches native value to a token-input swap")
	}
	if inputIsNative && ethValue.Cmp(amountIn) > 0 {
		return nil, clierr.New(clierr.CodeUnsafeQuote,
			fmt.Sprintf("quote requests %s native value but only %s was authorized", ethValue, amountIn))
	}
	if q.Recipient != "" && !strings.EqualFold(q.Recipient, vault) {
		return nil, clierr.New(clierr.CodeUnsafeQuote,
			fmt.Sprintf("quote routes output to %s instead of the vault", q.Recipient))
	}
	if q.AmountOut == nil || q.AmountOut.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeMalformedQuote, "quote missing a positive output amount")
	}

	if q.MinAmountOut != nil && q.MinAmountOut.Sign() > 0 {
		return new(big.Int).Set(q.MinAmountOut), nil
	}
	return MinOut(q.AmountOut, bps), nil
}

// AuctionMinBuy computes the protected buy amount for a batch-auction order.
// The tolerance blends a fee-proportional term (1.5x the auction fee) with a
// size-proportional term (0.5% of the sell amount), converted into buy-token
// units. Small orders absorb the auction's fee volatility; large orders stay
// tight.
func AuctionMinBuy(sellAmount, buyAmount, feeAmount *big.Int) *big.Int {
	if buyAmount == nil || buyAmount.Sign() <= 0 {
		return new(big.Int)
	}

	var slipBuy *big.Int
	if sellAmount == nil || sellAmount.Sign() == 0 {
		// Defensive fallback: a zero-amount order keeps the flat 0.5% term.
		slipBuy = new(big.Int).Mul(buyAmount, big.NewInt(5))
		slipBuy.Div(slipBuy, big.NewInt(1000))
	} else {
		fee := feeAmount
		if fee == nil {
			fee = new(big.Int)
		}
		// totalSlippage in sell units: 1.5*fee + 0.005*sellAmount.
		feeTerm := new(big.Int).Mul(fee, big.NewInt(3))
		feeTerm.Div(feeTerm, big.NewInt(2))
		sizeTerm := new(big.Int).Mul(sellAmount, big.NewInt(5))
		sizeTerm.Div(sizeTerm, big.NewInt(1000))
		totalSell := feeTerm.Add(feeTerm, sizeTerm)

		slipBuy = new(big.Int).Mul(totalSell, buyAmount)
		slipBuy.Div(slipBuy, sellAmount)
	}

	minBuy := new(big.Int).Sub(buyAmount, slipBuy)
	if minBuy.Sign() < 0 {
		return new(big.Int)
	}
	return minBuy
}
