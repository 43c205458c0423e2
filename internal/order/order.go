package order

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/providers/cowswap"
)

// EIP-712 constants for the batch-auction settlement domain.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	orderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(address sellToken,address buyToken,address receiver,uint256 sellAmount,uint256 buyAmount,uint32 validTo,bytes32 appData,uint256 feeAmount,string kind,bool partiallyFillable,string sellTokenBalance,string buyTokenBalance)"))
	domainNameHash    = crypto.Keccak256Hash([]byte("Gnosis Protocol"))
	domainVersionHash = crypto.Keccak256Hash([]byte("v2"))
	kindSellHash      = crypto.Keccak256Hash([]byte(cowswap.KindSell))
	balanceERC20Hash  = crypto.Keccak256Hash([]byte(cowswap.BalanceERC20))
)

// UIDLength is digest (32) + owner (20) + validTo (4).
const UIDLength = 56

// Params are the digest-relevant order fields. Kind and the balance sources
// are fixed: the agent only places fill-or-kill sell orders against ERC-20
// balances.
type Params struct {
	SellToken  common.Address
	BuyToken   common.Address
	Receiver   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	ValidTo    uint32
	AppData    common.Hash
}

// DomainSeparator computes the settlement contract's EIP-712 domain hash.
func DomainSeparator(chainID int64, settlement common.Address) common.Hash {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, domainTypeHash.Bytes()...)
	buf = append(buf, domainNameHash.Bytes()...)
	buf = append(buf, domainVersionHash.Bytes()...)
	buf = append(buf, uintWord(big.NewInt(chainID))...)
	buf = append(buf, addressWord(settlement)...)
	return crypto.Keccak256Hash(buf)
}

// Digest computes the EIP-712 signing digest of an order.
func Digest(chainID int64, settlement common.Address, p Params) common.Hash {
	buf := make([]byte, 0, 13*32)
	buf = append(buf, orderTypeHash.Bytes()...)
	buf = append(buf, addressWord(p.SellToken)...)
	buf = append(buf, addressWord(p.BuyToken)...)
	buf = append(buf, addressWord(p.Receiver)...)
	buf = append(buf, uintWord(p.SellAmount)...)
	buf = append(buf, uintWord(p.BuyAmount)...)
	buf = append(buf, uintWord(big.NewInt(int64(p.ValidTo)))...)
	buf = append(buf, p.AppData.Bytes()...)
	buf = append(buf, uintWord(p.FeeAmount)...)
	buf = append(buf, kindSellHash.Bytes()...)
	buf = append(buf, boolWord(false)...)
	buf = append(buf, balanceERC20Hash.Bytes()...)
	buf = append(buf, balanceERC20Hash.Bytes()...)
	structHash := crypto.Keccak256(buf)

	separator := DomainSeparator(chainID, settlement)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), structHash)
}

// UID concatenates digest, owner and big-endian validTo into the order
// identifier used by the order book and the presignature call.
func UID(digest common.Hash, owner common.Address, validTo uint32) string {
	buf := make([]byte, 0, UIDLength)
	buf = append(buf, digest.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	validToBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(validToBytes, validTo)
	buf = append(buf, validToBytes...)
	return "0x" + hex.EncodeToString(buf)
}

// DecodeUID splits an order identifier back into its parts.
func DecodeUID(uid string) (common.Hash, common.Address, uint32, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(uid), "0x")
	buf, err := hex.DecodeString(clean)
	if err != nil || len(buf) != UIDLength {
		return common.Hash{}, common.Address{}, 0,
			clierr.New(clierr.CodeOrderIntegrity, fmt.Sprintf("malformed order uid %q", uid))
	}
	return common.BytesToHash(buf[:32]),
		common.BytesToAddress(buf[32:52]),
		binary.BigEndian.Uint32(buf[52:56]),
		nil
}

// ParamsFromSubmission rebuilds digest parameters from the wire document.
// Used to recompute the UID locally before trusting the order book's answer.
func ParamsFromSubmission(sub cowswap.OrderSubmission) (Params, error) {
	sell, ok := new(big.Int).SetString(sub.SellAmount, 10)
	if !ok {
		return Params{}, clierr.New(clierr.CodeInternal, "invalid sell amount in order document")
	}
	buy, ok := new(big.Int).SetString(sub.BuyAmount, 10)
	if !ok {
		return Params{}, clierr.New(clierr.CodeInternal, "invalid buy amount in order document")
	}
	fee, ok := new(big.Int).SetString(sub.FeeAmount, 10)
	if !ok {
		return Params{}, clierr.New(clierr.CodeInternal, "invalid fee amount in order document")
	}
	return Params{
		SellToken:  common.HexToAddress(sub.SellToken),
		BuyToken:   common.HexToAddress(sub.BuyToken),
		Receiver:   common.HexToAddress(sub.Receiver),
		SellAmount: sell,
		BuyAmount:  buy,
		FeeAmount:  fee,
		ValidTo:    sub.ValidTo,
		AppData:    common.HexToHash(sub.AppData),
	}, nil
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func uintWord(n *big.Int) []byte {
	if n == nil {
		n = new(big.Int)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func boolWord(v bool) []byte {
	word := make([]byte, 32)
	if v {
		word[31] = 1
	}
	return word
}
