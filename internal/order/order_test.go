package order

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MithrandirBalrog/Clawlett/internal/providers/cowswap"
)

var (
	settlement = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	vault      = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

func sampleParams() Params {
	return Params{
		SellToken:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		BuyToken:   common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Receiver:   vault,
		SellAmount: big.NewInt(99_000_000_000_000_000),
		BuyAmount:  big.NewInt(350_000_000),
		FeeAmount:  big.NewInt(1_000_000_000_000_000),
		ValidTo:    1_893_456_000,
		AppData:    crypto.Keccak256Hash([]byte(`{}`)),
	}
}

func TestDomainSeparatorVariesByChainAndContract(t *testing.T) {
	base := DomainSeparator(1, settlement)
	if base == (common.Hash{}) {
		t.Fatal("zero domain separator")
	}
	if DomainSeparator(100, settlement) == base {
		t.Fatal("chain id must change the domain separator")
	}
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if DomainSeparator(1, other) == base {
		t.Fatal("verifying contract must change the domain separator")
	}
}

func TestDigestCommitsToEveryField(t *testing.T) {
	base := Digest(1, settlement, sampleParams())

	mutations := map[string]func(*Params){
		"sellToken":  func(p *Params) { p.SellToken = vault },
		"buyToken":   func(p *Params) { p.BuyToken = vault },
		"receiver":   func(p *Params) { p.Receiver = settlement },
		"sellAmount": func(p *Params) { p.SellAmount = big.NewInt(1) },
		"buyAmount":  func(p *Params) { p.BuyAmount = big.NewInt(1) },
		"feeAmount":  func(p *Params) { p.FeeAmount = big.NewInt(1) },
		"validTo":    func(p *Params) { p.ValidTo = 1 },
		"appData":    func(p *Params) { p.AppData = common.Hash{} },
	}
	for name, mutate := range mutations {
		p := sampleParams()
		mutate(&p)
		if Digest(1, settlement, p) == base {
			t.Fatalf("mutating %s did not change the digest", name)
		}
	}
}

func TestUIDRoundTrip(t *testing.T) {
	digest := Digest(1, settlement, sampleParams())
	uid := UID(digest, vault, 1_893_456_000)
	if len(uid) != 2+2*UIDLength {
		t.Fatalf("uid length = %d", len(uid))
	}

	gotDigest, gotOwner, gotValidTo, err := DecodeUID(uid)
	if err != nil {
		t.Fatalf("DecodeUID failed: %v", err)
	}
	if gotDigest != digest || gotOwner != vault || gotValidTo != 1_893_456_000 {
		t.Fatalf("round trip mismatch: %s %s %d", gotDigest, gotOwner.Hex(), gotValidTo)
	}

	if _, _, _, err := DecodeUID("0x1234"); err == nil {
		t.Fatal("expected malformed uid error")
	}
}

func TestParamsFromSubmissionMatchesDirectParams(t *testing.T) {
	p := sampleParams()
	sub := cowswap.NewPresignSubmission(
		p.SellToken.Hex(), p.BuyToken.Hex(), p.Receiver.Hex(), vault.Hex(),
		p.AppData.Hex(), p.SellAmount, p.BuyAmount, p.FeeAmount, p.ValidTo, nil,
	)
	rebuilt, err := ParamsFromSubmission(sub)
	if err != nil {
		t.Fatalf("ParamsFromSubmission failed: %v", err)
	}
	if Digest(1, settlement, rebuilt) != Digest(1, settlement, p) {
		t.Fatal("digest from wire document diverges from direct params")
	}
}

func TestAppDataHashIsStable(t *testing.T) {
	hash1, doc1, err := AppData("clawlett")
	if err != nil {
		t.Fatalf("AppData failed: %v", err)
	}
	hash2, doc2, err := AppData("clawlett")
	if err != nil {
		t.Fatalf("AppData failed: %v", err)
	}
	if hash1 != hash2 || doc1 != doc2 {
		t.Fatal("app data must serialize byte-stable")
	}
	if crypto.Keccak256Hash([]byte(doc1)) != hash1 {
		t.Fatal("hash must cover the exact document bytes")
	}
	if !strings.Contains(doc1, `"appCode":"clawlett"`) {
		t.Fatalf("unexpected document: %s", doc1)
	}
}
