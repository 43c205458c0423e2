package cowswap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/httpx"
)

// Order side and balance source constants as the order book spells them.
const (
	KindSell       = "sell"
	BalanceERC20   = "erc20"
	SchemePresign  = "presign"
	emptySignature = "0x"
)

// Order statuses returned by GET /orders/{uid}.
const (
	StatusPresignaturePending = "presignaturePending"
	StatusOpen                = "open"
	StatusFulfilled           = "fulfilled"
	StatusExpired             = "expired"
	StatusCancelled           = "cancelled"
)

// Client talks to a batch-auction order book API. Quote calls are priced and
// therefore never retried; callers construct the shared HTTP client with zero
// retries.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type QuoteRequest struct {
	SellToken           string
	BuyToken            string
	From                string
	Receiver            string
	SellAmountBeforeFee *big.Int
	AppData             string
}

// Quote is the priced half of an order: the solver's current fill terms for
// the requested sell amount.
type Quote struct {
	SellToken  string
	BuyToken   string
	Receiver   string
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	ValidTo    uint32
	AppData    string
	QuoteID    *int64
}

type quoteResponse struct {
	Quote struct {
		SellToken  string `json:"sellToken"`
		BuyToken   string `json:"buyToken"`
		Receiver   string `json:"receiver"`
		SellAmount string `json:"sellAmount"`
		BuyAmount  string `json:"buyAmount"`
		FeeAmount  string `json:"feeAmount"`
		ValidTo    uint32 `json:"validTo"`
		AppData    string `json:"appData"`
	} `json:"quote"`
	ID *int64 `json:"id"`
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.SellAmountBeforeFee == nil || req.SellAmountBeforeFee.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeUsage, "sell amount must be positive")
	}

	payload := map[string]any{
		"sellToken":           req.SellToken,
		"buyToken":            req.BuyToken,
		"from":                req.From,
		"receiver":            req.Receiver,
		"sellAmountBeforeFee": req.SellAmountBeforeFee.String(),
		"kind":                KindSell,
		"signingScheme":       SchemePresign,
		"sellTokenBalance":    BalanceERC20,
		"buyTokenBalance":     BalanceERC20,
	}
	if req.AppData != "" {
		payload["appData"] = req.AppData
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Quote{}, clierr.Wrap(clierr.CodeInternal, "marshal quote request", err)
	}

	var resp quoteResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/quote", buf, &resp); err != nil {
		if clierr.Is(err, clierr.CodeRateLimited) || clierr.Is(err, clierr.CodeAuth) {
			return Quote{}, err
		}
		return Quote{}, clierr.Wrap(clierr.CodeQuoteUnavailable, "fetch auction quote", err)
	}

	sell, err := parseWireAmount(resp.Quote.SellAmount, "sellAmount")
	if err != nil {
		return Quote{}, err
	}
	buy, err := parseWireAmount(resp.Quote.BuyAmount, "buyAmount")
	if err != nil {
		return Quote{}, err
	}
	fee, err := parseWireAmount(resp.Quote.FeeAmount, "feeAmount")
	if err != nil {
		return Quote{}, err
	}
	if buy.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeMalformedQuote, "auction quote has no positive buy amount")
	}
	if resp.Quote.ValidTo == 0 {
		return Quote{}, clierr.New(clierr.CodeMalformedQuote, "auction quote missing expiry")
	}

	return Quote{
		SellToken:  resp.Quote.SellToken,
		BuyToken:   resp.Quote.BuyToken,
		Receiver:   resp.Quote.Receiver,
		SellAmount: sell,
		BuyAmount:  buy,
		FeeAmount:  fee,
		ValidTo:    resp.Quote.ValidTo,
		AppData:    resp.Quote.AppData,
		QuoteID:    resp.ID,
	}, nil
}

// OrderSubmission is the signed-intent document posted to the order book.
// Presign orders carry an empty signature; authorization happens on-chain.
type OrderSubmission struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
	QuoteID           *int64 `json:"quoteId,omitempty"`
}

// NewPresignSubmission fills in the invariant presign fields.
func NewPresignSubmission(sellToken, buyToken, receiver, from, appData string,
	sellAmount, buyAmount, feeAmount *big.Int, validTo uint32, quoteID *int64) OrderSubmission {
	return OrderSubmission{
		SellToken:         sellToken,
		BuyToken:          buyToken,
		Receiver:          receiver,
		SellAmount:        sellAmount.String(),
		BuyAmount:         buyAmount.String(),
		ValidTo:           validTo,
		AppData:           appData,
		FeeAmount:         feeAmount.String(),
		Kind:              KindSell,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
		SigningScheme:     SchemePresign,
		Signature:         emptySignature,
		From:              from,
		QuoteID:           quoteID,
	}
}

// CreateOrder posts the order document and returns the order UID assigned by
// the order book.
func (c *Client) CreateOrder(ctx context.Context, sub OrderSubmission) (string, error) {
	buf, err := json.Marshal(sub)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "marshal order", err)
	}

	var uid string
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/orders", buf, &uid); err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "submit order", err)
	}
	if !strings.HasPrefix(uid, "0x") || len(uid) != 2+2*56 {
		return "", clierr.New(clierr.CodeOrderIntegrity,
			fmt.Sprintf("order book returned a malformed order uid: %q", uid))
	}
	return uid, nil
}

type orderResponse struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// OrderStatus fetches the current lifecycle state of an order.
func (c *Client) OrderStatus(ctx context.Context, uid string) (string, error) {
	var resp orderResponse
	url := c.baseURL + "/orders/" + uid
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, url, nil, &resp); err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch order status", err)
	}
	if resp.Status == "" {
		return "", clierr.New(clierr.CodeUnavailable, "order book returned no status")
	}
	return resp.Status, nil
}

// RegisterAppData uploads the full app-data document under its hash so
// explorers can show swap metadata. Best effort; orders settle without it.
func (c *Client) RegisterAppData(ctx context.Context, hash, fullAppData string) error {
	buf, err := json.Marshal(map[string]string{"fullAppData": fullAppData})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "marshal app data", err)
	}
	url := c.baseURL + "/app_data/" + hash
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPut, url, buf, nil); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "register app data", err)
	}
	return nil
}

func parseWireAmount(v, field string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, clierr.New(clierr.CodeMalformedQuote,
			fmt.Sprintf("auction quote field %s is not a non-negative integer: %q", field, v))
	}
	return n, nil
}
