package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/httpx"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
)

// Client fetches direct-venue quotes carrying ready-to-submit router
// calldata. Every call returns a fresh price; quotes are never cached or
// replayed across attempts.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type QuoteRequest struct {
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	Recipient   string
	SlippageBps int64
	ChainID     int64
}

type quoteResponse struct {
	Error        string   `json:"error,omitempty"`
	AmountOut    string   `json:"amountOut"`
	MinAmountOut string   `json:"minAmountOut,omitempty"`
	To           string   `json:"to"`
	Calldata     string   `json:"calldata"`
	Value        string   `json:"value,omitempty"`
	Route        []string `json:"route"`
	Recipient    string   `json:"recipient,omitempty"`
	IsMultiHop   bool     `json:"isMultiHop"`
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (model.RouteQuote, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return model.RouteQuote{}, clierr.New(clierr.CodeUsage, "quote amount must be positive")
	}

	payload := map[string]any{
		"tokenIn":   req.TokenIn,
		"tokenOut":  req.TokenOut,
		"amountIn":  req.AmountIn.String(),
		"recipient": req.Recipient,
		"slippage":  formatFraction(req.SlippageBps),
		"chainId":   req.ChainID,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return model.RouteQuote{}, clierr.Wrap(clierr.CodeInternal, "marshal quote request", err)
	}

	var resp quoteResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/quote", buf, &resp); err != nil {
		if clierr.Is(err, clierr.CodeRateLimited) || clierr.Is(err, clierr.CodeAuth) {
			return model.RouteQuote{}, err
		}
		return model.RouteQuote{}, clierr.Wrap(clierr.CodeQuoteUnavailable, "fetch swap quote", err)
	}
	if strings.TrimSpace(resp.Error) != "" {
		return model.RouteQuote{}, clierr.New(clierr.CodeQuoteUnavailable,
			fmt.Sprintf("quote service error: %s", resp.Error))
	}

	amountOut, err := parseAmount(resp.AmountOut, "amountOut")
	if err != nil {
		return model.RouteQuote{}, err
	}
	var minOut *big.Int
	if strings.TrimSpace(resp.MinAmountOut) != "" {
		minOut, err = parseAmount(resp.MinAmountOut, "minAmountOut")
		if err != nil {
			return model.RouteQuote{}, err
		}
	}
	ethValue := new(big.Int)
	if strings.TrimSpace(resp.Value) != "" {
		ethValue, err = parseAmount(resp.Value, "value")
		if err != nil {
			return model.RouteQuote{}, err
		}
	}

	calldata, err := decodeCalldata(resp.Calldata)
	if err != nil {
		return model.RouteQuote{}, err
	}
	if !common.IsHexAddress(resp.To) {
		return model.RouteQuote{}, clierr.New(clierr.CodeMalformedQuote, "quote missing a valid target address")
	}

	return model.RouteQuote{
		AmountIn:     new(big.Int).Set(req.AmountIn),
		AmountOut:    amountOut,
		MinAmountOut: minOut,
		Route:        resp.Route,
		Recipient:    resp.Recipient,
		Target:       common.HexToAddress(resp.To).Hex(),
		Calldata:     calldata,
		EthValue:     ethValue,
		IsMultiHop:   resp.IsMultiHop,
	}, nil
}

func parseAmount(v, field string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || n.Sign() < 0 {
		return nil, clierr.New(clierr.CodeMalformedQuote,
			fmt.Sprintf("quote field %s is not a non-negative integer: %q", field, v))
	}
	return n, nil
}

func decodeCalldata(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, clierr.New(clierr.CodeMalformedQuote, "quote missing execution calldata")
	}
	if !strings.HasPrefix(clean, "0x") || len(clean) < 10 || len(clean)%2 != 0 {
		return nil, clierr.New(clierr.CodeMalformedQuote, "quote calldata is not well-formed hex")
	}
	data := common.FromHex(clean)
	if len(data)*2 != len(clean)-2 {
		return nil, clierr.New(clierr.CodeMalformedQuote, "quote calldata is not well-formed hex")
	}
	return data, nil
}

func formatFraction(bps int64) string {
	return strconv.FormatFloat(float64(bps)/10_000, 'f', 6, 64)
}
