package parse

import (
	"regexp"
	"strings"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
)

// SwapPhrase is a parsed swap request. Tokens stay exactly as typed; symbol
// canonicalization and address resolution happen later against the registry.
type SwapPhrase struct {
	Amount    string
	FromToken string
	ToToken   string
}

// swapPattern accepts "swap 0.1 ETH to USDC", "0.1 eth for usdc", and
// contract addresses in either token position.
var swapPattern = regexp.MustCompile(`(?i)^(?:swap\s+)?(\d+(?:\.\d+)?)\s+(\$?[a-z0-9]+)\s+(?:to|for)\s+(\$?[a-z0-9]+)$`)

// SwapCommand parses a natural-language swap phrase.
func SwapCommand(input string) (SwapPhrase, error) {
	clean := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	matches := swapPattern.FindStringSubmatch(clean)
	if matches == nil {
		return SwapPhrase{}, clierr.New(clierr.CodeUsage,
			"invalid swap phrase; expected 'swap <amount> <token> to <token>', e.g. 'swap 0.1 ETH to USDC'")
	}
	return SwapPhrase{
		Amount:    matches[1],
		FromToken: matches[2],
		ToToken:   matches[3],
	}, nil
}
