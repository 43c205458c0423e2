package order

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
)

// appDataDocument is the metadata document registered with the order book.
// The hash of its exact serialized bytes goes into the order's appData field,
// so the serialization must stay byte-stable.
type appDataDocument struct {
	AppCode  string         `json:"appCode"`
	Metadata map[string]any `json:"metadata"`
	Version  string         `json:"version"`
}

// AppData builds the metadata document for appCode and returns its keccak
// hash alongside the exact bytes that hash to it.
func AppData(appCode string) (common.Hash, string, error) {
	doc := appDataDocument{
		AppCode:  appCode,
		Metadata: map[string]any{},
		Version:  "1.1.0",
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return common.Hash{}, "", clierr.Wrap(clierr.CodeInternal, "marshal app data", err)
	}
	return crypto.Keccak256Hash(buf), string(buf), nil
}
