package offchain

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "CIP8 Claim"
	DomainVersion = "1.0.0"

	primaryType = "ClaimWithPath"
	claimType   = "Claim"
)

// TypedDataBuilder rebuilds the signed typed data for a fetched blob.
type TypedDataBuilder func(data []byte) (apitypes.TypedData, error)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

func domain(chainID *big.Int) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:    DomainName,
		Version: DomainVersion,
		ChainId: (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
	}
}

// BuildTypedData covers raw bytes through their keccak256 digest.
func BuildTypedData(chainID *big.Int, dataPath string, data []byte) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType: {
				{Name: "path", Type: "string"},
				{Name: "hash", Type: "string"},
			},
		},
		PrimaryType: primaryType,
		Domain:      domain(chainID),
		Message: apitypes.TypedDataMessage{
			"path": dataPath,
			"hash": hex.EncodeToString(ethcrypto.Keccak256(data)),
		},
	}
}

// BuildTypedDataForPayload covers a structured payload field by field.
func BuildTypedDataForPayload(chainID *big.Int, dataPath string, shape Shape, payload map[string]any) (apitypes.TypedData, error) {
	values, err := shape.messageValues(payload)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	fields := make([]apitypes.Type, 0, len(shape))
	for _, f := range shape {
		fields = append(fields, apitypes.Type{Name: f.Name, Type: f.Kind.SolidityType()})
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			claimType:      fields,
			primaryType: {
				{Name: "path", Type: "string"},
				{Name: "payload", Type: claimType},
			},
		},
		PrimaryType: primaryType,
		Domain:      domain(chainID),
		Message: apitypes.TypedDataMessage{
			"path":    dataPath,
			"payload": values,
		},
	}, nil
}

// HashTypedData returns the EIP-712 digest that signatures cover.
func HashTypedData(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}

func RawBuilder(chainID *big.Int, dataPath string) TypedDataBuilder {
	return func(data []byte) (apitypes.TypedData, error) {
		return BuildTypedData(chainID, dataPath, data), nil
	}
}

// PayloadBuilder decodes the blob as a JSON object of the given shape. Decoding
// failures wrap ErrInvalidPayload.
func PayloadBuilder(chainID *big.Int, dataPath string, shape Shape) TypedDataBuilder {
	return func(data []byte) (apitypes.TypedData, error) {
		obj, err := DecodePayload(data)
		if err != nil {
			return apitypes.TypedData{}, err
		}
		return BuildTypedDataForPayload(chainID, dataPath, shape, obj)
	}
}
