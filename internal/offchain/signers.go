package offchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/models"
)

const authorizedSignersDir = "account/authorizedSigners"

// AuthorizedSignerShape is the signed payload shape of an authorized signer record.
var AuthorizedSignerShape = Shape{
	{Name: "address", Kind: FieldString},
	{Name: "proofOfPossession", Kind: FieldString},
	{Name: "filteredDataPaths", Kind: FieldString},
}

// AuthorizedSignerPath is where owner stores the record authorizing signer.
func AuthorizedSignerPath(signer common.Address) string {
	return authorizedSignersDir + "/" + signer.Hex()
}

// ProofOfPossession is signer's personal signature over the owner address bytes.
func ProofOfPossession(ctx context.Context, w wallet.Wallet, signer, owner common.Address) (string, error) {
	sig, err := w.SignMessage(ctx, signer, owner.Bytes())
	if err != nil {
		return "", fmt.Errorf("proof of possession: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// NewAuthorizedSigner builds the record letting signer write paths matching
// filteredDataPaths below owner's root. signer's key must be in w.
func NewAuthorizedSigner(ctx context.Context, w wallet.Wallet, signer, owner common.Address, filteredDataPaths string) (models.AuthorizedSigner, error) {
	if _, err := compilePathFilter(filteredDataPaths); err != nil {
		return models.AuthorizedSigner{}, err
	}
	pop, err := ProofOfPossession(ctx, w, signer, owner)
	if err != nil {
		return models.AuthorizedSigner{}, err
	}
	return models.AuthorizedSigner{
		Address:           signer.Hex(),
		ProofOfPossession: pop,
		FilteredDataPaths: filteredDataPaths,
	}, nil
}

// compilePathFilter anchors the filter so it must match the whole data path.
func compilePathFilter(filter string) (*regexp.Regexp, error) {
	if filter == "" {
		return nil, errors.New("empty data path filter")
	}
	re, err := regexp.Compile(`^(?:` + filter + `)$`)
	if err != nil {
		return nil, fmt.Errorf("data path filter: %w", err)
	}
	return re, nil
}

func (w *Wrapper) checkAuthorizedSigner(ctx context.Context, owner common.Address, root string, signer common.Address, dataPath string) error {
	recordPath := AuthorizedSignerPath(signer)
	raw, err := w.readFromRoot(ctx, owner, root, recordPath, PayloadBuilder(w.chainID, recordPath, AuthorizedSignerShape), false)
	if err != nil {
		if kind, _ := KindOf(err); kind == KindFetch {
			return err
		}
		return newError(KindInvalidSignature, owner, dataPath, fmt.Errorf("signer %s is not authorized: %w", signer.Hex(), err))
	}
	var record models.AuthorizedSigner
	if err := json.Unmarshal(raw, &record); err != nil {
		return newError(KindInvalidSignature, owner, dataPath, fmt.Errorf("authorized signer record: %w", err))
	}
	if err := verifyAuthorizedSigner(record, owner, signer, dataPath); err != nil {
		return newError(KindInvalidSignature, owner, dataPath, err)
	}
	return nil
}

func verifyAuthorizedSigner(record models.AuthorizedSigner, owner, signer common.Address, dataPath string) error {
	if !common.IsHexAddress(record.Address) || common.HexToAddress(record.Address) != signer {
		return fmt.Errorf("authorized signer record names %q, not %s", record.Address, signer.Hex())
	}
	pop, err := hexutil.Decode(strings.TrimSpace(record.ProofOfPossession))
	if err != nil {
		return fmt.Errorf("proof of possession: %w", err)
	}
	holder, err := crypto.RecoverPersonal(owner.Bytes(), pop)
	if err != nil {
		return fmt.Errorf("proof of possession: %w", err)
	}
	if holder != signer {
		return fmt.Errorf("proof of possession signed by %s", holder.Hex())
	}
	re, err := compilePathFilter(record.FilteredDataPaths)
	if err != nil {
		return err
	}
	if !re.MatchString(dataPath) {
		return fmt.Errorf("signer %s may not write %s", signer.Hex(), dataPath)
	}
	return nil
}
