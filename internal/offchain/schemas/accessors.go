package schemas

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/pkg/models"
)

const NamePath = "account/name"

var NameShape = offchain.Shape{{Name: "name", Kind: offchain.FieldString}}

func NewNameAccessor(w *offchain.Wrapper) *Schema[models.Name] {
	return NewSchema[models.Name](w, NamePath, NameShape)
}

func NewEncryptedNameAccessor(w *offchain.Wrapper) *EncryptedSchema[models.Name] {
	return NewEncryptedSchema[models.Name](w, NamePath, NameShape)
}

// AuthorizedSignerAccessor manages the records that let other keys sign data below
// an account's storage root.
type AuthorizedSignerAccessor struct {
	wrapper *offchain.Wrapper
}

func NewAuthorizedSignerAccessor(w *offchain.Wrapper) *AuthorizedSignerAccessor {
	return &AuthorizedSignerAccessor{wrapper: w}
}

func (a *AuthorizedSignerAccessor) schema(signer common.Address) *Schema[models.AuthorizedSigner] {
	return NewSchema[models.AuthorizedSigner](a.wrapper, offchain.AuthorizedSignerPath(signer), offchain.AuthorizedSignerShape)
}

// Write stores record for the signer it names. The wrapper must sign as the owner.
func (a *AuthorizedSignerAccessor) Write(ctx context.Context, record models.AuthorizedSigner) error {
	if !common.IsHexAddress(record.Address) {
		return invalidData(fmt.Errorf("authorized signer address %q is invalid", record.Address))
	}
	return a.schema(common.HexToAddress(record.Address)).Write(ctx, record)
}

func (a *AuthorizedSignerAccessor) Read(ctx context.Context, owner, signer common.Address) (models.AuthorizedSigner, error) {
	return a.schema(signer).Read(ctx, owner)
}
