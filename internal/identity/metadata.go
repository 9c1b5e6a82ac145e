package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/models"
)

const maxClaims = 64

var (
	ErrMetadataInvalid = errors.New("identity: metadata document is invalid")
	ErrClaimSignature  = errors.New("identity: claim signature does not match account")
)

// ParseMetadata decodes a metadata document. The envelope and every StorageRoot
// claim are decoded strictly (no unknown fields, no trailing data); claims of other
// types only need a type and are kept in OtherClaims.
func ParseMetadata(raw []byte) (models.MetadataDocument, error) {
	var wire struct {
		Address string            `json:"address"`
		Claims  []json.RawMessage `json:"claims"`
	}
	if err := decodeStrict(raw, &wire); err != nil {
		return models.MetadataDocument{}, fmt.Errorf("%w: %v", ErrMetadataInvalid, err)
	}
	if !common.IsHexAddress(wire.Address) {
		return models.MetadataDocument{}, fmt.Errorf("%w: address is invalid", ErrMetadataInvalid)
	}
	if len(wire.Claims) > maxClaims {
		return models.MetadataDocument{}, fmt.Errorf("%w: too many claims", ErrMetadataInvalid)
	}

	doc := models.MetadataDocument{Address: wire.Address, Claims: make([]models.Claim, 0, len(wire.Claims))}
	for i, rawClaim := range wire.Claims {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(rawClaim, &head); err != nil {
			return models.MetadataDocument{}, fmt.Errorf("%w: claim %d: %v", ErrMetadataInvalid, i, err)
		}
		if strings.TrimSpace(head.Type) == "" {
			return models.MetadataDocument{}, fmt.Errorf("%w: claim %d has no type", ErrMetadataInvalid, i)
		}
		if head.Type != models.ClaimTypeStorageRoot {
			doc.OtherClaims = append(doc.OtherClaims, append(json.RawMessage(nil), rawClaim...))
			continue
		}
		var c models.Claim
		if err := decodeStrict(rawClaim, &c); err != nil {
			return models.MetadataDocument{}, fmt.Errorf("%w: claim %d: %v", ErrMetadataInvalid, i, err)
		}
		if !common.IsHexAddress(c.Address) {
			return models.MetadataDocument{}, fmt.Errorf("%w: claim %d address is invalid", ErrMetadataInvalid, i)
		}
		if !isHTTPURL(c.StorageRoot) {
			return models.MetadataDocument{}, fmt.Errorf("%w: claim %d storage root is not an http url", ErrMetadataInvalid, i)
		}
		doc.Claims = append(doc.Claims, c)
	}
	return doc, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("unexpected trailing json tokens")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

// ClaimPayload is the canonical byte form a claim signature covers.
func ClaimPayload(c models.Claim) ([]byte, error) {
	if !common.IsHexAddress(c.Address) {
		return nil, fmt.Errorf("%w: claim address is invalid", ErrMetadataInvalid)
	}
	v := map[string]any{
		"type":      c.Type,
		"address":   common.HexToAddress(c.Address).Hex(),
		"timestamp": c.Timestamp,
	}
	if c.StorageRoot != "" {
		v["storageRoot"] = c.StorageRoot
	}
	return json.Marshal(v)
}

// VerifyClaim checks that the claim belongs to owner and carries owner's signature.
func VerifyClaim(owner common.Address, c models.Claim) error {
	if !common.IsHexAddress(c.Address) || common.HexToAddress(c.Address) != owner {
		return fmt.Errorf("%w: claim is for %s", ErrClaimSignature, c.Address)
	}
	sig, err := hexutil.Decode(c.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrClaimSignature, err)
	}
	payload, err := ClaimPayload(c)
	if err != nil {
		return err
	}
	signer, err := crypto.RecoverPersonal(payload, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClaimSignature, err)
	}
	if signer != owner {
		return fmt.Errorf("%w: signed by %s", ErrClaimSignature, signer.Hex())
	}
	return nil
}

// VerifyDocument checks the document is about owner and every StorageRoot claim is
// signed by owner. Other claim types are not verified here.
func VerifyDocument(owner common.Address, doc models.MetadataDocument) error {
	if common.HexToAddress(doc.Address) != owner {
		return fmt.Errorf("%w: document is for %s", ErrClaimSignature, doc.Address)
	}
	for _, c := range doc.Claims {
		if c.Type != models.ClaimTypeStorageRoot {
			continue
		}
		if err := VerifyClaim(owner, c); err != nil {
			return err
		}
	}
	return nil
}

// StorageRoots lists the distinct storage roots claimed in doc, in document order.
func StorageRoots(doc models.MetadataDocument) []string {
	out := make([]string, 0, len(doc.Claims))
	seen := make(map[string]struct{}, len(doc.Claims))
	for _, c := range doc.Claims {
		if c.Type != models.ClaimTypeStorageRoot {
			continue
		}
		root := strings.TrimSpace(c.StorageRoot)
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		out = append(out, root)
	}
	return out
}

// BuildMetadata produces a document with one signed StorageRoot claim per root.
func BuildMetadata(ctx context.Context, signer wallet.Wallet, owner common.Address, roots []string, now time.Time) (models.MetadataDocument, error) {
	doc := models.MetadataDocument{Address: owner.Hex(), Claims: make([]models.Claim, 0, len(roots))}
	for _, root := range roots {
		if !isHTTPURL(root) {
			return models.MetadataDocument{}, fmt.Errorf("%w: storage root %q is not an http url", ErrMetadataInvalid, root)
		}
		claim := models.Claim{
			Type:        models.ClaimTypeStorageRoot,
			Address:     owner.Hex(),
			StorageRoot: root,
			Timestamp:   now.Unix(),
		}
		payload, err := ClaimPayload(claim)
		if err != nil {
			return models.MetadataDocument{}, err
		}
		sig, err := signer.SignMessage(ctx, owner, payload)
		if err != nil {
			return models.MetadataDocument{}, fmt.Errorf("sign storage root claim: %w", err)
		}
		claim.Signature = hexutil.Encode(sig)
		doc.Claims = append(doc.Claims, claim)
	}
	return doc, nil
}
