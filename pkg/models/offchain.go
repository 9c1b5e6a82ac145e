package models

import "encoding/json"

// ClaimTypeStorageRoot marks a metadata claim that points at the storage root of an account.
const ClaimTypeStorageRoot = "StorageRoot"

type Claim struct {
	Type        string `json:"type"`
	Address     string `json:"address"`
	StorageRoot string `json:"storageRoot,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
}

type MetadataDocument struct {
	Address string  `json:"address"`
	Claims  []Claim `json:"claims"`
	// OtherClaims holds claims of types this module does not interpret, as received.
	// They are carried through unverified and serialized after Claims.
	OtherClaims []json.RawMessage `json:"-"`
}

func (d MetadataDocument) MarshalJSON() ([]byte, error) {
	claims := make([]any, 0, len(d.Claims)+len(d.OtherClaims))
	for _, c := range d.Claims {
		claims = append(claims, c)
	}
	for _, c := range d.OtherClaims {
		claims = append(claims, c)
	}
	return json.Marshal(struct {
		Address string `json:"address"`
		Claims  []any  `json:"claims"`
	}{Address: d.Address, Claims: claims})
}

// Name is the payload stored at account/name.
type Name struct {
	Name string `json:"name"`
}

// AuthorizedSigner is the payload stored at account/authorizedSigners/<address>.
type AuthorizedSigner struct {
	Address           string `json:"address"`
	ProofOfPossession string `json:"proofOfPossession"`
	FilteredDataPaths string `json:"filteredDataPaths"`
}
