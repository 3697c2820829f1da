package stellar

import (
	"crypto/sha256"

	"github.com/stellar/go/txnbuild"
)

// MemoHash computes the correlation memo for a local record id: the raw
// sha256 digest of the id (binary, not hex). The digest is embedded on the
// ledger transaction so a later history scan can recover which local record
// produced a given ledger operation without exposing the plaintext id.
func MemoHash(refID string) [32]byte {
	return sha256.Sum256([]byte(refID))
}

// AssetRef identifies an asset either by bare code (native or well-known) or
// by a full code+issuer descriptor. Exactly one form is populated; Resolve
// normalizes to a txnbuild asset at the boundary.
type AssetRef struct {
	Code   string
	Issuer string // empty for the native asset
}

// NativeAssetRef returns the ref for the network's native unit.
func NativeAssetRef() AssetRef {
	return AssetRef{Code: NativeAssetCode}
}

// IsNative reports whether the ref denotes the network's native unit.
func (r AssetRef) IsNative() bool {
	return r.Issuer == "" && (r.Code == "" || r.Code == NativeAssetCode)
}

// ToTxnBuild converts the ref to the SDK's asset representation.
func (r AssetRef) ToTxnBuild() txnbuild.Asset {
	if r.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: r.Code, Issuer: r.Issuer}
}

// ToChangeTrust converts the ref to a change-trust line. Trust lines only
// exist for non-native assets; callers must not pass a native ref.
func (r AssetRef) ToChangeTrust() txnbuild.ChangeTrustAsset {
	return txnbuild.ChangeTrustAssetWrapper{
		Asset: txnbuild.CreditAsset{Code: r.Code, Issuer: r.Issuer},
	}
}
