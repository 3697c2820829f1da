package stellar

import (
	"crypto/sha256"
	"testing"

	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoHash(t *testing.T) {
	a := MemoHash("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	b := MemoHash("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	c := MemoHash("a different id")

	// Deterministic for the same id, distinct across ids.
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Raw binary digest, not hex.
	want := sha256.Sum256([]byte("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	assert.Equal(t, want, a)
}

func TestAssetRef_IsNative(t *testing.T) {
	assert.True(t, NativeAssetRef().IsNative())
	assert.True(t, AssetRef{}.IsNative())
	assert.True(t, AssetRef{Code: "XLM"}.IsNative())
	assert.False(t, AssetRef{Code: "HLTH", Issuer: "GISSUER"}.IsNative())
	// An issued asset that happens to be named XLM is not native.
	assert.False(t, AssetRef{Code: "XLM", Issuer: "GISSUER"}.IsNative())
}

func TestAssetRef_ToTxnBuild(t *testing.T) {
	native := NativeAssetRef().ToTxnBuild()
	_, ok := native.(txnbuild.NativeAsset)
	require.True(t, ok)

	issued := AssetRef{Code: "HLTH", Issuer: "GISSUER"}.ToTxnBuild()
	credit, ok := issued.(txnbuild.CreditAsset)
	require.True(t, ok)
	assert.Equal(t, "HLTH", credit.Code)
	assert.Equal(t, "GISSUER", credit.Issuer)
}
