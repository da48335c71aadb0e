package dispatch

import (
	"encoding/hex"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/pkg/errors"
)

// Identity is one derived signing identity held by a Signer Set: a stable
// bech32 address and a handle to the signing primitive (component B treats
// this as opaque), per spec §4.1.
type Identity struct {
	Index   int
	Address string
	PrivKey *secp256k1.PrivKey
}

// SignerSet holds N derived signing identities, constructed once at
// startup and held immutably thereafter, per spec §4.1.
type SignerSet struct {
	identities []Identity
}

// NewSignerSet derives n signing identities from mnemonic at a fixed HD
// path differing only by the trailing address index, the same derivation
// infra/apps/cored/key.go performs for a single account generalized to N.
// addressPrefix sets the bech32 human-readable prefix (spec §6, default
// "seda").
func NewSignerSet(mnemonic string, n int, addressPrefix string) (*SignerSet, error) {
	if n < 1 {
		return nil, errors.New("dispatch: account count must be >= 1")
	}

	identities := make([]Identity, 0, n)
	for i := 0; i < n; i++ {
		kr := keyring.NewUnsafe(keyring.NewInMemory())
		hdPath := hd.CreateHDPath(sdk.GetConfig().GetCoinType(), 0, uint32(i)).String()

		name := "signer"
		if _, err := kr.NewAccount(name, mnemonic, "", hdPath, hd.Secp256k1); err != nil {
			return nil, errors.Wrapf(err, "failed to derive signer %d from mnemonic", i)
		}

		privKeyHex, err := kr.UnsafeExportPrivKeyHex(name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to export derived key %d", i)
		}
		privKeyBytes, err := hex.DecodeString(privKeyHex)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode derived key %d", i)
		}

		privKey := &secp256k1.PrivKey{Key: privKeyBytes}
		addr, err := bech32Address(privKey.PubKey().Address().Bytes(), addressPrefix)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive bech32 address for signer %d", i)
		}

		identities = append(identities, Identity{
			Index:   i,
			Address: addr,
			PrivKey: privKey,
		})
	}

	return &SignerSet{identities: identities}, nil
}

// Len returns N, the number of held identities.
func (s *SignerSet) Len() int { return len(s.identities) }

// At returns the identity for account index i.
func (s *SignerSet) At(i int) (Identity, error) {
	if i < 0 || i >= len(s.identities) {
		return Identity{}, errors.Errorf("dispatch: account index %d out of range [0,%d)", i, len(s.identities))
	}
	return s.identities[i], nil
}

// Addresses returns every held identity's address, in index order.
func (s *SignerSet) Addresses() []string {
	out := make([]string, len(s.identities))
	for i, id := range s.identities {
		out[i] = id.Address
	}
	return out
}

func bech32Address(addrBytes []byte, prefix string) (string, error) {
	return sdk.Bech32ifyAddressBytes(prefix, addrBytes)
}
