package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMnemonic is a well-known, valid BIP-39 test mnemonic used throughout
// the cosmos-sdk test suite itself (not tied to any funded account).
const testMnemonic = "equip will roof matter pink blind book anxiety banner elbow sun young"

// TestNewSignerSetIsDeterministic exercises spec §4.1: the same mnemonic
// and index must always derive the same address, so a restarted process
// recovers the same Signer Set.
func TestNewSignerSetIsDeterministic(t *testing.T) {
	a, err := NewSignerSet(testMnemonic, 3, "seda")
	require.NoError(t, err)
	b, err := NewSignerSet(testMnemonic, 3, "seda")
	require.NoError(t, err)

	assert.Equal(t, a.Addresses(), b.Addresses())
	assert.Len(t, a.Addresses(), 3)
}

// TestNewSignerSetDistinctIndices exercises that every derived index gets
// a distinct address; no two accounts collide.
func TestNewSignerSetDistinctIndices(t *testing.T) {
	s, err := NewSignerSet(testMnemonic, 4, "seda")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, addr := range s.Addresses() {
		assert.False(t, seen[addr], "address %s derived twice", addr)
		seen[addr] = true
	}
}

func TestNewSignerSetAddressPrefix(t *testing.T) {
	s, err := NewSignerSet(testMnemonic, 1, "seda")
	require.NoError(t, err)

	id, err := s.At(0)
	require.NoError(t, err)
	assert.Regexp(t, `^seda1[a-z0-9]+$`, id.Address)
}

func TestSignerSetAtOutOfRange(t *testing.T) {
	s, err := NewSignerSet(testMnemonic, 1, "seda")
	require.NoError(t, err)

	_, err = s.At(1)
	assert.Error(t, err)
	_, err = s.At(-1)
	assert.Error(t, err)
}

func TestNewSignerSetRejectsZeroAccounts(t *testing.T) {
	_, err := NewSignerSet(testMnemonic, 0, "seda")
	assert.Error(t, err)
}
