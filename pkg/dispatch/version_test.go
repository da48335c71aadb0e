package dispatch

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCheckNodeVersionEmptyMinDisablesCheck(t *testing.T) {
	client := newFakeSigningClient("seda1ver")
	err := CheckNodeVersion(context.Background(), client, "")
	assert.NoError(t, err)
}

func TestCheckNodeVersionAcceptsEqualOrNewer(t *testing.T) {
	client := newFakeSigningClient("seda1ver")
	client.appVersion = "1.2.0"

	assert.NoError(t, CheckNodeVersion(context.Background(), client, "1.2.0"))
	assert.NoError(t, CheckNodeVersion(context.Background(), client, "1.1.9"))
}

func TestCheckNodeVersionRejectsOlder(t *testing.T) {
	client := newFakeSigningClient("seda1ver")
	client.appVersion = "1.1.0"

	err := CheckNodeVersion(context.Background(), client, "1.2.0")
	assert.Error(t, err)
}

func TestCheckNodeVersionPropagatesQueryError(t *testing.T) {
	client := newFakeSigningClient("seda1ver")
	client.appVersionErr = errors.New("status rpc unreachable")

	err := CheckNodeVersion(context.Background(), client, "1.0.0")
	assert.Error(t, err)
}

func TestCheckNodeVersionAcceptsBareAndVPrefixedVersions(t *testing.T) {
	client := newFakeSigningClient("seda1ver")
	client.appVersion = "v1.2.0"

	assert.NoError(t, CheckNodeVersion(context.Background(), client, "1.2.0"))
}
