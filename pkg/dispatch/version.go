package dispatch

import (
	"context"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/pkg/errors"
)

// CheckNodeVersion queries the node's reported application version and
// refuses to start when it's below minVersion, the same
// semver.Compare(ensureV(a), ensureV(b)) technique
// pkg/contracts/rust.go's isLessVersion uses to gate toolchain versions,
// generalized to gate node compatibility instead. An empty minVersion
// disables the check.
func CheckNodeVersion(ctx context.Context, client SigningClient, minVersion string) error {
	if minVersion == "" {
		return nil
	}

	nodeVersion, err := queryNodeAppVersion(ctx, client)
	if err != nil {
		return errors.Wrap(err, "failed to determine node application version")
	}

	if semver.Compare(ensureV(nodeVersion), ensureV(minVersion)) < 0 {
		return errors.Errorf("node application version %s is below required minimum %s", nodeVersion, minVersion)
	}
	return nil
}

// queryNodeAppVersion is a narrow seam so tests can fake a node version
// without a real status RPC round trip; the production implementation
// delegates to the SigningClient's underlying transport.
var queryNodeAppVersion = func(ctx context.Context, client SigningClient) (string, error) {
	type versionedClient interface {
		AppVersion(ctx context.Context) (string, error)
	}
	if vc, ok := client.(versionedClient); ok {
		return vc.AppVersion(ctx)
	}
	return "", errors.New("signing client does not expose an application version")
}

func ensureV(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
