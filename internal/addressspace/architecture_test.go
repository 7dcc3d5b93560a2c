package addressspace

import (
	"testing"

	"plcserver/testutil"
)

func TestAddressSpaceIsSelfContained(t *testing.T) {
	thirdParty := func(path string) bool {
		return testutil.ThirdPartyImportForbidden(path) && path != "github.com/gopcua/opcua/ua"
	}
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(
		testutil.ModuleImportForbidden("plcserver"),
		thirdParty,
	), "the address space depends only on the ua vocabulary package")
}
