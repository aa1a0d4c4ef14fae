package root

import (
	"github.com/vinayakr/nofrillsdb/apps/cli/cmd/bootstrap"
	"github.com/vinayakr/nofrillsdb/apps/cli/cmd/ca"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(ca.Command())
}
