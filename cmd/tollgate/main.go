// Command tollgate runs the policy-enforcement gateway: it loads
// configuration, wires the domain packages to a concrete store, and
// serves the HTTP API described in spec §6.
package main

import "github.com/tollgate/tollgate/cmd/tollgate/cmd"

func main() {
	cmd.Execute()
}
