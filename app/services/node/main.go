// This binary is the blockchain node: a CLI for wallet and ledger
// operations plus the long-running network service behind startnode.
package main

import "github.com/archlabs/blockchain/app/services/node/commands"

func main() {
	commands.Execute()
}
