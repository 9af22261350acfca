package main

import (
	"fmt"
)

func main() {
	fmt.Println("distribtx - Distributed Transaction Coordination")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  Start the controller:  go run ./cmd/controller --addr=localhost:7000")
	fmt.Println("  Start a site:          go run ./cmd/site --addr=localhost:7100 --controller-addr=localhost:7000")
	fmt.Println("  Client CLI:            go run ./cmd/client <command>")
	fmt.Println("")
	fmt.Println("Client commands:")
	fmt.Println("  exec --site=<addr> --query='...'        - Run one autocommitting statement")
	fmt.Println("  tx --site=<addr> --statements='...;...'  - Run a multi-statement transaction")
	fmt.Println("  health --site=<addr>                    - Check a site's health endpoint")
}
