// Command hostctl is the command line client for the application host API.
package main

import "github.com/R3E-Network/apphost/internal/cli"

func main() {
	cli.Execute()
}
