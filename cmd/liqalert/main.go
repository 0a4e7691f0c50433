package main

import "liquidation-alert-go/cmd/liqalert/cmd"

func main() {
	cmd.Execute()
}
