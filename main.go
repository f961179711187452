package main

import "github.com/weiihann/energy-stats-indexer/cmd"

func main() {
	cmd.Execute()
}
