package main

import "github.com/clusterctl/core/cmd"

func main() {
	cmd.Execute()
}
