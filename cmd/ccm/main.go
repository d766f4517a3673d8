package main

import "github.com/ccm-sh/ccm/internal/cmd"

func main() {
	cmd.Execute()
}
