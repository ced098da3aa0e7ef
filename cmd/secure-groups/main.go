package main

import "github.com/Trustflow-Network-Labs/secure-groups/internal/cmd"

func main() {
	cmd.Execute()
}
