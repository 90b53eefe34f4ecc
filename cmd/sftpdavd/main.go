package main

import "github.com/materials-commons/sftpdav/cmd/sftpdavd/cmd"

func main() {
	cmd.Execute()
}
