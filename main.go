package main

import "github.com/arcward/discochat/cmd"

func main() {
	cmd.Execute()
}
