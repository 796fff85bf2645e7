package main

import "github.com/ramiqadoumi/go-action-flow/services/scheduler/cli"

func main() {
	cli.Execute()
}
