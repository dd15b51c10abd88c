package main

import (
	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/cmd"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
