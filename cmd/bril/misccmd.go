package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/brilang/go-bril/internal/version"
)

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `
The output of this command is supposed to be machine-readable.
`,
}

func printVersion(ctx *cli.Context) error {
	fmt.Println("Bril")
	fmt.Println("Version:", version.WithMeta)
	if commit, dirty := version.VCS(); commit != "" {
		fmt.Println("Git Commit:", commit)
		if dirty {
			fmt.Println("Git Status: modified")
		}
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	fmt.Printf("GOPATH=%s\n", os.Getenv("GOPATH"))
	fmt.Printf("GOROOT=%s\n", runtime.GOROOT())
	return nil
}
