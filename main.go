// The main package for the vendorcrawl executable.
package main

import (
	"github.com/JakeFAU/practice-vendor-crawler/cmd"
)

func main() {
	cmd.Execute()
}
