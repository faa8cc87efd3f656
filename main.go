package main

import (
	"os"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
