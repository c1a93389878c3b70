// Command polar converts polarization analyzer exports to Stokes parameters.
package main

import (
	"fmt"
	"os"

	apperrors "polarcli/internal/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, apperrors.Diagnose(err))
		os.Exit(1)
	}
}
