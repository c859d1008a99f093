package main

import (
	"fmt"
	"os"

	"github.com/vitwit/paygate/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if e, ok := types.AsError(err); ok && e.Kind == types.KindGrantWrite {
			fmt.Fprintln(os.Stderr, "your payment was received; keep the transaction hash and retry or contact the creator")
		}
		os.Exit(1)
	}
}
