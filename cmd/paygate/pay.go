package main

import (
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/codec"
	"github.com/vitwit/paygate/payflow"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

func newPayCmd(g *globals) *cobra.Command {
	var (
		gatewayURL string
		keyHex     string
		method     string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "pay <contentId>",
		Short: "Buy access to content and optionally download and decrypt it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer cfg.Wipe()
			ctx := cmd.Context()
			network := types.Network(cfg.Network)

			if keyHex == "" {
				keyHex = os.Getenv("PAYGATE_WALLET_KEY")
			}
			key, err := utils.PrivateKeyFromHex(keyHex)
			if err != nil {
				return errors.Wrap(err, "wallet key (--key or PAYGATE_WALLET_KEY)")
			}

			var chain *clients.EVMClient
			if types.PaymentMethod(method) == types.MethodDirect {
				chain, err = clients.NewEVMClient(ctx, network, cfg.RPCURL, log)
				if err != nil {
					return err
				}
				defer chain.Close()
			}

			signer := payflow.NewKeySigner(key, chain)
			gw := payflow.NewHTTPGateway(gatewayURL, signer, &http.Client{Timeout: cfg.RequestTimeout})

			var pm payflow.PaymentMethod
			switch types.PaymentMethod(method) {
			case types.MethodDirect:
				pm = payflow.NewDirectTransfer(signer, gw, chain, network)
			case types.MethodFacilitator:
				pm = payflow.NewFacilitator(signer, gw, network)
			default:
				return errors.Errorf("unknown --method %q", method)
			}

			m := payflow.NewMachine(gw, pm,
				payflow.WithLogger(log),
				payflow.WithObserver(func(s payflow.State) {
					log.Info("payment", map[string]any{"phase": s.Phase, "contentId": s.ContentID, "tx": s.TxHash})
				}),
			)
			final, err := m.Run(ctx, args[0])
			if err != nil {
				if final.PaidNotGranted {
					_ = writePlain("payment %s was received but access was not recorded; retry the grant with this hash\n", final.TxHash)
				}
				if fe, ok := err.(*payflow.FlowError); ok && fe.Suggestion != "" {
					_ = writePlain("%s\n", fe.Suggestion)
				}
				return err
			}

			if out != "" {
				if err := download(cmd, cfg.IPFSURL, cfg.IPFSTimeout, final, out); err != nil {
					return err
				}
			}
			return g.write(map[string]any{"state": final, "key": final.Key}, func() error {
				return writePlain("access granted to %s\nkey: %s\ncontent blob: %s\n", final.ContentID, final.Key, final.ContentBlobID)
			})
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:8080", "gateway base URL")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key of the paying wallet")
	cmd.Flags().StringVar(&method, "method", string(types.MethodFacilitator), "payment method: facilitator or direct")
	cmd.Flags().StringVar(&out, "out", "", "write the decrypted content to this file")
	return cmd
}

func download(cmd *cobra.Command, ipfsURL string, timeout time.Duration, s payflow.State, out string) error {
	if ipfsURL == "" {
		return errors.New("--out needs PAYGATE_IPFS_URL to fetch the content")
	}
	key, err := codec.DecodeKey(s.Key)
	if err != nil {
		return err
	}
	defer codec.Wipe(key)

	blob, err := blobstore.NewIPFS(ipfsURL, timeout, nil).Get(cmd.Context(), s.ContentBlobID)
	if err != nil {
		return err
	}
	plain, err := codec.Decrypt(blob, key)
	if err != nil {
		return err
	}
	defer codec.Wipe(plain)
	return errors.Wrapf(os.WriteFile(out, plain, 0o600), "write %s", out)
}
