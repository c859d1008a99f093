package main

import (
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vitwit/paygate/codec"
	"github.com/vitwit/paygate/utils"
)

func newKeygenCmd(g *globals) *cobra.Command {
	var wallet bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a content key, or a wallet key with --wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wallet {
				key, err := crypto.GenerateKey()
				if err != nil {
					return errors.Wrap(err, "generate wallet key")
				}
				out := map[string]string{
					"address":    utils.AddressFromPrivateKey(key).Hex(),
					"privateKey": hexutil.Encode(crypto.FromECDSA(key)),
				}
				return g.write(out, func() error {
					return writePlain("address: %s\nprivate key: %s\n", out["address"], out["privateKey"])
				})
			}

			key, err := codec.GenerateKey()
			if err != nil {
				return err
			}
			defer codec.Wipe(key)
			encoded := codec.EncodeKey(key)
			return g.write(map[string]string{"key": encoded}, func() error {
				return writePlain("%s\n", encoded)
			})
		},
	}
	cmd.Flags().BoolVar(&wallet, "wallet", false, "generate a secp256k1 wallet key instead")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	var keyB64, in, out string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a file with a base64 content key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return transform(keyB64, in, out, codec.Encrypt)
		},
	}
	keyFlags(cmd, &keyB64, &in, &out)
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var keyB64, in, out string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a blob with a base64 content key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return transform(keyB64, in, out, codec.Decrypt)
		},
	}
	keyFlags(cmd, &keyB64, &in, &out)
	return cmd
}

func keyFlags(cmd *cobra.Command, key, in, out *string) {
	cmd.Flags().StringVar(key, "key", "", "base64 content key")
	cmd.Flags().StringVar(in, "in", "", "input file")
	cmd.Flags().StringVar(out, "out", "", "output file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
}

func transform(keyB64, in, out string, fn func(data, key []byte) ([]byte, error)) error {
	key, err := codec.DecodeKey(keyB64)
	if err != nil {
		return err
	}
	defer codec.Wipe(key)

	data, err := os.ReadFile(in)
	if err != nil {
		return errors.Wrapf(err, "read %s", in)
	}
	res, err := fn(data, key)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(out, res, 0o600), "write %s", out)
}
