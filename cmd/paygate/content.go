package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vitwit/paygate"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/publish"
	"github.com/vitwit/paygate/utils"
)

// publisher opens the configured ledger and blob store for creator. On the
// evm ledger the creator is always the registry operator.
func publisher(cmd *cobra.Command, g *globals, creator string) (*publish.Publisher, func() error, error) {
	cfg, log, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Ledger == config.LedgerMemory {
		log.Warn("the memory ledger forgets everything when this command exits", nil)
	}
	p, err := paygate.New(cmd.Context(), cfg, paygate.WithLogger(log))
	cfg.Wipe()
	if err != nil {
		return nil, nil, err
	}
	if reg, ok := p.Ledger().(*ledger.Registry); ok {
		if creator != "" && !utils.SameAddress(creator, reg.Operator().Hex()) {
			_ = p.Close()
			return nil, nil, errors.Errorf("creator %s is not the registry operator %s", creator, reg.Operator().Hex())
		}
		creator = reg.Operator().Hex()
	}
	if creator == "" {
		_ = p.Close()
		return nil, nil, errors.New("--creator is required")
	}
	pub, err := p.Publisher(creator)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return pub, p.Close, nil
}

func newPublishCmd(g *globals) *cobra.Command {
	var (
		creator string
		price   string
		item    publish.Item
		tags    string
	)

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Encrypt a file, store it and register it for sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minor, err := utils.ParseMinorUnits(price)
			if err != nil {
				return errors.Wrap(err, "--price")
			}
			if tags != "" {
				for _, t := range strings.Split(tags, ",") {
					if t = strings.TrimSpace(t); t != "" {
						item.Tags = append(item.Tags, t)
					}
				}
			}
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			if item.FileName == "" {
				item.FileName = filepath.Base(f.Name())
			}

			pub, closeFn, err := publisher(cmd, g, creator)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := pub.Publish(cmd.Context(), f, item, minor)
			if err != nil {
				return err
			}
			return g.write(res, func() error {
				return writePlain("content id: %s\ncontent blob: %s\nmetadata blob: %s\ntx: %s\n",
					res.ContentID, res.ContentBlobID, res.MetadataBlobID, res.TxHash)
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator address (defaults to the registry operator)")
	cmd.Flags().StringVar(&price, "price", "", "price in stablecoin units, e.g. 1.50")
	cmd.Flags().StringVar(&item.Title, "title", "", "title")
	cmd.Flags().StringVar(&item.Description, "description", "", "description")
	cmd.Flags().StringVar(&item.Category, "category", "", "category")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	cmd.Flags().StringVar(&item.MimeType, "mime-type", "", "mime type of the file")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newSetPriceCmd(g *globals) *cobra.Command {
	var creator string

	cmd := &cobra.Command{
		Use:   "set-price <contentId> <price>",
		Short: "Change the price of published content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minor, err := utils.ParseMinorUnits(args[1])
			if err != nil {
				return errors.Wrap(err, "price")
			}
			pub, closeFn, err := publisher(cmd, g, creator)
			if err != nil {
				return err
			}
			defer closeFn()

			hash, err := pub.UpdatePrice(cmd.Context(), args[0], minor)
			if err != nil {
				return err
			}
			return g.write(map[string]string{"contentId": args[0], "txHash": hash}, func() error {
				return writePlain("price of %s set to %s (tx %s)\n", args[0], utils.FormatMinorUnits(minor), hash)
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	return cmd
}

func newDeactivateCmd(g *globals) *cobra.Command {
	var (
		creator  string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "deactivate <contentId>",
		Short: "Stop selling content; existing buyers keep access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, closeFn, err := publisher(cmd, g, creator)
			if err != nil {
				return err
			}
			defer closeFn()

			fn := pub.Deactivate
			if activate {
				fn = pub.Activate
			}
			hash, err := fn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.write(map[string]any{"contentId": args[0], "active": activate, "txHash": hash}, func() error {
				return writePlain("content %s active=%t (tx %s)\n", args[0], activate, hash)
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	cmd.Flags().BoolVar(&activate, "undo", false, "put the content back on sale")
	return cmd
}

func newListCmd(g *globals) *cobra.Command {
	var creator string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content registered by a creator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, closeFn, err := publisher(cmd, g, creator)
			if err != nil {
				return err
			}
			defer closeFn()

			ids, err := pub.Contents(cmd.Context())
			if err != nil {
				return err
			}
			return g.write(ids, func() error {
				for _, id := range ids {
					if err := writePlain("%s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	return cmd
}

