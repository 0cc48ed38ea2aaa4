package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/signatures"
)

// newSignaturesCmd creates the 'signatures' subcommand, which loads the
// signature table and reports what compiled.
func newSignaturesCmd(v *viper.Viper) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "signatures",
		Short: "Validates the vendor signature files",
		Long: `Loads the signature YAML files (the embedded defaults unless --dir is
given), prints the compiled rule count and vendors per category, and lists
every pattern that was skipped as malformed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			store, err := signatures.Load(e.cfg.Signatures.Dir, e.cfg.Signatures.Files, e.logger.Named("signatures"))
			if err != nil {
				return err
			}
			printSignatures(cmd.OutOrStdout(), store)
			if strict && len(store.Skipped()) > 0 {
				return fmt.Errorf("%d malformed signature entries", len(store.Skipped()))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "directory holding the signature files")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any pattern is skipped")
	_ = v.BindPFlag("signatures.dir", cmd.Flags().Lookup("dir"))
	return cmd
}

func printSignatures(w io.Writer, store *signatures.Store) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tRULES\tVENDORS")
	for _, c := range crawler.Categories {
		vendors := store.Vendors(c)
		fmt.Fprintf(tw, "%s\t%d\t%d\n", c, len(store.Rules(c)), len(vendors))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total rules: %d\n", store.RuleCount())

	skipped := store.Skipped()
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "skipped %d:\n", len(skipped))
	for _, sk := range skipped {
		fmt.Fprintf(w, "  %s %s/%s %s %q: %v\n", sk.File, sk.Category, sk.Tier, sk.Vendor, sk.Pattern, sk.Err)
	}
}
