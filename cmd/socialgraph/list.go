package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindlog/social_layer/internal/app"
	"github.com/mindlog/social_layer/internal/listing"
)

var (
	listViewer string
	listLimit  int
	listAll    bool
)

var listCmd = &cobra.Command{
	Use:       "list <followers|following|likers|reposters> <id>",
	Short:     "Print a user or post list as the viewer sees it",
	Args:      cobra.MatchAll(cobra.ExactArgs(2), func(cmd *cobra.Command, args []string) error { return cobra.OnlyValidArgs(cmd, args[:1]) }),
	ValidArgs: []string{"followers", "following", "likers", "reposters"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cfg.Tunables.BackendTimeout * 10)
		defer cancel()

		b, err := openBackend(ctx, cfg, nil, log)
		if err != nil {
			return err
		}
		defer b.Close()
		application := app.New(b, app.Options{Logger: log})

		var src listing.EdgeSource
		id := args[1]
		switch args[0] {
		case "followers":
			src = listing.Followers(application.Store, id)
		case "following":
			src = listing.Following(application.Store, id)
		case "likers":
			src = listing.Likers(application.Backend, id)
		case "reposters":
			src = listing.Reposters(application.Store, application.Backend, id)
		}

		acc := listing.NewAccumulator(listViewer, src.Name()+":"+id)
		for {
			if err := acc.LoadMore(ctx, application.Assembler, src, listLimit); err != nil {
				return err
			}
			if !listAll || !acc.HasMore() {
				break
			}
		}

		out := cmd.OutOrStdout()
		for _, u := range acc.Items() {
			fmt.Fprintf(out, "%s\t%s\n", u.ID, u.DisplayName)
		}
		if acc.HasMore() {
			fmt.Fprintln(out, "... more available (use --all)")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listViewer, "viewer", "", "User ID whose blocks filter the list")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Page size (0 uses the default)")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Keep loading pages until the list is exhausted")
}
