package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/httpx"
	"github.com/MithrandirBalrog/Clawlett/internal/journal"
	"github.com/MithrandirBalrog/Clawlett/internal/providers/cowswap"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
)

func (s *runtimeState) newOrdersCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:     "orders",
		Aliases: []string{"order"},
		Short:   "Inspect recorded swaps and live auction orders",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runOrdersList(status, limit)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status, e.g. open or fulfilled")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to return")
	cmd.AddCommand(s.newOrdersListCommand(), s.newOrdersStatusCommand())
	return cmd
}

func (s *runtimeState) newOrdersListCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded swap attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runOrdersList(status, limit)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status, e.g. open or fulfilled")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to return")
	return cmd
}

func (s *runtimeState) newOrdersStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-uid>",
		Short: "Check an auction order against the order book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runOrdersStatus(cmd.Context(), args[0])
		},
	}
}

func (s *runtimeState) runOrdersList(status string, limit int) error {
	j, err := s.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()
	entries, err := j.List(status, limit)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "list swap journal", err)
	}
	return s.emitSuccess(entries, nil)
}

func (s *runtimeState) runOrdersStatus(ctx context.Context, uid string) error {
	if !strings.HasPrefix(uid, "0x") {
		return clierr.New(clierr.CodeUsage, "order uid must be a 0x-prefixed hex string")
	}
	auctionURL, err := registry.ResolveAuctionAPIURL(s.settings.AuctionAPIURL, s.settings.ChainID)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "resolve auction order book", err)
	}
	book := cowswap.New(httpx.New(s.settings.Timeout, 0), auctionURL)
	status, err := book.OrderStatus(ctx, uid)
	if err != nil {
		return err
	}

	result := map[string]any{
		"order_uid": uid,
		"status":    status,
	}
	// Journal enrichment is best effort; the order book answer stands alone.
	if j, jerr := s.openJournal(); jerr == nil {
		if entry, lerr := j.ByOrderUID(uid); lerr == nil {
			result["swap_id"] = entry.ID
			result["from_token"] = entry.FromToken
			result["to_token"] = entry.ToToken
			result["amount_in"] = entry.AmountIn
			result["min_amount_out"] = entry.MinAmountOut
			result["recorded_status"] = entry.Status
		}
		_ = j.Close()
	}
	return s.emitSuccess(result, nil)
}

func (s *runtimeState) openJournal() (*journal.Journal, error) {
	dbPath, lockPath := s.settings.JournalPath, s.settings.JournalLockPath
	if dbPath == "" {
		var err error
		dbPath, lockPath, err = journal.DefaultPaths()
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeConfig, "resolve journal path", err)
		}
	}
	j, err := journal.Open(dbPath, lockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open swap journal", err)
	}
	return j, nil
}
