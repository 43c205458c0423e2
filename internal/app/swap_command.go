package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/MithrandirBalrog/Clawlett/internal/allowance"
	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/guard"
	"github.com/MithrandirBalrog/Clawlett/internal/httpx"
	"github.com/MithrandirBalrog/Clawlett/internal/journal"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
	"github.com/MithrandirBalrog/Clawlett/internal/order"
	"github.com/MithrandirBalrog/Clawlett/internal/out"
	"github.com/MithrandirBalrog/Clawlett/internal/parse"
	"github.com/MithrandirBalrog/Clawlett/internal/providers/aggregator"
	"github.com/MithrandirBalrog/Clawlett/internal/providers/cowswap"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/roles"
	"github.com/MithrandirBalrog/Clawlett/internal/token"
	"github.com/MithrandirBalrog/Clawlett/internal/version"
)

type swapFlags struct {
	venue           string
	execute         bool
	slippage        float64
	approval        string
	allowUnverified bool
	noRevoke        bool
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var flags swapFlags
	cmd := &cobra.Command{
		Use:   "swap <amount> <token> to <token>",
		Short: "Quote a swap for the vault; add --execute to run it",
		Long: "Parses a phrase like 'swap 0.1 ETH to USDC', quotes it against the\n" +
			"selected venue and prints the protected terms. With --execute the swap\n" +
			"runs from the vault through the role contract.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSwap(cmd.Context(), joinArgs(args), flags)
		},
	}
	cmd.Flags().StringVar(&flags.venue, "venue", string(model.VenueRouter), "execution venue: router or auction")
	cmd.Flags().BoolVar(&flags.execute, "execute", false, "execute instead of quoting only")
	cmd.Flags().Float64Var(&flags.slippage, "slippage", -1, "slippage fraction, e.g. 0.005 for 0.5%")
	cmd.Flags().StringVar(&flags.approval, "approval", "", "allowance raise mode: exact or max")
	cmd.Flags().BoolVar(&flags.allowUnverified, "allow-unverified", false, "proceed with a token that failed registry verification")
	cmd.Flags().BoolVar(&flags.noRevoke, "no-revoke", false, "keep the allowance after an exact-mode swap")
	return cmd
}

func (s *runtimeState) runSwap(ctx context.Context, phrase string, flags swapFlags) error {
	req, err := parse.SwapCommand(phrase)
	if err != nil {
		return err
	}
	if flags.approval != "" {
		mode := model.ApprovalMode(strings.ToLower(flags.approval))
		if mode != model.ApprovalExact && mode != model.ApprovalMax {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown approval mode %q; use exact or max", flags.approval))
		}
		s.settings.ApprovalMode = mode
	}
	if err := s.settings.ValidateVault(); err != nil {
		return err
	}
	venue := model.Venue(strings.ToLower(flags.venue))
	if venue != model.VenueRouter && venue != model.VenueAuction {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown venue %q; use router or auction", flags.venue))
	}

	slippage := s.settings.SlippageFraction
	if flags.slippage >= 0 {
		slippage = flags.slippage
	}
	bps, err := guard.FractionToBps(slippage)
	if err != nil {
		return err
	}

	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "resolve rpc endpoint", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	resolver := token.NewResolver(client, s.settings.ChainID)
	fromDesc, err := resolver.Resolve(ctx, req.FromToken)
	if err != nil {
		return err
	}
	toDesc, err := resolver.Resolve(ctx, req.ToToken)
	if err != nil {
		return err
	}
	var warnings []string
	for _, desc := range []model.TokenDescriptor{fromDesc, toDesc} {
		if desc.Warning == "" {
			continue
		}
		if !flags.allowUnverified {
			return clierr.New(clierr.CodeProtectedToken,
				desc.Warning+"; pass --allow-unverified to proceed anyway")
		}
		warnings = append(warnings, desc.Warning)
	}
	s.lastWarnings = warnings

	amountIn, err := token.ParseAmount(req.Amount, fromDesc.Decimals)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("parse amount %q", req.Amount), err)
	}
	if amountIn.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "swap amount must be positive")
	}

	// Balance gate runs before any quote is requested: a quote for funds the
	// vault does not hold is wasted quota and a misleading price.
	vaultAddr := common.HexToAddress(s.settings.Vault)
	balance, err := resolver.Balance(ctx, fromDesc, vaultAddr)
	if err != nil {
		return err
	}
	if balance.Cmp(amountIn) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance,
			fmt.Sprintf("vault holds %s %s, swap needs %s",
				token.FormatAmount(balance, fromDesc.Decimals), fromDesc.Symbol,
				token.FormatAmount(amountIn, fromDesc.Decimals)))
	}

	p := &swapPipeline{
		state:    s,
		client:   client,
		resolver: resolver,
		from:     fromDesc,
		to:       toDesc,
		amountIn: amountIn,
		bps:      bps,
		vault:    vaultAddr,
		flags:    flags,
		warnings: warnings,
	}
	if venue == model.VenueRouter {
		return p.runRouter(ctx)
	}
	return p.runAuction(ctx)
}

type swapPipeline struct {
	state    *runtimeState
	client   *ethclient.Client
	resolver *token.Resolver
	from     model.TokenDescriptor
	to       model.TokenDescriptor
	amountIn *big.Int
	bps      int64
	vault    common.Address
	flags    swapFlags
	warnings []string
}

func (p *swapPipeline) runRouter(ctx context.Context) error {
	s := p.state
	if !common.IsHexAddress(s.settings.Router) {
		return clierr.New(clierr.CodeConfig, "vault.router is required for the router venue")
	}
	if strings.TrimSpace(s.settings.AggregatorURL) == "" {
		return clierr.New(clierr.CodeConfig, "endpoints.aggregator_url is required for the router venue")
	}
	routerAddr := common.HexToAddress(s.settings.Router)

	// Quotes are priced; the client never retries them.
	quotes := aggregator.New(httpx.New(s.settings.Timeout, 0), s.settings.AggregatorURL)
	q, err := quotes.Quote(ctx, aggregator.QuoteRequest{
		TokenIn:     p.from.Address,
		TokenOut:    p.to.Address,
		AmountIn:    p.amountIn,
		Recipient:   p.vault.Hex(),
		SlippageBps: p.bps,
		ChainID:     s.settings.ChainID,
	})
	if err != nil {
		return err
	}
	if !strings.EqualFold(q.Target, routerAddr.Hex()) {
		return clierr.New(clierr.CodeUnsafeQuote,
			fmt.Sprintf("quote targets %s, approved router is %s", q.Target, routerAddr.Hex()))
	}
	minOut, err := guard.Protect(q, p.amountIn, p.from.Native, s.settings.Vault, p.bps)
	if err != nil {
		return err
	}

	summary := model.SwapSummary{
		Venue:        string(model.VenueRouter),
		ChainID:      s.settings.ChainID,
		FromToken:    p.from.Symbol,
		FromAddress:  p.from.Address,
		ToToken:      p.to.Symbol,
		ToAddress:    p.to.Address,
		AmountIn:     token.FormatAmount(p.amountIn, p.from.Decimals),
		AmountOut:    token.FormatAmount(q.AmountOut, p.to.Decimals),
		MinAmountOut: token.FormatAmount(minOut, p.to.Decimals),
		Route:        q.Route,
		Warnings:     p.warnings,
	}
	if !p.flags.execute {
		return p.emit(summary)
	}

	exec, err := p.newExecutor()
	if err != nil {
		return err
	}
	if err := exec.Preflight(ctx, roles.Target{Name: "router", Addr: routerAddr}); err != nil {
		return err
	}
	mgr, err := allowance.NewManager(p.client, exec, p.vault, s.log)
	if err != nil {
		return err
	}
	if _, err := mgr.Ensure(ctx, p.from, routerAddr, p.amountIn, s.settings.ApprovalMode); err != nil {
		return err
	}

	entry := p.newJournalEntry(model.VenueRouter, summary.MinAmountOut)
	txHash, err := exec.Exec(ctx, roles.Call{
		To:        routerAddr,
		Value:     q.EthValue,
		Data:      q.Calldata,
		Operation: roles.OperationCall,
	})
	if err != nil {
		p.saveJournal(entry, "failed", txHash, "", err)
		return err
	}
	summary.Executed = true
	summary.TxHash = txHash
	p.saveJournal(entry, "executed", txHash, "", nil)

	if after, err := p.resolver.Balance(ctx, p.to, p.vault); err == nil {
		summary.BalanceAfter = token.FormatAmount(after, p.to.Decimals)
	}
	p.maybeRevoke(ctx, mgr, p.from, routerAddr)
	return p.emit(summary)
}

func (p *swapPipeline) runAuction(ctx context.Context) error {
	s := p.state
	auctionURL, err := registry.ResolveAuctionAPIURL(s.settings.AuctionAPIURL, s.settings.ChainID)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "resolve auction order book", err)
	}
	settlement, err := p.auctionContract(s.settings.Settlement, registry.SettlementContract, "settlement")
	if err != nil {
		return err
	}
	relayer, err := p.auctionContract(s.settings.VaultRelayer, registry.VaultRelayer, "vault relayer")
	if err != nil {
		return err
	}
	wrapped, err := p.auctionContract(s.settings.WrappedNative, registry.WrappedNative, "wrapped native token")
	if err != nil {
		return err
	}

	// Auction orders always sell an ERC-20 balance; a native input sells the
	// wrapped form and is deposited before the order goes live.
	sellDesc := p.from
	if p.from.Native {
		sellDesc = model.TokenDescriptor{
			Address:  wrapped.Hex(),
			Symbol:   "W" + p.from.Symbol,
			Decimals: p.from.Decimals,
			Verified: true,
		}
	}
	if p.to.Native {
		return clierr.New(clierr.CodeUsage,
			"auction orders buy ERC-20 tokens; swap to the wrapped native token instead")
	}

	appDataHash, appDataDoc, err := order.AppData(version.CLIName)
	if err != nil {
		return err
	}
	book := cowswap.New(httpx.New(s.settings.Timeout, 0), auctionURL)
	cq, err := book.Quote(ctx, cowswap.QuoteRequest{
		SellToken:           sellDesc.Address,
		BuyToken:            p.to.Address,
		From:                p.vault.Hex(),
		Receiver:            p.vault.Hex(),
		SellAmountBeforeFee: p.amountIn,
		AppData:             appDataHash.Hex(),
	})
	if err != nil {
		return err
	}
	minBuy := guard.AuctionMinBuy(cq.SellAmount, cq.BuyAmount, cq.FeeAmount)
	if minBuy.Sign() <= 0 {
		return clierr.New(clierr.CodeUnsafeQuote, "auction fee consumes the entire order")
	}
	// Fee is folded into the sell side; the signed order carries zero fee.
	totalSell := new(big.Int).Add(cq.SellAmount, cq.FeeAmount)
	sub := cowswap.NewPresignSubmission(
		sellDesc.Address, p.to.Address, p.vault.Hex(), p.vault.Hex(),
		appDataHash.Hex(), totalSell, minBuy, new(big.Int), cq.ValidTo, cq.QuoteID,
	)

	summary := model.SwapSummary{
		Venue:        string(model.VenueAuction),
		ChainID:      s.settings.ChainID,
		FromToken:    p.from.Symbol,
		FromAddress:  p.from.Address,
		ToToken:      p.to.Symbol,
		ToAddress:    p.to.Address,
		AmountIn:     token.FormatAmount(p.amountIn, p.from.Decimals),
		AmountOut:    token.FormatAmount(cq.BuyAmount, p.to.Decimals),
		MinAmountOut: token.FormatAmount(minBuy, p.to.Decimals),
		Warnings:     p.warnings,
	}
	if !p.flags.execute {
		return p.emit(summary)
	}

	exec, err := p.newExecutor()
	if err != nil {
		return err
	}
	targets := []roles.Target{{Name: "settlement contract", Addr: settlement}}
	if p.from.Native {
		targets = append(targets, roles.Target{Name: "wrapped native token", Addr: wrapped})
	}
	if err := exec.Preflight(ctx, targets...); err != nil {
		return err
	}
	lc, err := order.NewLifecycle(book, exec, s.settings.ChainID, p.vault, settlement, s.log)
	if err != nil {
		return err
	}
	if p.from.Native {
		if _, err := lc.WrapNative(ctx, wrapped, p.amountIn); err != nil {
			return err
		}
	}
	mgr, err := allowance.NewManager(p.client, exec, p.vault, s.log)
	if err != nil {
		return err
	}
	if _, err := mgr.Ensure(ctx, sellDesc, relayer, totalSell, s.settings.ApprovalMode); err != nil {
		return err
	}
	if err := book.RegisterAppData(ctx, appDataHash.Hex(), appDataDoc); err != nil {
		s.log.Warn().Err(err).Msg("app data registration failed; order proceeds without it")
	}
	entry := p.newJournalEntry(model.VenueAuction, summary.MinAmountOut)
	uid, err := lc.Place(ctx, sub)
	if err != nil {
		p.saveJournal(entry, "failed", "", "", err)
		return err
	}
	p.saveJournal(entry, "open", "", uid, nil)
	presignTx, err := lc.Presign(ctx, uid)
	if err != nil {
		p.saveJournal(entry, "failed", presignTx, uid, err)
		return err
	}

	stop := p.startSpinner("waiting for auction settlement")
	state, err := lc.Await(ctx, uid, s.settings.OrderWaitBudget)
	stop()
	if err != nil {
		p.saveJournal(entry, state, presignTx, uid, err)
		return err
	}
	p.saveJournal(entry, state, presignTx, uid, nil)

	summary.Executed = state == order.StateFulfilled
	summary.TxHash = presignTx
	summary.OrderUID = uid
	summary.OrderStatus = state
	if after, err := p.resolver.Balance(ctx, p.to, p.vault); err == nil {
		summary.BalanceAfter = token.FormatAmount(after, p.to.Decimals)
	}
	p.maybeRevoke(ctx, mgr, sellDesc, relayer)
	return p.emit(summary)
}

func (p *swapPipeline) newExecutor() (*roles.Executor, error) {
	agent, err := signerFromEnv()
	if err != nil {
		return nil, err
	}
	roleKey, err := roleKeyFromSettings(p.state)
	if err != nil {
		return nil, err
	}
	return newRoleExecutor(p.state, p.client, agent, p.vault, roleKey)
}

func (p *swapPipeline) auctionContract(override string, lookup func(int64) (string, bool), name string) (common.Address, error) {
	if strings.TrimSpace(override) != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, clierr.New(clierr.CodeConfig,
				fmt.Sprintf("configured %s %q is not a valid address", name, override))
		}
		return common.HexToAddress(override), nil
	}
	addr, ok := lookup(p.state.settings.ChainID)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeConfig,
			fmt.Sprintf("no %s known for chain %d; configure it explicitly", name, p.state.settings.ChainID))
	}
	return common.HexToAddress(addr), nil
}

// maybeRevoke zeroes the swap allowance after an exact-mode execution. A
// failed revoke is reported, never fatal: the swap already happened.
func (p *swapPipeline) maybeRevoke(ctx context.Context, mgr *allowance.Manager, desc model.TokenDescriptor, spender common.Address) {
	s := p.state
	if p.flags.noRevoke || !s.settings.RevokeAfterSwap || s.settings.ApprovalMode != model.ApprovalExact {
		return
	}
	if desc.Native {
		return
	}
	if _, err := mgr.Revoke(ctx, desc, spender); err != nil {
		s.log.Warn().Err(err).Str("spender", spender.Hex()).Msg("allowance revoke failed; residual allowance remains")
	}
}

func (p *swapPipeline) newJournalEntry(venue model.Venue, minOut string) journal.Entry {
	entry := journal.Entry{
		ID:           fmt.Sprintf("swap_%d", p.state.runner.now().UnixNano()),
		ChainID:      p.state.settings.ChainID,
		Venue:        string(venue),
		Vault:        p.vault.Hex(),
		FromToken:    p.from.Symbol,
		ToToken:      p.to.Symbol,
		AmountIn:     token.FormatAmount(p.amountIn, p.from.Decimals),
		MinAmountOut: minOut,
		Status:       "pending",
	}
	entry.Touch()
	return entry
}

func (p *swapPipeline) saveJournal(entry journal.Entry, status, txHash, uid string, cause error) {
	s := p.state
	entry.Status = status
	entry.TxHash = txHash
	entry.OrderUID = uid
	if cause != nil {
		entry.Error = cause.Error()
	}
	entry.Touch()

	j, err := s.openJournal()
	if err != nil {
		s.log.Warn().Err(err).Msg("journal disabled")
		return
	}
	defer j.Close()
	if err := j.Save(entry); err != nil {
		s.log.Warn().Err(err).Msg("journal save failed")
	}
}

func (p *swapPipeline) startSpinner(message string) func() {
	if p.state.settings.OutputMode != out.ModePlain {
		return func() {}
	}
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.state.runner.stderr))
	sp.Suffix = " " + message
	sp.Start()
	return sp.Stop
}

func (p *swapPipeline) emit(summary model.SwapSummary) error {
	if p.state.settings.OutputMode == out.ModePlain {
		out.SwapBanner(p.state.runner.stdout, summary)
	}
	return p.state.emitSuccess(summary, p.warnings)
}
