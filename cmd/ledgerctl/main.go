package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"economy_service/internal/blobstore"
	"economy_service/internal/config"
	"economy_service/internal/economy"
	"economy_service/internal/httpapi"
	"economy_service/internal/logger"
	"economy_service/internal/mailbox"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	assumeYes  bool
	requestKey string
	reason     string
	username   string
	tokenTTL   time.Duration
)

type app struct {
	cfg   config.Config
	store *blobstore.Store
	repo  *economy.BlobRepository
	svc   *economy.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := blobstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	rates, err := economy.LoadRates(cfg.RatesFile)
	if err != nil {
		return nil, err
	}
	repo := economy.NewBlobRepository(store)
	mail := mailbox.NewService(store, nil)
	return &app{
		cfg:   cfg,
		store: store,
		repo:  repo,
		svc:   economy.NewService(repo, rates, mail, economy.WithMaxAttempts(cfg.MutationAttempts)),
	}, nil
}

func main() {
	logger.Init()

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and repair player economy state",
		Long: `ledgerctl reads the same object store as the economy server
(configured through .env / environment) and prints or adjusts player state.`,
		SilenceUsage: true,
	}

	stateCmd := &cobra.Command{
		Use:   "state <player>",
		Short: "Show the materialized balance and world summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runState,
	}

	ledgerCmd := &cobra.Command{
		Use:   "ledger <player>",
		Short: "Print the retained ledger events",
		Args:  cobra.ExactArgs(1),
		RunE:  runLedger,
	}

	playersCmd := &cobra.Command{
		Use:   "players",
		Short: "List players with a stored world",
		Args:  cobra.NoArgs,
		RunE:  runPlayers,
	}

	adjustCmd := &cobra.Command{
		Use:   "adjust <player> <delta>",
		Short: "Apply a signed balance adjustment through the ledger",
		Args:  cobra.ExactArgs(2),
		RunE:  runAdjust,
	}
	adjustCmd.Flags().StringVarP(&requestKey, "key", "k", "", "Idempotency key (default: generated)")
	adjustCmd.Flags().StringVarP(&reason, "reason", "r", economy.ReasonAdjustment, "Ledger reason")

	deleteCmd := &cobra.Command{
		Use:   "delete <player>",
		Short: "Delete world, ledger and mailbox for a player",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	ratesCmd := &cobra.Command{
		Use:   "rates",
		Short: "Print the effective production rate table",
		Args:  cobra.NoArgs,
		RunE:  runRates,
	}

	tokenCmd := &cobra.Command{
		Use:   "token <player>",
		Short: "Mint a bearer token signed with AUTH_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenCmd.Flags().StringVarP(&username, "username", "u", "", "Username claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(stateCmd, ledgerCmd, playersCmd, adjustCmd, deleteCmd, ratesCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func runState(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx := context.Background()
	exists, err := a.repo.WorldExists(ctx, args[0])
	if err != nil {
		return err
	}
	if !exists {
		return economy.ErrPlayerNotFound
	}
	state, err := a.svc.Materialize(ctx, args[0], a.svc.Now())
	if err != nil {
		return err
	}

	titleColor := color.New(color.FgCyan, color.Bold)
	titleColor.Printf("%s (%s)\n", state.World.OwnerID, state.World.Username)

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader([]string{"Field", "Value"}))
	table.Append([]string{"Balance", strconv.FormatInt(state.Balance, 10)})
	table.Append([]string{"Stored balance", strconv.FormatInt(state.World.Resources.Balance, 10)})
	table.Append([]string{"Pending production", strconv.FormatInt(state.ProductionSinceLastMutation, 10)})
	table.Append([]string{"Production rate/s", a.svc.Rates().TotalRate(state.World.Buildings).String()})
	table.Append([]string{"Revision", strconv.FormatInt(state.Revision, 10)})
	table.Append([]string{"Last mutation", state.World.LastMutationTime.Format(time.RFC3339)})
	table.Append([]string{"Last event", state.World.LastEventID})
	table.Append([]string{"Buildings", strconv.Itoa(len(state.World.Buildings))})
	table.Append([]string{"Obstacles", strconv.Itoa(len(state.World.Obstacles))})
	table.Append([]string{"Army", formatArmy(state.World.Army)})
	table.Render()
	return nil
}

func formatArmy(army map[string]int) string {
	if len(army) == 0 {
		return "-"
	}
	names := make([]string, 0, len(army))
	for n := range army {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s×%d", n, army[n]))
	}
	return strings.Join(parts, ", ")
}

func runLedger(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	rec, err := a.svc.Ledger(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(rec.Events) == 0 {
		color.Yellow("No ledger events for %s", args[0])
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Rev", "Time", "Reason", "Delta", "Balance", "Event", "Ref"}),
	)
	for _, e := range rec.Events {
		delta := strconv.FormatInt(e.Delta, 10)
		if e.Delta > 0 {
			delta = color.GreenString("+%d", e.Delta)
		} else if e.Delta < 0 {
			delta = color.RedString("%d", e.Delta)
		}
		reasonCol := e.Reason
		if e.Voided {
			reasonCol = color.YellowString("%s (voided)", e.Reason)
		}
		table.Append([]string{
			strconv.FormatInt(e.Revision, 10),
			e.Time.Format(time.RFC3339),
			reasonCol,
			delta,
			strconv.FormatInt(e.BalanceAfter, 10),
			e.ID,
			e.RefID,
		})
	}
	table.Render()
	return nil
}

func runPlayers(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	paths, err := a.store.List(context.Background(), "players/")
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, p := range paths {
		rest := strings.TrimPrefix(p, "players/")
		id, file, ok := strings.Cut(rest, "/")
		if !ok || file != "world.json" {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runAdjust(cmd *cobra.Command, args []string) error {
	delta, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid delta %q: %w", args[1], err)
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.svc.ApplyDelta(context.Background(), economy.DeltaRequest{
		PlayerID:   args[0],
		Delta:      delta,
		Reason:     reason,
		RequestKey: requestKey,
	})
	if err != nil {
		return err
	}
	switch res.Outcome {
	case economy.OutcomeApplied:
		color.Green("Applied %s: balance %d, revision %d", res.Event.ID, res.State.Balance, res.State.Revision)
	case economy.OutcomeDuplicate:
		color.Yellow("Key %q already applied; balance %d", requestKey, res.State.Balance)
	case economy.OutcomeInsufficientFunds:
		return fmt.Errorf("%w: balance %d", economy.ErrInsufficientFunds, res.State.Balance)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if !assumeYes {
		color.Yellow("Refusing to delete %s without --yes", args[0])
		return nil
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.svc.DeletePlayerState(context.Background(), args[0]); err != nil {
		return err
	}
	color.Green("Deleted %s", args[0])
	return nil
}

func runRates(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rates, err := economy.LoadRates(cfg.RatesFile)
	if err != nil {
		return err
	}

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader([]string{"Building", "Per-level rate/s"}))
	for _, typ := range rates.Types() {
		tiers := make([]string, 0, len(rates[typ]))
		for _, r := range rates[typ] {
			tiers = append(tiers, r.String())
		}
		table.Append([]string{typ, strings.Join(tiers, " / ")})
	}
	table.Render()
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is not set")
	}
	tok, err := httpapi.IssueToken(cfg.AuthSecret, args[0], username, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
