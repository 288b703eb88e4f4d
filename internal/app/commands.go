package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/auth"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/checkout"
	"github.com/five82/storefront/internal/state"
)

// ErrUsage reports a bad command line.
var ErrUsage = errors.New("usage")

const usageText = `usage: storefront <command> [args]

  products [category]            list the catalog, optionally one category
  categories                     list product categories
  cart                           show the cart
  add <id> [qty]                 add a product (default qty 1)
  inc <id> | dec <id>            step a line quantity
  set <id> <qty>                 set a line quantity (0 removes)
  remove <id>                    remove a line
  clear                          empty the cart
  fav <id>                       toggle a favorite
  favorites                      list favorites
  register <name> <email> <password>
                                 create an account and sign in
  login <email> <password>       sign in and merge with the server cart
  logout                         sign out, keeping local state
  checkout <address> <city> <postal> <country>
  orders                         list your orders
  sync                           retry failed server updates once
  watch                          retry failed server updates until interrupted
  status                         show session and sync health
`

type command struct {
	args int // minimum argument count
	run  func(ctx context.Context, a *App, out io.Writer, args []string) error
}

var commands = map[string]command{
	"products":   {0, cmdProducts},
	"categories": {0, cmdCategories},
	"cart":       {0, cmdCart},
	"add":        {1, cmdAdd},
	"inc":        {1, cmdStep},
	"dec":        {1, cmdStep},
	"set":        {2, cmdSet},
	"remove":     {1, cmdRemove},
	"clear":      {0, cmdClear},
	"fav":        {1, cmdFavorite},
	"favorites":  {0, cmdFavorites},
	"register":   {3, cmdRegister},
	"login":      {2, cmdLogin},
	"logout":     {0, cmdLogout},
	"checkout":   {4, cmdCheckout},
	"orders":     {0, cmdOrders},
	"sync":       {0, cmdSync},
	"watch":      {0, cmdWatch},
	"status":     {0, cmdStatus},
}

// Execute runs one command. args[0] names the command.
func (a *App) Execute(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		fmt.Fprint(out, usageText)
		if len(args) == 0 {
			return ErrUsage
		}
		return nil
	}
	name := strings.ToLower(args[0])
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if len(args)-1 < cmd.args {
		return fmt.Errorf("%w: %s needs %d argument(s)", ErrUsage, name, cmd.args)
	}
	a.Logger.Debug("running command", zap.String("command", name))
	return cmd.run(ctx, a, out, args)
}

func cmdProducts(ctx context.Context, a *App, out io.Writer, args []string) error {
	var (
		products   []cart.Product
		categories []api.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = a.Client.FetchProducts(gctx)
		return err
	})
	if len(args) > 1 {
		g.Go(func() error {
			var err error
			categories, err = a.Client.FetchCategories(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(args) > 1 {
		cat, ok := findCategory(categories, args[1])
		if !ok {
			return fmt.Errorf("unknown category %q", args[1])
		}
		products = inCategory(products, cat)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK\tCATEGORY\tIMAGE")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Name, p.Price.StringFixed(2), p.Stock, orDash(p.Category), orDash(a.Client.ImageURL(p.Image)))
	}
	return tw.Flush()
}

func findCategory(categories []api.Category, ref string) (api.Category, bool) {
	for _, c := range categories {
		if c.Matches(ref) {
			return c, true
		}
	}
	return api.Category{}, false
}

// inCategory keeps products whose category is c, by name or by bare id.
func inCategory(products []cart.Product, c api.Category) []cart.Product {
	var out []cart.Product
	for _, p := range products {
		if p.Category != "" && c.Matches(p.Category) {
			out = append(out, p)
		}
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func cmdCategories(ctx context.Context, a *App, out io.Writer, _ []string) error {
	categories, err := a.Client.FetchCategories(ctx)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		fmt.Fprintln(out, "no categories")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.Name)
	}
	return tw.Flush()
}

func cmdCart(_ context.Context, a *App, out io.Writer, _ []string) error {
	printCart(out, a.Engine.Cart(), a.Engine.SyncStatus, a.Client.ImageURL)
	return nil
}

func printCart(out io.Writer, st cart.State, status func(state.Key) state.Status, image func(string) string) {
	if st.IsEmpty() {
		fmt.Fprintln(out, "cart is empty")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL\tSYNC\tIMAGE")
	for _, l := range st.Lines {
		sync := status(state.Key{Kind: state.KindCart, ID: l.ProductID})
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			l.ProductID, l.Name, l.Quantity, l.StockLimit,
			l.UnitPrice.StringFixed(2), l.Subtotal().StringFixed(2), sync, orDash(image(l.ImageRef)))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d item(s), total %s\n", st.ItemCount(), st.Total().StringFixed(2))
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: quantity %q must be a non-negative integer", ErrUsage, s)
	}
	return n, nil
}

func cmdAdd(ctx context.Context, a *App, out io.Writer, args []string) error {
	qty := 1
	if len(args) > 2 {
		n, err := parseQuantity(args[2])
		if err != nil {
			return err
		}
		qty = n
	}
	line, err := a.Engine.AddItemByID(ctx, args[1], qty)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d in cart\n", line.ProductID, line.Quantity)
	if !a.Engine.Cart().LastOperationSuccess {
		fmt.Fprintf(out, "limited to %d in stock\n", line.StockLimit)
	}
	return nil
}

func cmdStep(ctx context.Context, a *App, out io.Writer, args []string) error {
	var line cart.Line
	if strings.EqualFold(args[0], "inc") {
		line, _ = a.Engine.IncrementItem(ctx, args[1])
	} else {
		line, _ = a.Engine.DecrementItem(ctx, args[1])
	}
	reportLine(out, args[1], line)
	return nil
}

func cmdSet(ctx context.Context, a *App, out io.Writer, args []string) error {
	qty, err := parseQuantity(args[2])
	if err != nil {
		return err
	}
	if qty == 0 {
		return cmdRemove(ctx, a, out, args)
	}
	line, _ := a.Engine.SetQuantity(ctx, args[1], qty)
	reportLine(out, args[1], line)
	if line.ProductID != "" && line.Quantity != qty {
		fmt.Fprintf(out, "limited to %d in stock\n", line.StockLimit)
	}
	return nil
}

func reportLine(out io.Writer, id string, line cart.Line) {
	if line.ProductID == "" {
		fmt.Fprintf(out, "%s: not in cart\n", id)
		return
	}
	fmt.Fprintf(out, "%s: %d in cart\n", id, line.Quantity)
}

func cmdRemove(ctx context.Context, a *App, out io.Writer, args []string) error {
	if a.Engine.RemoveItem(ctx, args[1]) {
		fmt.Fprintf(out, "%s: removed\n", args[1])
	} else {
		fmt.Fprintf(out, "%s: not in cart\n", args[1])
	}
	return nil
}

func cmdClear(ctx context.Context, a *App, out io.Writer, _ []string) error {
	a.Engine.Clear(ctx)
	fmt.Fprintln(out, "cart cleared")
	return nil
}

func cmdFavorite(ctx context.Context, a *App, out io.Writer, args []string) error {
	member, err := a.Engine.ToggleFavorite(ctx, args[1])
	if err != nil {
		return err
	}
	if member {
		fmt.Fprintf(out, "%s: added to favorites\n", args[1])
	} else {
		fmt.Fprintf(out, "%s: removed from favorites\n", args[1])
	}
	return nil
}

func cmdFavorites(ctx context.Context, a *App, out io.Writer, _ []string) error {
	if err := a.Engine.RefreshFavorites(ctx); err != nil {
		a.Logger.Warn("favorites refresh failed, showing local list", zap.Error(err))
	}
	favs := a.Engine.Favorites()
	if len(favs) == 0 {
		fmt.Fprintln(out, "no favorites")
		return nil
	}
	for _, id := range favs {
		fmt.Fprintln(out, id)
	}
	return nil
}

func cmdRegister(ctx context.Context, a *App, out io.Writer, args []string) error {
	s, err := a.Auth.Register(ctx, args[1], args[2], args[3])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "registered and signed in as %s\n", displayName(s))
	reportMerge(out, a)
	return nil
}

func cmdLogin(ctx context.Context, a *App, out io.Writer, args []string) error {
	s, err := a.Auth.SignIn(ctx, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", displayName(s))
	reportMerge(out, a)
	return nil
}

func displayName(s auth.Session) string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

func reportMerge(out io.Writer, a *App) {
	if a.Engine.MergePending() {
		fmt.Fprintln(out, "server cart unavailable; local cart kept, run sync to merge")
	}
}

func cmdLogout(ctx context.Context, a *App, out io.Writer, _ []string) error {
	if _, ok := a.Auth.Current(); !ok {
		fmt.Fprintln(out, "not signed in")
		return nil
	}
	a.Auth.SignOut(ctx)
	fmt.Fprintln(out, "signed out")
	return nil
}

func cmdCheckout(ctx context.Context, a *App, out io.Writer, args []string) error {
	res, err := a.Checkout.Submit(ctx, checkout.ShippingAddress{
		Address:    args[1],
		City:       args[2],
		PostalCode: args[3],
		Country:    args[4],
	})
	if res.Dropped > 0 {
		fmt.Fprintf(out, "skipped %d invalid line(s)\n", res.Dropped)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "order %s placed, total %s\n", res.Order.ID, res.Draft.ComputedTotal.StringFixed(2))
	return nil
}

func cmdOrders(ctx context.Context, a *App, out io.Writer, _ []string) error {
	orders, err := a.Checkout.Orders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(out, "no orders")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tITEMS\tTOTAL\tPAID\tDELIVERED")
	for _, o := range orders {
		created := o.CreatedAt
		if len(created) > 10 {
			created = created[:10]
		}
		if created == "" {
			created = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\t%t\n",
			o.ID, created, len(o.OrderItems), o.TotalPrice.StringFixed(2), o.IsPaid, o.IsDelivered)
	}
	return tw.Flush()
}

func cmdSync(ctx context.Context, a *App, out io.Writer, _ []string) error {
	n, err := a.Engine.RetryFailed(ctx)
	a.Engine.Wait()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "re-sent %d update(s)\n", n)
	printSnapshot(out, a.Engine.SyncSnapshot())
	return nil
}

func cmdWatch(ctx context.Context, a *App, out io.Writer, _ []string) error {
	fmt.Fprintf(out, "retrying failed updates every %s, interrupt to stop\n", a.Config.RetryInterval)
	<-StartRetrier(ctx, a.Engine, a.Config.RetryInterval, a.Logger)
	printSnapshot(out, a.Engine.SyncSnapshot())
	return nil
}

func cmdStatus(_ context.Context, a *App, out io.Writer, _ []string) error {
	fmt.Fprintf(out, "mode: %s\n", a.Engine.Mode())
	if s, ok := a.Auth.Current(); ok {
		fmt.Fprintf(out, "user: %s <%s>\n", s.Name, s.Email)
	}
	fmt.Fprintf(out, "api: %s\n", a.Client.BaseURL())
	if a.Engine.MergePending() {
		fmt.Fprintln(out, "login merge: pending")
	}
	printSnapshot(out, a.Engine.SyncSnapshot())
	return printSyncCounters(out, a)
}

func printSnapshot(out io.Writer, snap state.Snapshot) {
	switch {
	case snap.IsOffline():
		fmt.Fprintf(out, "sync: offline (%d consecutive failures)\n", snap.ConsecutiveFailures)
	case len(snap.Failed) > 0:
		fmt.Fprintln(out, "sync: degraded")
	default:
		fmt.Fprintln(out, "sync: ok")
	}
	for _, k := range snap.Failed {
		fmt.Fprintf(out, "  failed: %s\n", k)
	}
	if snap.LastError != nil {
		fmt.Fprintf(out, "  last error: %v\n", snap.LastError)
	}
}

// printSyncCounters reports the remote sync counters gathered this run.
func printSyncCounters(out io.Writer, a *App) error {
	families, err := a.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var rows []string
	for _, mf := range families {
		if mf.GetName() != "storefront_remote_sync_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			rows = append(rows, fmt.Sprintf("  %s %.0f", strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Strings(rows)
	fmt.Fprintln(out, "remote calls:")
	for _, r := range rows {
		fmt.Fprintln(out, r)
	}
	return nil
}
