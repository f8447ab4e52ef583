package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smartwaste.org/internal/analytics"
	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/dashboard"
	"smartwaste.org/internal/requests"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// sub splits "requests list -x" into the verb and its flags.
func sub(args []string, verbs ...string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing subcommand; one of %s", strings.Join(verbs, ", "))
	}
	for _, v := range verbs {
		if args[0] == v {
			return v, args[1:], nil
		}
	}
	return "", nil, fmt.Errorf("unknown subcommand %q; one of %s", args[0], strings.Join(verbs, ", "))
}

func readAttachment(path string) (*api.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &api.Attachment{Name: filepath.Base(path), Data: data}, nil
}

func period(start, end string) (analytics.Period, error) {
	return analytics.ParsePeriod(start, end)
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("SMARTWASTE_PASSWORD"), "password (or SMARTWASTE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("-email and -password are required")
	}
	res := a.session.Login(ctx, *email, *password)
	if !res.OK {
		return errors.New(res.Message)
	}
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", res.Identity.Name, res.Identity.Role)
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if _, err := a.session.Restore(ctx); err != nil {
		return err
	}
	a.session.Logout(ctx)
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	snap := a.session.Snapshot()
	fmt.Fprintf(a.out, "%s <%s>\nrole:    %s\nuser id: %d\npoints:  %d\nexpires: %s\n",
		id.Name, id.Email, id.Role, id.UserID, id.Points, snap.ExpiresAt.Format("2006-01-02 15:04"))
	return nil
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password")
	role := fs.String("role", string(auth.RoleUser), "USER or COLLECTOR")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		return err
	}
	resp, err := a.session.Register(ctx, *name, *email, *password, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (user id %d)\n", resp.Message, resp.UserID)
	return nil
}

func runDashboard(ctx context.Context, a *app, args []string) error {
	fs := newFlags("dashboard")
	start := fs.String("start", "", "analytics start date (YYYY-MM-DD)")
	end := fs.String("end", "", "analytics end date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := period(*start, *end)
	if err != nil {
		return err
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	a.dash = dashboard.New(a.client, a.session, dashboard.WithNotifier(a.notifier), dashboard.WithPeriod(p))
	v, err := a.dash.Load(ctx)
	if err != nil {
		return err
	}
	printView(a.out, v)
	return nil
}

func parseScope(raw string) (requests.Scope, error) {
	switch raw {
	case "mine":
		return requests.ScopeMine, nil
	case "assigned":
		return requests.ScopeAssigned, nil
	case "all":
		return requests.ScopeAll, nil
	}
	return 0, fmt.Errorf("unknown scope %q (mine, assigned, all)", raw)
}

func defaultScope(role auth.Role) string {
	switch role {
	case auth.RoleCollector:
		return "assigned"
	case auth.RoleAdmin:
		return "all"
	}
	return "mine"
}

func runRequests(ctx context.Context, a *app, args []string) error {
	verb, rest, err := sub(args, "list", "create", "advance", "assign", "delayed")
	if err != nil {
		return err
	}
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	fs := newFlags("requests " + verb)
	switch verb {
	case "list":
		scope := fs.String("scope", defaultScope(id.Role), "mine, assigned or all")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		sc, err := parseScope(*scope)
		if err != nil {
			return err
		}
		store := a.dash.Requests(sc)
		if err := store.Refresh(ctx); err != nil {
			return err
		}
		printRequests(a.out, store.Snapshot(), time.Now())
		printSummary(a.out, store.Summary())
		return nil

	case "create":
		zone := fs.Int64("zone", 0, "zone id")
		kind := fs.String("type", "", "waste type ("+categoryList()+")")
		weight := fs.Float64("weight", -1, "weight in kg")
		address := fs.String("address", "", "pickup address")
		image := fs.String("image", "", "optional photo path")
		user := fs.Int64("user", 0, "owner user id (admin only)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		c, err := api.ParseCategory(*kind)
		if err != nil {
			return err
		}
		att, err := readAttachment(*image)
		if err != nil {
			return err
		}
		draft := requests.Draft{UserID: *user, ZoneID: *zone, Category: c, Address: *address, Image: att}
		if *weight >= 0 {
			draft.WeightKg = weight
		}
		r, err := a.dash.Submit(ctx, draft)
		if err != nil {
			return err
		}
		printRequests(a.out, []api.PickupRequest{r}, time.Now())
		return nil

	case "advance":
		reqID := fs.Int64("id", 0, "request id")
		status := fs.String("status", "", "IN_PROGRESS, COLLECTED or REJECTED")
		proof := fs.String("proof", "", "optional proof photo path")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		att, err := readAttachment(*proof)
		if err != nil {
			return err
		}
		r, err := a.dash.Advance(ctx, *reqID, api.Status(strings.ToUpper(*status)), att)
		if err != nil {
			return err
		}
		printRequests(a.out, []api.PickupRequest{r}, time.Now())
		return nil

	case "assign":
		reqID := fs.Int64("id", 0, "request id")
		collector := fs.Int64("collector", 0, "collector id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		a.dash.Select(*reqID, *collector)
		r, err := a.dash.Assign(ctx, *reqID)
		if err != nil {
			return err
		}
		printRequests(a.out, []api.PickupRequest{r}, time.Now())
		return nil
	}

	if err := fs.Parse(rest); err != nil {
		return err
	}
	rs, err := a.client.AdminDelayedRequests(ctx)
	if err != nil {
		return err
	}
	printRequests(a.out, rs, time.Now())
	return nil
}

func runComplaints(ctx context.Context, a *app, args []string) error {
	verb, rest, err := sub(args, "list", "raise")
	if err != nil {
		return err
	}
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	fs := newFlags("complaints " + verb)
	if verb == "list" {
		if err := fs.Parse(rest); err != nil {
			return err
		}
		book := a.dash.Complaints()
		if id.Role == auth.RoleAdmin {
			book = requests.NewComplaintBook(a.client, true)
		}
		if err := book.Refresh(ctx); err != nil {
			return err
		}
		printComplaints(a.out, book.Snapshot())
		return nil
	}

	reqID := fs.Int64("id", 0, "request id")
	message := fs.String("message", "", "complaint text")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if err := a.dash.Requests(requests.ScopeMine).Refresh(ctx); err != nil {
		return err
	}
	if err := a.dash.Complaints().Refresh(ctx); err != nil {
		return err
	}
	c, err := a.dash.RaiseComplaint(ctx, *reqID, *message)
	if err != nil {
		return err
	}
	printComplaints(a.out, []api.Complaint{c})
	return nil
}

func runRewards(ctx context.Context, a *app, args []string) error {
	verb, rest, err := sub(args, "catalog", "redeem", "history", "redemptions", "fulfill")
	if err != nil {
		return err
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	fs := newFlags("rewards " + verb)
	var id *int64
	if verb == "redeem" || verb == "fulfill" {
		id = fs.Int64("id", 0, "reward or redemption id")
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}
	ledger := a.dash.Ledger()

	switch verb {
	case "catalog":
		if err := ledger.RefreshCatalog(ctx); err != nil {
			return err
		}
		who, _ := a.session.Identity()
		printCatalog(a.out, ledger.Catalog(), who.Points)
	case "redeem":
		if _, err := a.session.FetchProfile(ctx); err != nil {
			return err
		}
		res, err := a.dash.Redeem(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "redemption #%d: %s (%d points), balance %d\n", res.RedemptionID, res.RewardName, res.PointsUsed, res.UpdatedPoints)
	case "history":
		if err := ledger.RefreshTransactions(ctx); err != nil {
			return err
		}
		if err := ledger.RefreshRedemptions(ctx); err != nil {
			return err
		}
		printTransactions(a.out, ledger.Transactions())
		printRedemptions(a.out, ledger.Redemptions())
	case "redemptions":
		if err := ledger.RefreshAllRedemptions(ctx); err != nil {
			return err
		}
		printRedemptions(a.out, ledger.AllRedemptions())
	case "fulfill":
		r, err := a.dash.Fulfill(ctx, *id)
		if err != nil {
			return err
		}
		printRedemptions(a.out, []api.Redemption{r})
	}
	return nil
}

func runCollectors(ctx context.Context, a *app, args []string) error {
	verb, rest, err := sub(args, "list", "add", "zones")
	if err != nil {
		return err
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	fs := newFlags("collectors " + verb)
	switch verb {
	case "add":
		var in api.NewCollector
		fs.StringVar(&in.Name, "name", "", "collector name")
		fs.StringVar(&in.Email, "email", "", "login email")
		fs.StringVar(&in.Password, "password", "", "initial password")
		fs.StringVar(&in.Contact, "contact", "", "phone number")
		fs.StringVar(&in.VehicleNumber, "vehicle", "", "vehicle number")
		zone := fs.Int64("zone", 0, "zone id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *zone > 0 {
			in.ZoneID = zone
		}
		c, err := a.dash.AddCollector(ctx, in)
		if err != nil {
			return err
		}
		printCollectors(a.out, []api.Collector{c})
		return nil
	case "zones":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		zones, err := a.client.AdminZones(ctx)
		if err != nil {
			return err
		}
		printZones(a.out, zones)
		return nil
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}
	cs, err := a.client.AdminCollectors(ctx)
	if err != nil {
		return err
	}
	printCollectors(a.out, cs)
	return nil
}

func runAnalytics(ctx context.Context, a *app, args []string) error {
	fs := newFlags("analytics")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	zone := fs.Int64("zone", 0, "zone for prediction vs actual")
	top := fs.Int("top", 10, "number of top eco users")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := period(*start, *end)
	if err != nil {
		return err
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	snap, err := a.dash.Analytics().Load(ctx, p, *zone, *top)
	if err != nil {
		return err
	}
	printAnalytics(a.out, snap)
	return nil
}

func runReports(ctx context.Context, a *app, args []string) error {
	fs := newFlags("reports")
	kind := fs.String("kind", string(api.ReportWaste), "waste, users or collectors")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	zone := fs.Int64("zone", 0, "zone filter (waste report)")
	wasteType := fs.String("type", "", "waste type filter (waste report)")
	out := fs.String("out", "", "save the CSV to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	k, err := api.ParseReportKind(*kind)
	if err != nil {
		return err
	}
	p, err := period(*start, *end)
	if err != nil {
		return err
	}
	var c api.Category
	if *wasteType != "" {
		if c, err = api.ParseCategory(*wasteType); err != nil {
			return err
		}
	}
	if _, err := a.restore(ctx); err != nil {
		return err
	}
	table, raw, err := a.dash.Analytics().Report(ctx, k, p, *zone, c)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, raw, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %d rows to %s\n", len(table.Rows), *out)
		return nil
	}
	printTable(a.out, table)
	return nil
}

func runML(ctx context.Context, a *app, args []string) error {
	verb, rest, err := sub(args, "predict", "classify", "score", "zone")
	if err != nil {
		return err
	}
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	advisor := a.dash.Advisor()
	fs := newFlags("ml " + verb)
	switch verb {
	case "predict":
		var in api.PredictionInput
		fs.Int64Var(&in.ZoneID, "zone", 0, "zone id")
		fs.Float64Var(&in.HistoricalWaste, "historical", 0, "historical waste in kg")
		day := fs.Int("day", 0, "ISO day of week 1-7 (default today)")
		month := fs.Int("month", 0, "month 1-12 (default this month)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *day > 0 {
			in.DayOfWeek = day
		}
		if *month > 0 {
			in.Month = month
		}
		p, ok := advisor.PredictWaste(ctx, in)
		if !ok {
			return errMLOffline
		}
		fmt.Fprintf(a.out, "zone %d: predicted %s\n", p.ZoneID, analytics.FormatKg(p.PredictedWasteKg))
	case "classify":
		description := fs.String("description", "", "free-text description of the waste")
		reqID := fs.Int64("request", 0, "store the result against this request")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		c, ok := advisor.Classify(ctx, *reqID, *description)
		if !ok {
			return errMLOffline
		}
		fmt.Fprintf(a.out, "%s (confidence %.0f%%)\n", c.WasteType, c.Confidence*100)
	case "score":
		user := fs.Int64("user", id.UserID, "user id")
		recalc := fs.Bool("recalculate", false, "recompute from request history")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		get := advisor.EcoScore
		if *recalc {
			get = advisor.RecalculateEcoScore
		}
		s, ok := get(ctx, *user)
		if !ok {
			return errMLOffline
		}
		printEcoScore(a.out, s)
	case "zone":
		zone := fs.Int64("zone", 0, "zone id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		ps, ok := advisor.ZonePredictions(ctx, *zone)
		if !ok {
			return errMLOffline
		}
		printPredictions(a.out, ps)
	}
	return nil
}

var errMLOffline = errors.New("ML advisory service is unavailable; core features are unaffected")

func categoryList() string {
	names := make([]string, 0, len(api.Categories))
	for _, c := range api.Categories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
