package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"smartwaste.org/internal/analytics"
	"smartwaste.org/internal/api"
	"smartwaste.org/internal/dashboard"
	"smartwaste.org/internal/requests"
	"smartwaste.org/internal/rewards"
)

const dateTime = "2006-01-02 15:04"

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func when(t api.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printView(w io.Writer, v dashboard.View) {
	who := v.Who()
	fmt.Fprintf(w, "%s (%s)\n", who.Name, v.Role())
	if d := v.Degraded(); len(d) > 0 {
		fmt.Fprintf(w, "unavailable: %s\n", strings.Join(d, ", "))
	}
	fmt.Fprintln(w)

	switch v := v.(type) {
	case *dashboard.UserView:
		fmt.Fprintf(w, "points %d  requests %d  collected %d\n", v.Points, v.Total, v.Collected)
		if v.EcoScore != nil {
			fmt.Fprintf(w, "eco score %d/100\n", v.EcoScore.EcoScore)
		}
		fmt.Fprintln(w)
		printRows(w, v.Requests)
		if len(v.Complaints) > 0 {
			printComplaints(w, v.Complaints)
		}
		printCatalog(w, v.Catalog, v.Points)
		printTransactions(w, v.Transactions)
	case *dashboard.CollectorView:
		fmt.Fprintf(w, "pending %d  in progress %d  completed %d\n\n", v.Pending, v.InProgress, v.Completed)
		printRows(w, v.Requests)
	case *dashboard.AdminView:
		printSummary(w, v.Summary)
		tw := table(w)
		fmt.Fprintln(tw, "ID\tUSER\tZONE\tTYPE\tKG\tSTATUS\tCOLLECTOR\tCREATED\tFLAGS")
		for _, r := range v.Requests {
			flags := ""
			if r.Delayed {
				flags = "delayed"
			}
			collector := string(r.Assignment)
			if r.Request.CollectorName != "" {
				collector = r.Request.CollectorName
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n", r.Request.ID, orDash(r.Request.UserName),
				orDash(r.Request.ZoneName), r.Request.Category, r.Request.WeightKg, r.Request.Status,
				collector, when(r.Request.CreatedAt), flags)
		}
		tw.Flush()
		fmt.Fprintln(w)
		printCollectors(w, v.Collectors)
		if len(v.Complaints) > 0 {
			printComplaints(w, v.Complaints)
		}
		if len(v.Redemptions) > 0 {
			printRedemptions(w, v.Redemptions)
		}
		if v.Analytics != nil {
			printAnalytics(w, *v.Analytics)
		}
	}
}

func printRows(w io.Writer, rows []dashboard.Row) {
	tw := table(w)
	fmt.Fprintln(tw, "ID\tZONE\tTYPE\tKG\tSTATUS\tPOINTS\tCREATED\tFLAGS\tNEXT")
	for _, r := range rows {
		var flags []string
		if r.Delayed {
			flags = append(flags, "delayed")
		}
		if r.CanComplain {
			flags = append(flags, "can-complain")
		}
		next := make([]string, 0, len(r.Next))
		for _, s := range r.Next {
			next = append(next, string(s))
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.2f\t%s\t%d\t%s\t%s\t%s\n", r.Request.ID, r.Request.ZoneID, r.Request.Category,
			r.Request.WeightKg, r.Request.Status, r.Request.EarnedPoints(), when(r.Request.CreatedAt),
			orDash(strings.Join(flags, ",")), orDash(strings.Join(next, ",")))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printRequests(w io.Writer, rs []api.PickupRequest, now time.Time) {
	rows := make([]dashboard.Row, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, dashboard.Row{Request: r, Delayed: requests.IsDelayed(r, now), Next: requests.NextActions(r)})
	}
	printRows(w, rows)
}

func printSummary(w io.Writer, s requests.Summary) {
	fmt.Fprintf(w, "total %d  pending %d  in progress %d  collected %d  rejected %d  unassigned %d  delayed %d\n\n",
		s.Total, s.Pending, s.InProgress, s.Collected, s.Rejected, s.Unassigned, s.Delayed)
}

func printComplaints(w io.Writer, cs []api.Complaint) {
	tw := table(w)
	fmt.Fprintln(tw, "COMPLAINT\tREQUEST\tUSER\tSTATUS\tCREATED\tMESSAGE")
	for _, c := range cs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", c.ID, c.RequestID, orDash(c.UserName), c.Status, when(c.CreatedAt), c.Message)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printCatalog(w io.Writer, rs []api.Reward, points int) {
	tw := table(w)
	fmt.Fprintln(tw, "REWARD\tNAME\tPOINTS\tAFFORDABLE")
	for _, r := range rs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\n", r.ID, r.Name, r.PointsRequired, rewards.CanAfford(points, r))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printTransactions(w io.Writer, ts []api.Transaction) {
	tw := table(w)
	fmt.Fprintln(tw, "TX\tTYPE\tDELTA\tWHEN\tDESCRIPTION")
	for _, t := range ts {
		fmt.Fprintf(tw, "%d\t%s\t%+d\t%s\t%s\n", t.ID, t.Type, t.Delta(), when(t.CreatedAt), t.Description)
	}
	tw.Flush()
	fmt.Fprintf(w, "earned %d\n\n", rewards.Earned(ts))
}

func printRedemptions(w io.Writer, rs []api.Redemption) {
	tw := table(w)
	fmt.Fprintln(tw, "REDEMPTION\tREWARD\tUSER\tPOINTS\tSTATUS\tREQUESTED\tFULFILLED")
	for _, r := range rs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.RewardName, orDash(r.UserName), r.PointsUsed, r.Status, when(r.CreatedAt), when(r.FulfilledAt))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printCollectors(w io.Writer, cs []api.Collector) {
	tw := table(w)
	fmt.Fprintln(tw, "COLLECTOR\tNAME\tEMAIL\tZONE\tVEHICLE\tACTIVE")
	for _, c := range cs {
		zone := "-"
		if c.Zone != nil {
			zone = c.Zone.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", c.ID, c.Name, c.Email, zone, orDash(c.VehicleNumber), c.Active)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printZones(w io.Writer, zs []api.Zone) {
	tw := table(w)
	fmt.Fprintln(tw, "ZONE\tNAME\tCITY")
	for _, z := range zs {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", z.ID, z.Name, orDash(z.City))
	}
	tw.Flush()
}

func printAnalytics(w io.Writer, s analytics.Snapshot) {
	o := s.Overview
	fmt.Fprintf(w, "collected %s  requests %d  users %d  collectors %d  avg eco %.1f  prediction accuracy %s\n\n",
		analytics.FormatKg(o.TotalWasteCollected), o.TotalRequests, o.TotalUsers, o.TotalCollectors,
		o.AverageEcoScore, analytics.FormatPercent(o.PredictionAccuracy))

	tw := table(w)
	fmt.Fprintln(tw, "ZONE\tWASTE\tREQUESTS\tAVG")
	for _, z := range s.ByZone {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", z.ZoneName, analytics.FormatKg(z.TotalWasteKg), z.RequestCount, analytics.FormatKg(z.AverageWeight))
	}
	tw.Flush()
	fmt.Fprintln(w)

	tw = table(w)
	fmt.Fprintln(tw, "TYPE\tWASTE\tREQUESTS\tSHARE")
	for _, c := range s.ByType {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Category, analytics.FormatKg(c.TotalWasteKg), c.RequestCount, analytics.FormatPercent(c.Percentage))
	}
	tw.Flush()
	fmt.Fprintln(w)

	if len(s.Predictions) > 0 {
		tw = table(w)
		fmt.Fprintln(tw, "DATE\tZONE\tPREDICTED\tACTUAL\tACCURACY")
		for _, p := range s.Predictions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Date, p.ZoneName, analytics.FormatKg(p.PredictedWasteKg),
				analytics.FormatKg(p.ActualWasteKg), analytics.FormatPercent(p.AccuracyPercentage))
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	tw = table(w)
	fmt.Fprintln(tw, "COLLECTOR\tZONE\tCOLLECTIONS\tWASTE\tPENDING\tCOMPLETION")
	for _, c := range s.Collectors {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", c.CollectorName, c.ZoneName, c.TotalCollections,
			analytics.FormatKg(c.TotalWasteCollectedKg), c.PendingRequests, analytics.FormatPercent(c.CompletionRate))
	}
	tw.Flush()
	fmt.Fprintln(w)

	tw = table(w)
	fmt.Fprintln(tw, "USER\tECO\tREQUESTS\tWASTE")
	for _, u := range s.TopUsers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", u.UserName, u.EcoScore, u.TotalRequests, analytics.FormatKg(u.TotalWasteKg))
	}
	tw.Flush()
}

func printTable(w io.Writer, t analytics.Table) {
	tw := table(w)
	fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func printEcoScore(w io.Writer, s api.EcoScore) {
	fmt.Fprintf(w, "user %d: eco score %d/100\n", s.UserID, s.EcoScore)
	b := api.EcoBreakdown{ActivityScore: s.ActivityScore, SegregationScore: s.SegregationScore, FrequencyScore: s.FrequencyScore, WeightScore: s.WeightScore}
	if s.Breakdown != nil {
		b = *s.Breakdown
	}
	fmt.Fprintf(w, "  activity %.1f  segregation %.1f  frequency %d  weight %d\n", b.ActivityScore, b.SegregationScore, b.FrequencyScore, b.WeightScore)
}

func printPredictions(w io.Writer, ps []api.Prediction) {
	tw := table(w)
	fmt.Fprintln(tw, "PREDICTION\tZONE\tPREDICTED\tHISTORICAL\tDATE")
	for _, p := range ps {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", p.ID, p.ZoneID, analytics.FormatKg(p.PredictedWasteKg), analytics.FormatKg(p.HistoricalWasteKg), when(p.PredictionDate))
	}
	tw.Flush()
}
