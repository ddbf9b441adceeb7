package ui

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/round"
)

// EmptyLeaderboard is rendered when there are no completed sessions.
const EmptyLeaderboard = "No entries yet"

// LeaderboardSource fetches ranked entries.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardEntry, error)
}

// LeaderboardView renders the leaderboard. Entries are fetched on every render
// and never cached.
type LeaderboardView struct {
	src   LeaderboardSource
	limit int
}

func NewLeaderboardView(src LeaderboardSource, limit int) *LeaderboardView {
	return &LeaderboardView{src: src, limit: limit}
}

// Render fetches and writes the table to w. A failed fetch writes nothing.
func (v *LeaderboardView) Render(ctx context.Context, w io.Writer) error {
	entries, err := v.src.Leaderboard(ctx, v.limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, EmptyLeaderboard)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tSCORE\tCOMPLETED")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, e.Username, e.TotalScore, e.CompletedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// RenderSummary writes the final score and per-round breakdown of a
// completed session.
func RenderSummary(w io.Writer, s round.Summary) error {
	fmt.Fprintf(w, "Final score: %d\n", s.Session.TotalScore)
	if len(s.Rounds) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tDISTANCE\tSCORE")
	for _, r := range s.Rounds {
		dist := "-"
		if r.DistanceKm != nil {
			dist = FormatDistance(*r.DistanceKm)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\n", r.RoundNumber, dist, r.Score)
	}
	return tw.Flush()
}

// FormatDistance prints metres below one kilometre and kilometres above.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%.0f m", km*1000)
	}
	return fmt.Sprintf("%.1f km", km)
}
