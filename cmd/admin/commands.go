package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"training-backend/internal/core"
	"training-backend/internal/core/types"
	"training-backend/internal/database"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rollbackTo string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the schema up to date, or roll it back",
	Long: `The schema is migrated on every connection, so without flags this only
reports success. Use --rollback-to to undo migrations down to the given id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollbackTo == "" {
			color.Green("schema is up to date")
			return nil
		}
		if err := database.GetMigrator(db).RollbackTo(rollbackTo); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		color.Yellow("rolled back to migration %s", rollbackTo)
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List derived metric keys waiting for backfill",
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, err := database.ListPendingBackfills(cmd.Context(), db)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending backfills.")
			return nil
		}

		faint := color.New(color.Faint)
		for _, p := range pending {
			fmt.Printf("%s %s %s\n", faint.Sprint(p.UserId), p.Metric, p.Aggregate)
		}
		return nil
	},
}

var (
	backfillUser      string
	backfillMetric    string
	backfillAggregate string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute a derived metric for every activity of a user",
	Long: `Computes the derived value of one timeseries metric and aggregate for
every activity of the user that does not have it yet.

EXAMPLES:

  admin backfill --user <id> --metric HeartRate --aggregate Average
  admin backfill --user <id> --metric Power --aggregate WeightedAverage`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := uuid.Parse(backfillUser)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		metric, err := types.ParseTimeseriesMetric(backfillMetric)
		if err != nil {
			return err
		}
		aggregate, err := types.ParseTimeseriesAggregate(backfillAggregate)
		if err != nil {
			return err
		}

		backfiller, _, err := newBackfiller(cmd.Context())
		if err != nil {
			return err
		}

		key := types.DerivedMetricKey{Metric: metric, Aggregate: aggregate}
		n, err := backfiller.Backfill(cmd.Context(), userId, key)
		if err != nil {
			return fmt.Errorf("error backfilling %s: %w", key, err)
		}
		color.Green("computed %s for %d activities", key, n)
		return nil
	},
}

var (
	valuesUser   string
	valuesMetric string
	valuesStart  string
	valuesEnd    string
)

var valuesCmd = &cobra.Command{
	Use:   "values",
	Short: "Print the values of a stored metric",
	Long: `Evaluates a stored metric over a date range and prints one line per bucket
and group.

EXAMPLES:

  admin values --user <id> --metric-id <id> --start 2025-01-01
  admin values --user <id> --metric-id <id> --start 2025-01-01 --end 2025-03-31`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := uuid.Parse(valuesUser)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		metricId, err := uuid.Parse(valuesMetric)
		if err != nil {
			return fmt.Errorf("invalid metric id: %w", err)
		}
		start, err := time.ParseInLocation(time.DateOnly, valuesStart, time.Local)
		if err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
		end := time.Now()
		if valuesEnd != "" {
			if end, err = time.ParseInLocation(time.DateOnly, valuesEnd, time.Local); err != nil {
				return fmt.Errorf("invalid end date: %w", err)
			}
			end = end.Add(24*time.Hour - time.Nanosecond)
		}

		backfiller, store, err := newBackfiller(cmd.Context())
		if err != nil {
			return err
		}

		metricStore := core.NewMetricStore(db)
		activities := core.NewActivityService(db, store, cfg.ActivityBucket, nil)
		training := core.NewTrainingService(db, metricStore, activities, backfiller, nil)

		metric, values, err := training.MetricValues(cmd.Context(), userId, metricId, start, end)
		if err != nil {
			return err
		}

		name := metric.Definition.Source.Label()
		if metric.Name != nil {
			name = *metric.Name
		}
		bold := color.New(color.Bold)
		faint := color.New(color.Faint)
		bold.Printf("%s (%s %s, %s)\n", name, metric.Definition.Granularity, metric.Definition.Aggregate, metric.Definition.Unit())

		groups := make([]string, 0, len(values))
		for g := range values {
			groups = append(groups, g)
		}
		slices.Sort(groups)

		for _, g := range groups {
			buckets := make([]string, 0, len(values[g]))
			for b := range values[g] {
				buckets = append(buckets, b)
			}
			slices.Sort(buckets)

			for _, b := range buckets {
				fmt.Printf("%s %s %.2f\n", faint.Sprint(b), padRight(g, 16), values[g][b])
			}
		}
		return nil
	},
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func init() {
	migrateCmd.Flags().StringVar(&rollbackTo, "rollback-to", "", "migration id to roll back to")

	backfillCmd.Flags().StringVar(&backfillUser, "user", "", "user id")
	backfillCmd.Flags().StringVar(&backfillMetric, "metric", "", "timeseries metric, e.g. HeartRate")
	backfillCmd.Flags().StringVar(&backfillAggregate, "aggregate", "", "timeseries aggregate, e.g. Average")
	for _, f := range []string{"user", "metric", "aggregate"} {
		_ = backfillCmd.MarkFlagRequired(f)
	}

	valuesCmd.Flags().StringVar(&valuesUser, "user", "", "user id")
	valuesCmd.Flags().StringVar(&valuesMetric, "metric-id", "", "metric id")
	valuesCmd.Flags().StringVar(&valuesStart, "start", "", "first day, YYYY-MM-DD")
	valuesCmd.Flags().StringVar(&valuesEnd, "end", "", "last day, YYYY-MM-DD, defaults to now")
	for _, f := range []string{"user", "metric-id", "start"} {
		_ = valuesCmd.MarkFlagRequired(f)
	}
}
