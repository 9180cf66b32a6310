package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/songmopx/planeveryday.org/internal/task"
)

func addCmd(a *app) *cobra.Command {
	var (
		kind, dimension, start, end, on string
		target                          float64
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a daily or single task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := task.TaskSpec{
				Name:          strings.Join(args, " "),
				Kind:          task.Kind(kind),
				Dimension:     task.Dimension(dimension),
				StartDate:     optionalDate(start),
				EndDate:       optionalDate(end),
				ScheduledDate: optionalDate(on),
			}
			if cmd.Flags().Changed("target") {
				spec.TargetValue = &target
			}
			created, err := a.tr.CreateTask(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.print(created, func(w io.Writer) {
				fmt.Fprintf(w, "created %s task %s (%s)\n", created.Kind(), created.Name, created.ID)
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(task.KindDaily), "Task kind (daily, single)")
	cmd.Flags().StringVarP(&dimension, "dimension", "d", "", "Measurement (simple, count, time)")
	cmd.Flags().Float64VarP(&target, "target", "t", 0, "Target value per occurrence")
	cmd.Flags().StringVar(&start, "start", "", "First day of a daily task (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day of a daily task (YYYY-MM-DD)")
	cmd.Flags().StringVar(&on, "on", "", "Date of a single task (YYYY-MM-DD)")

	return cmd
}

func quickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quick [name]",
		Short: "Add a single task for today",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := a.tr.QuickAdd(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.print(created, func(w io.Writer) {
				fmt.Fprintf(w, "added %s for today (%s)\n", created.Name, created.ID)
			})
		},
	}
}

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List daily and single tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			daily, single := a.tr.Tasks()
			body := struct {
				Daily  []task.Task `json:"daily"`
				Single []task.Task `json:"single"`
			}{Daily: nonNil(daily), Single: nonNil(single)}

			return a.print(body, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tNAME\tTARGET\tSCHEDULE")
				for _, t := range append(daily, single...) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Kind(), t.Name, formatTarget(t), describeSchedule(t))
				}
				_ = tw.Flush()
			})
		},
	}
}

func doneCmd(a *app) *cobra.Command {
	var (
		date, note string
		value      float64
	)
	cmd := &cobra.Command{
		Use:   "done [task-id]",
		Short: "Record a completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := task.CompletionInput{TaskID: args[0], Date: optionalDate(date), Note: note}
			if cmd.Flags().Changed("value") {
				in.ActualValue = &value
			}
			r, err := a.tr.RecordCompletion(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "completed %s on %s (record %s)\n", r.TaskName, r.Date, r.ID)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date the completion counts for (default today)")
	cmd.Flags().Float64Var(&value, "value", 0, "Actual value (default the task target)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")

	return cmd
}

func undoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo [record-id]",
		Short: "Delete a completion record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.tr.DeleteCompletionRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "removed completion of %s on %s\n", r.TaskName, r.Date)
			})
		},
	}
}

func rmCmd(a *app) *cobra.Command {
	var permanent bool
	cmd := &cobra.Command{
		Use:   "rm [task-id]",
		Short: "Delete a task and its completion records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.tr.Task(args[0])
			if err != nil {
				return err
			}
			res, _, err := a.tr.DeleteTask(cmd.Context(), t.ID, t.Kind(), permanent)
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s and %d completion records\n", res.Task.Name, len(res.Records))
			})
		},
	}

	cmd.Flags().BoolVarP(&permanent, "permanent", "p", false, "Required for daily tasks")

	return cmd
}

func agendaCmd(a *app) *cobra.Command {
	var from, to string
	var days int
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Show occurrences day by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := task.Date(from)
			if start == "" {
				start = a.tr.Calendar().Today()
			}
			end := task.Date(to)
			if end == "" && start.Valid() {
				end = start.AddDays(days - 1)
			}
			proj, window, err := a.tr.Occurrences(start, end)
			if err != nil {
				return err
			}

			dates := make([]task.Date, 0, len(proj))
			for d := range proj {
				dates = append(dates, d)
			}
			sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

			return a.print(proj, func(w io.Writer) {
				fmt.Fprintf(w, "%s .. %s\n", window.From, window.To)
				for _, d := range dates {
					fmt.Fprintf(w, "\n%s %s\n", d, d.Weekday().String()[:3])
					for _, o := range proj[d] {
						mark := " "
						if o.Completed {
							mark = "x"
						}
						fmt.Fprintf(w, "  [%s] %s\n", mark, o.Task.Name)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First date (default today)")
	cmd.Flags().StringVar(&to, "to", "", "Last date (default from + days - 1)")
	cmd.Flags().IntVarP(&days, "days", "n", 7, "Number of days when --to is not set")

	return cmd
}

func statsCmd(a *app) *cobra.Command {
	var trendDays int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := a.tr.Statistics()
			timer := a.tr.Timer()

			if trendDays > 0 {
				trend := a.tr.Trend(trendDays)
				return a.print(trend, func(w io.Writer) {
					for _, p := range trend {
						fmt.Fprintf(w, "%s %s\n", p.Date, strings.Repeat("#", p.Count))
					}
				})
			}

			return a.print(st, func(w io.Writer) {
				fmt.Fprintf(w, "Completed:   %d\n", st.TotalCompleted)
				fmt.Fprintf(w, "Streak:      %d days\n", st.StreakDays)
				fmt.Fprintf(w, "This week:   %d%%\n", st.WeeklyCompletionRate)
				fmt.Fprintf(w, "Timer:       %s\n", timer.Display)

				if len(st.PerTaskStats) == 0 {
					return
				}
				ids := make([]string, 0, len(st.PerTaskStats))
				for id := range st.PerTaskStats {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				fmt.Fprintln(w)
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TASK\tDAYS\tTOTAL")
				for _, id := range ids {
					ts := st.PerTaskStats[id]
					fmt.Fprintf(tw, "%s\t%d\t%g %s\n", ts.TaskName, ts.CompletedDayCount, ts.CumulativeValue, ts.Dimension.Unit())
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&trendDays, "trend", 0, "Print completions per day for the last N days instead")

	return cmd
}

func reclassifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify",
		Short: "Move misfiled tasks into the collection matching their kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			moved := a.tr.Reclassify(cmd.Context())
			return a.print(map[string]int{"moved": moved}, func(w io.Writer) {
				fmt.Fprintf(w, "moved %d tasks\n", moved)
			})
		},
	}
}

func exportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print every stored document as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := a.tr.Export()
			if err != nil {
				return err
			}
			out := make(map[string]json.RawMessage, len(docs))
			for k, v := range docs {
				out[string(k)] = v
			}
			a.asJSON = true
			return a.print(out, nil)
		},
	}
}

func namespacesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List the partitions stored in the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			namespaces, err := a.store.Namespaces(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(namespaces))
			for _, ns := range namespaces {
				names = append(names, ns.String())
			}
			return a.print(names, func(w io.Writer) {
				for _, name := range names {
					fmt.Fprintln(w, name)
				}
			})
		},
	}
}

func optionalDate(s string) *task.Date {
	if s == "" {
		return nil
	}
	d := task.Date(s)
	return &d
}

func formatTarget(t task.Task) string {
	if t.Dimension == task.DimensionSimple {
		return "-"
	}
	return fmt.Sprintf("%g %s", t.TargetValue, t.Unit())
}

func describeSchedule(t task.Task) string {
	switch s := t.Schedule.(type) {
	case task.DailySchedule:
		if s.End == nil {
			return "from " + s.Start.String()
		}
		return s.Start.String() + " .. " + s.End.String()
	case task.SingleSchedule:
		return "on " + s.On.String()
	default:
		return ""
	}
}

func nonNil(tasks []task.Task) []task.Task {
	if tasks == nil {
		return []task.Task{}
	}
	return tasks
}
