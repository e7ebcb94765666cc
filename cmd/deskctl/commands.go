package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/deskcache/internal/api"
	"github.com/matheus3301/deskcache/internal/config"
	"github.com/matheus3301/deskcache/internal/search"
	"github.com/matheus3301/deskcache/internal/workspace"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type options struct {
	addr    string
	json    bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "deskctl",
		Short:         "Control a running deskcached",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "daemon address (default http.addr from config)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "request timeout")

	root.AddCommand(
		newStatusCmd(opts),
		newRefreshCmd(opts),
		newThreadsCmd(opts),
		newSearchCmd(opts),
		newProxyCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
	)
	return root
}

// client resolves the daemon address: --addr, then http.addr of the config.
func (o *options) client() (*daemonClient, error) {
	addr := o.addr
	if addr == "" {
		cfg, err := config.Resolve(workspace.ConfigPath())
		if err != nil {
			return nil, err
		}
		addr = cfg.HTTP.Addr
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return newDaemonClient(addr, o.timeout), nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-collection cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			var resp api.StatusResponse
			if err := c.call(cmd.Context(), http.MethodGet, "/api/status", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				return outputJSON(out, resp)
			}

			fmt.Fprintf(out, "Status: %s\n", resp.Status)
			rows := make([][]string, 0, len(resp.Collections))
			for _, st := range resp.Collections {
				state := string(st.State)
				if st.Progress != nil {
					state = fmt.Sprintf("%s %d/%d", state, st.Progress.Done, st.Progress.Total)
				}
				rows = append(rows, []string{
					st.Name,
					strconv.Itoa(st.Count),
					formatTime(st.LastRefreshedAt),
					state,
					st.LastError,
				})
			}
			return renderTable(out, []string{"Collection", "Count", "Last refreshed", "State", "Last error"}, rows)
		},
	}
}

func newRefreshCmd(o *options) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "refresh [collection]",
		Short: "Refresh every collection, or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			path := "/api/refresh"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			q := url.Values{}
			if noWait {
				q.Set("wait", "false")
				var ack map[string]any
				if err := c.call(cmd.Context(), http.MethodPost, path, q, &ack); err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), ack)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Refresh started.")
				return nil
			}

			var resp api.RefreshResponse
			if err := c.call(cmd.Context(), http.MethodPost, path, q, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				return outputJSON(out, resp)
			}
			if resp.Result == nil {
				fmt.Fprintln(out, "Refresh finished.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Result.Collections))
			for _, cr := range resp.Result.Collections {
				outcome := "committed"
				switch {
				case cr.Attached:
					outcome = "attached"
				case !cr.Committed:
					outcome = "failed"
				}
				rows = append(rows, []string{
					cr.Collection,
					outcome,
					strconv.Itoa(cr.Count),
					strconv.Itoa(cr.Pages),
					strconv.Itoa(cr.Dropped),
					cr.Duration.Round(time.Millisecond).String(),
					cr.Error,
				})
			}
			if err := renderTable(out, []string{"Collection", "Outcome", "Count", "Pages", "Dropped", "Took", "Error"}, rows); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%d collection(s) failed", len(resp.Result.Failed()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return as soon as the refresh is started")
	return cmd
}

func newThreadsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Control conversation thread hydration",
	}

	var wait bool
	start := &cobra.Command{
		Use:   "start",
		Short: "Start hydrating conversation threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if wait {
				q.Set("wait", "true")
			}
			return o.hydration(cmd, http.MethodPost, q)
		},
	}
	start.Flags().BoolVar(&wait, "wait", false, "block until hydration finishes")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current hydration job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.hydration(cmd, http.MethodGet, nil)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running hydration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if err := c.call(cmd.Context(), http.MethodDelete, "/api/refresh/threads", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cancellation requested.")
			return nil
		},
	}

	cmd.AddCommand(start, status, cancel)
	return cmd
}

func (o *options) hydration(cmd *cobra.Command, method string, q url.Values) error {
	c, err := o.client()
	if err != nil {
		return err
	}
	var resp api.HydrationResponse
	if err := c.call(cmd.Context(), method, "/api/refresh/threads", q, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.json {
		return outputJSON(out, resp)
	}

	job := resp.Job
	state := "finished"
	if job.Running {
		state = "running"
	}
	fmt.Fprintf(out, "Job:      %s (%s)\n", job.ID, state)
	fmt.Fprintf(out, "Started:  %s\n", formatTime(&job.StartedAt))
	if resp.Progress != nil {
		fmt.Fprintf(out, "Progress: %d/%d (%d failed)\n", resp.Progress.Done, resp.Progress.Total, resp.Progress.Failed)
	}
	if r := job.Result; r != nil {
		fmt.Fprintf(out, "Result:   %d hydrated, %d failed, %d skipped of %d\n", r.Hydrated, len(r.Failed), r.Skipped, r.Candidates)
		for _, f := range r.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.ConversationID, f.Message)
		}
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}
	return nil
}

func newSearchCmd(o *options) *cobra.Command {
	var (
		email, name string
		live        bool
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search contacts by email or name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if email != "" {
				q.Set("email", email)
			}
			if name != "" {
				q.Set("name", name)
			}
			if live {
				q.Set("live", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}

			var res search.Result
			if err := c.call(cmd.Context(), http.MethodGet, "/api/contacts/search", q, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				return outputJSON(out, res)
			}
			if !res.Live && !res.Cached {
				fmt.Fprintln(out, "Contacts have not been refreshed yet.")
				return nil
			}
			rows := make([][]string, 0, len(res.Contacts))
			for _, ct := range res.Contacts {
				rows = append(rows, []string{ct.ID, ct.Name, ct.Email, ct.Role})
			}
			return renderTable(out, []string{"ID", "Name", "Email", "Role"}, rows)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to match exactly")
	cmd.Flags().StringVar(&name, "name", "", "substring of name or email")
	cmd.Flags().BoolVar(&live, "live", false, "query the support platform instead of the cache")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of contacts")
	return cmd
}

func newProxyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "proxy <path> [key=value...]",
		Short: "GET a raw support platform endpoint through the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("parameter %q is not key=value", kv)
				}
				q.Add(k, v)
			}
			q.Set("path", args[0])

			code, body, err := c.raw(cmd.Context(), "/api/proxy", q)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(body); err != nil {
				return err
			}
			if code >= 400 {
				return fmt.Errorf("HTTP %d", code)
			}
			return nil
		},
	}
}

func newHistoryCmd(o *options) *cobra.Command {
	var (
		collection string
		limit      int
		runID      string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent refresh and hydration runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if runID != "" {
				return o.failures(cmd, c, runID)
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if collection != "" {
				q.Set("collection", collection)
			}
			var resp api.HistoryResponse
			if err := c.call(cmd.Context(), http.MethodGet, "/api/refresh/history", q, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				return outputJSON(out, resp)
			}
			rows := make([][]string, 0, len(resp.Runs))
			for _, r := range resp.Runs {
				outcome := "ok"
				if !r.OK {
					outcome = "failed"
				}
				rows = append(rows, []string{
					formatTime(&r.StartedAt),
					r.Kind,
					r.Collection,
					outcome,
					strconv.Itoa(r.Count),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
					r.Error,
				})
			}
			return renderTable(out, []string{"Started", "Kind", "Collection", "Outcome", "Count", "Took", "Error"}, rows)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "only show this collection")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	cmd.Flags().StringVar(&runID, "run", "", "show the conversations a hydration run failed on")
	return cmd
}

func (o *options) failures(cmd *cobra.Command, c *daemonClient, runID string) error {
	var resp api.FailuresResponse
	if err := c.call(cmd.Context(), http.MethodGet, "/api/refresh/history/"+url.PathEscape(runID)+"/failures", nil, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.json {
		return outputJSON(out, resp)
	}
	if len(resp.Failures) == 0 {
		fmt.Fprintf(out, "No failures recorded for run %s.\n", runID)
		return nil
	}
	rows := make([][]string, 0, len(resp.Failures))
	for _, f := range resp.Failures {
		rows = append(rows, []string{f.ConversationID, f.Kind, f.Error})
	}
	return renderTable(out, []string{"Conversation", "Kind", "Error"}, rows)
}

func newResetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if err := c.call(cmd.Context(), http.MethodPost, "/api/cache/reset", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache reset.")
			return nil
		},
	}
}

// run executes the root command and returns its error.
func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}
