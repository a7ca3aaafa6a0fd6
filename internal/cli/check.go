package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/mutacheck/internal/allowlist"
	"github.com/sprite-ai/mutacheck/internal/analysis"
	"github.com/sprite-ai/mutacheck/internal/config"
	"github.com/sprite-ai/mutacheck/internal/diff"
	"github.com/sprite-ai/mutacheck/internal/model"
	"github.com/sprite-ai/mutacheck/internal/provider"
	"github.com/sprite-ai/mutacheck/internal/provider/javasrc"
)

type checkOptions struct {
	sources     []string
	descriptors []string
	allowList   string
	skip        []string
	format      string
	failOn      string
	concurrency int
	diffFile    string
	changed     string
}

func newCheckCmd(g *globals) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [CLASS...]",
		Short: "Analyze classes and report their immutability verdicts",
		Long: `Analyze the named classes, or every class found under --source and
--descriptors when none are named, and print a verdict with reasons for each.

With --diff or --changed only the classes declared in Java files touched by
the change are analyzed.

Exit codes:
  0  no verdict is at or below --fail-on
  1  at least one verdict is at or below --fail-on
  2  usage or configuration error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.merge(cmd, g.cfg)
			return runCheck(cmd, g.logger, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.sources, "source", "s", nil, "Java source root, repeatable")
	f.StringSliceVarP(&opts.descriptors, "descriptors", "d", nil, "directory of YAML class descriptors, repeatable")
	f.StringVar(&opts.allowList, "allowlist", "", "allow-list file layered over the built-in table")
	f.StringSliceVar(&opts.skip, "skip", nil, "checkers to skip (see 'mutacheck checkers')")
	f.StringVarP(&opts.format, "format", "f", "", "output format: text, json")
	f.StringVar(&opts.failOn, "fail-on", "", "fail when any verdict is at or below this one")
	f.IntVar(&opts.concurrency, "concurrency", 0, "classes analyzed in parallel (default: number of CPUs)")
	f.StringVar(&opts.diffFile, "diff", "", "only check classes in Java files changed by this unified diff (- for stdin)")
	f.StringVar(&opts.changed, "changed", "", "only check classes in Java files changed in a git range, e.g. main...HEAD")
	cmd.MarkFlagsMutuallyExclusive("diff", "changed")
	return cmd
}

// merge fills options not given on the command line from the config file.
func (o *checkOptions) merge(cmd *cobra.Command, cfg *config.Config) {
	if cfg == nil {
		cfg = config.Default()
	}
	flags := cmd.Flags()
	if !flags.Changed("source") {
		o.sources = cfg.Sources
	}
	if !flags.Changed("descriptors") {
		o.descriptors = cfg.Descriptors
	}
	if !flags.Changed("allowlist") {
		o.allowList = cfg.AllowList
	}
	if !flags.Changed("skip") {
		o.skip = cfg.Skip
	}
	if !flags.Changed("format") {
		o.format = cfg.Format
	}
	if !flags.Changed("fail-on") {
		o.failOn = cfg.FailOn
	}
	if !flags.Changed("concurrency") {
		o.concurrency = cfg.Concurrency
	}
}

// named is a provider that can list the classes it declares.
type named interface {
	provider.Provider
	Names() []string
}

func runCheck(cmd *cobra.Command, logger *slog.Logger, opts *checkOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if opts.format != "text" && opts.format != "json" {
		return usageError("unknown format %q (want text or json)", opts.format)
	}
	failOn, err := model.ParseVerdict(opts.failOn)
	if err != nil {
		return usageError("--fail-on: %v", err)
	}
	checkers, err := analysis.Select(opts.skip)
	if err != nil {
		return usageError("--skip: %v", err)
	}

	table := allowlist.Default()
	if opts.allowList != "" {
		extra, err := allowlist.LoadFile(opts.allowList)
		if err != nil {
			return usageError("%v", err)
		}
		table = table.Merge(extra)
	}

	changedOnly := opts.diffFile != "" || opts.changed != ""
	if changedOnly && len(args) > 0 {
		return usageError("class names cannot be combined with --diff or --changed")
	}
	if changedOnly && len(opts.sources) == 0 {
		return usageError("--diff and --changed need --source")
	}

	var sources []named
	var src *javasrc.Provider
	if len(opts.sources) > 0 {
		src, err = javasrc.Load(ctx, opts.sources,
			javasrc.WithLogger(logger),
			javasrc.WithConcurrency(opts.concurrency))
		if err != nil {
			return usageError("%v", err)
		}
		sources = append(sources, src)
	}
	if len(opts.descriptors) > 0 {
		desc, err := provider.NewDescriptorProvider(opts.descriptors...)
		if err != nil {
			return usageError("%v", err)
		}
		sources = append(sources, desc)
	}

	names := args
	switch {
	case changedOnly:
		ds, err := readDiff(ctx, cmd, opts)
		if err != nil {
			return usageError("%v", err)
		}
		files := ds.JavaFiles()
		names = src.NamesIn(diff.Touches(files))
		changed, added, deleted := ds.Stats()
		logger.Info("changed java files",
			slog.Int("files", len(files)),
			slog.Int("classes", len(names)),
			slog.Int("changed_files", changed),
			slog.Int("added_lines", added),
			slog.Int("deleted_lines", deleted))
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no changed classes"))
			return nil
		}
	case len(names) == 0:
		names = declaredNames(sources)
	}
	if len(names) == 0 {
		return usageError("no classes to check: name classes or pass --source / --descriptors")
	}

	chain := make([]provider.Provider, 0, len(sources)+1)
	for _, s := range sources {
		chain = append(chain, s)
	}
	chain = append(chain, provider.JDK())

	session := analysis.NewSession(provider.Chain(chain...),
		analysis.WithAllowList(table),
		analysis.WithCheckers(checkers),
		analysis.WithLogger(logger),
		analysis.WithConcurrency(opts.concurrency))

	logger.Info("checking classes",
		slog.String("session_id", session.ID()),
		slog.Int("classes", len(names)),
		slog.Int("checkers", len(checkers)))
	results := session.AnalyzeAll(ctx, names)
	if err := ctx.Err(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case "json":
		err = outputJSON(out, session.ID(), results)
	default:
		err = outputText(out, results)
	}
	if err != nil {
		return err
	}

	failing := 0
	for _, r := range results {
		if r.Verdict.AtMost(failOn) {
			failing++
		}
	}
	if failing > 0 {
		return &ExitError{
			Code: exitFindings,
			Msg:  fmt.Sprintf("%d of %d class(es) at or below %s", failing, len(results), failOn),
		}
	}
	return nil
}

// declaredNames lists every class the providers declare, without duplicates.
func declaredNames(sources []named) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range sources {
		for _, name := range s.Names() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// readDiff parses the diff file or git range named in opts.
func readDiff(ctx context.Context, cmd *cobra.Command, opts *checkOptions) (*diff.DiffSet, error) {
	var raw io.Reader
	switch {
	case opts.changed != "":
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		out, err := diff.Git(ctx, dir, opts.changed)
		if err != nil {
			return nil, err
		}
		raw = strings.NewReader(out)
	case opts.diffFile == "-":
		raw = cmd.InOrStdin()
	default:
		f, err := os.Open(opts.diffFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		raw = f
	}

	return diff.Parse(raw)
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: exitUsage, Msg: fmt.Sprintf(format, args...)}
}

func outputText(w io.Writer, results []analysis.Result) error {
	width := 0
	for _, r := range results {
		width = max(width, len(r.Class))
	}

	counts := make(map[model.Verdict]int)
	for _, r := range results {
		counts[r.Verdict]++
		pad := strings.Repeat(" ", width-len(r.Class))
		fmt.Fprintf(w, "%s%s%s  %s\n",
			verdictStyle(r.Verdict).Render(verdictIcon(r.Verdict)),
			classStyle.Render(r.Class), pad,
			verdictStyle(r.Verdict).Render(r.Verdict.String()))
		for _, reason := range r.Reasons {
			fmt.Fprintf(w, "    %s %s\n", checkerStyle.Render("["+reason.Checker+"]"), reasonText(reason))
		}
	}

	var parts []string
	for _, v := range model.Verdicts {
		if n := counts[v]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, v))
		}
	}
	fmt.Fprintf(w, "\n%s %s\n",
		headerStyle.Render(fmt.Sprintf("%d class(es):", len(results))),
		dimStyle.Render(strings.Join(parts, ", ")))
	return nil
}

func reasonText(r model.Reason) string {
	var loc string
	switch {
	case r.Field != "":
		loc = "field " + r.Field + ": "
	case r.Method != "":
		loc = "method " + r.Method + ": "
	}
	return loc + r.Message
}

func outputJSON(w io.Writer, sessionID string, results []analysis.Result) error {
	type jsonReason struct {
		Checker string           `json:"checker"`
		Code    model.ReasonCode `json:"code"`
		Field   string           `json:"field,omitempty"`
		Method  string           `json:"method,omitempty"`
		Message string           `json:"message"`
		Verdict model.Verdict    `json:"verdict"`
	}

	type jsonResult struct {
		Class       string        `json:"class"`
		Verdict     model.Verdict `json:"verdict"`
		Provisional bool          `json:"provisional,omitempty"`
		Reasons     []jsonReason  `json:"reasons"`
	}

	type jsonOutput struct {
		Session string         `json:"session"`
		Total   int            `json:"total"`
		Summary map[string]int `json:"summary"`
		Results []jsonResult   `json:"results"`
	}

	out := jsonOutput{
		Session: sessionID,
		Total:   len(results),
		Summary: make(map[string]int),
		Results: make([]jsonResult, 0, len(results)),
	}
	for _, r := range results {
		out.Summary[r.Verdict.String()]++
		jr := jsonResult{
			Class:       r.Class,
			Verdict:     r.Verdict,
			Provisional: r.Provisional,
			Reasons:     make([]jsonReason, 0, len(r.Reasons)),
		}
		for _, reason := range r.Reasons {
			jr.Reasons = append(jr.Reasons, jsonReason{
				Checker: reason.Checker,
				Code:    reason.Code,
				Field:   reason.Field,
				Method:  reason.Method,
				Message: reason.Message,
				Verdict: reason.Verdict,
			})
		}
		out.Results = append(out.Results, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
