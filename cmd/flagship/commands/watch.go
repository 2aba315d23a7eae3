package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/evaluation"
	"github.com/TimurManjosov/goflagship-rules/internal/snapshot"
)

var watchContext string

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Reload a rule file whenever it changes",
	Long: `Watch a rule file, revalidating it on every change and dropping cached
evaluations for the rules that changed. With --context the context is
re-evaluated after each successful reload.

Examples:
  flagship watch rules.yaml
  flagship watch rules.yaml --context '{"user_id":"u1","country":"US"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		evalCtx, err := readContext(watchContext, "")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := &ruleWatcher{app: a, path: args[0], out: cmd.OutOrStdout()}
		if watchContext != "" {
			w.evalCtx = evalCtx
		}
		defer a.dumpMetrics(cmd)
		return w.run(ctx, nil)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchContext, "context", "", "Context to re-evaluate after each reload")
	rootCmd.AddCommand(watchCmd)
}

// ruleWatcher reloads one rule file into the active snapshot.
type ruleWatcher struct {
	app     *app
	path    string
	out     io.Writer
	evalCtx map[string]any
}

// run loads the file once, then reloads it on change until ctx is done.
// ready, when non-nil, is closed once the file is being watched.
func (w *ruleWatcher) run(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	changes, unsub := snapshot.Subscribe()
	defer unsub()

	if err := w.reload(); err != nil {
		fmt.Fprintf(w.out, "initial load failed: %v\n", err)
	}
	if ready != nil {
		close(ready)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.reload(); err != nil {
				fmt.Fprintf(w.out, "reload failed: %v\n", err)
			}

		case c := <-changes:
			for _, id := range c.Changed {
				n := w.app.svc.InvalidateRuleCache(id)
				w.app.log.Debug().Str("rule_id", id).Int("entries", n).Msg("rule changed")
			}
			fmt.Fprintf(w.out, "active rules %s, %d changed\n", c.ETag, len(c.Changed))
			w.evaluate()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.app.log.Warn().Err(err).Msg("rule watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

// reload parses and validates the file. Only a rule set without errors
// replaces the active snapshot.
func (w *ruleWatcher) reload() error {
	rs, err := loadRules(w.path)
	if err != nil {
		return err
	}
	res := w.app.svc.Validate(rs)
	if errs := res.Errors(); len(errs) > 0 {
		_ = cli.PrintValidation(w.out, res, w.app.format)
		return fmt.Errorf("validation failed: %d error(s), keeping previous rules", len(errs))
	}
	snapshot.Update(snapshot.Build(rs))
	return nil
}

func (w *ruleWatcher) evaluate() {
	if w.evalCtx == nil {
		return
	}
	res := w.app.svc.Evaluate(snapshot.Load().Rules, w.evalCtx, false)
	_ = cli.PrintResults(w.out, []evaluation.Result{res}, w.app.format)
}
