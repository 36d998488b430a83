package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openconform/openconform/pkg/engine"
	"github.com/openconform/openconform/pkg/rules"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch rule, policy, and intended-config sources and hot-reload them",
		Long: `Run until interrupted, watching the configured rule sources, policy
paths, and the intended config directory. Edits are reloaded after a
short debounce; a reload producing an invalid rule set or a broken
policy is reported and dropped, keeping the previously loaded set in
effect. Changed intended configs are re-imported.`,
		Example: `  # Watch the configured sources while editing rules
  conform watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			err = ws.loader.Watch(cmd.Context(), ws.cfg.Rules.Sources, func(ruleSet *rules.RuleSet) error {
				return ws.applyRuleSet(ruleSet)
			})
			if err != nil {
				return err
			}

			if len(ws.cfg.Policy.Paths) > 0 {
				if err := ws.gate.Watch(cmd.Context(), ws.cfg.Policy.Paths); err != nil {
					return err
				}
			}

			if ws.cfg.Intended.Path != "" {
				if err := watchIntended(cmd.Context(), ws, ws.cfg.Intended.Path); err != nil {
					return err
				}
			}

			fmt.Println("Watching for rule, policy, and intended-config changes, Ctrl-C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
}

// watchIntended re-imports the intended tree when files under it change,
// debounced the same way the rule and policy watchers are.
func watchIntended(ctx context.Context, ws *workspace, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
				ws.tel.Logger.WithError(err).Warnf("Failed to watch %s", entry.Name())
			}
		}
	}

	go func() {
		var reimportTimer *time.Timer
		for {
			select {
			case <-ctx.Done():
				_ = watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if reimportTimer != nil {
					reimportTimer.Stop()
				}
				reimportTimer = time.AfterFunc(500*time.Millisecond, func() {
					count, err := importIntendedTree(ctx, ws, root)
					if err != nil {
						ws.tel.Logger.WithError(err).Error("Failed to re-import intended configs")
						return
					}
					ws.tel.Logger.Infof("Re-imported %d intended configs", count)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ws.tel.Logger.WithError(err).Error("Intended watcher error")
			}
		}
	}()

	return nil
}

// applyRuleSet swaps in a freshly loaded rule set, rebuilding the diff
// engine's comparators and the per-platform remediation rules. The swap is
// all-or-nothing.
func (ws *workspace) applyRuleSet(ruleSet *rules.RuleSet) error {
	diffEngine := engine.NewDiffEngine(nil)
	if err := ws.loader.Evaluator().RegisterComparators(diffEngine, ruleSet); err != nil {
		return err
	}

	remediation := engine.NewRemediationGenerator()
	for i := range ruleSet.Platforms {
		if err := remediation.RegisterPlatform(&ruleSet.Platforms[i]); err != nil {
			return err
		}
	}

	ws.rules = ruleSet
	ws.diffEngine = diffEngine
	ws.remediation = remediation

	ws.tel.Logger.Infof("Reloaded %d features and %d platforms", len(ruleSet.Features), len(ruleSet.Platforms))
	return nil
}
