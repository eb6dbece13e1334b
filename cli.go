package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codemerge/engine"
	"codemerge/provider"
	"codemerge/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/pmezard/go-difflib/difflib"
)

// fileArgs are the positional arguments shared by preview, apply and watch
type fileArgs struct {
	Original string `positional-arg-name:"original" required:"yes" description:"File the proposal applies to"`
	Proposal string `positional-arg-name:"proposal" required:"yes" description:"SEARCH/REPLACE hunks or a full-file snippet"`
}

type previewCommand struct {
	Args fileArgs `positional-args:"yes"`
}

type applyCommand struct {
	Write bool     `short:"w" long:"write" description:"Write the merged result back to the original file"`
	Args  fileArgs `positional-args:"yes"`
}

// session is an engine without an editor attached, used by the one-shot commands
type session struct {
	config   types.Config
	engine   *engine.Engine
	renderer *lipgloss.Renderer
	stdout   io.Writer
	stderr   io.Writer
}

func newSession(stdout, stderr io.Writer) (*session, error) {
	setupCLILogger()

	config, err := loadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	return startSession(config, provider.NewReconciler(providerConfig(config)), stdout, stderr)
}

func startSession(config types.Config, reconciler engine.Reconciler, stdout, stderr io.Writer) (*session, error) {
	eng, err := engine.NewEngine(reconciler, engineConfig(config))
	if err != nil {
		return nil, err
	}
	eng.Start(context.Background())

	return &session{
		config:   config,
		engine:   eng,
		renderer: lipgloss.NewRenderer(stdout),
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

func (s *session) close() {
	s.engine.Stop()
}

// propose reads both files and builds the preview
func (s *session) propose(ctx context.Context, args fileArgs) (*engine.Preview, string, error) {
	original, err := os.ReadFile(args.Original)
	if err != nil {
		return nil, "", fmt.Errorf("read original: %w", err)
	}
	proposal, err := os.ReadFile(args.Proposal)
	if err != nil {
		return nil, "", fmt.Errorf("read proposal: %w", err)
	}

	p, err := s.engine.Propose(ctx, args.Original, string(original), string(proposal))
	s.flushNotifications()
	if err != nil {
		return nil, "", err
	}
	return p, string(original), nil
}

func (s *session) flushNotifications() {
	for {
		select {
		case n := <-s.engine.Notifications():
			fmt.Fprintln(s.stderr, renderNotification(s.renderer, n))
		default:
			return
		}
	}
}

func (c *previewCommand) Execute(args []string) error {
	s, err := newSession(os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, _, err := s.propose(ctx, c.Args)
	if err != nil {
		return err
	}
	fmt.Fprint(s.stdout, renderPreview(s.renderer, p))
	return nil
}

func (c *applyCommand) Execute(args []string) error {
	s, err := newSession(os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, s)
}

func (c *applyCommand) run(ctx context.Context, s *session) error {
	p, original, err := s.propose(ctx, c.Args)
	if err != nil {
		return err
	}
	if p.FellBack {
		return fmt.Errorf("reconcile failed for %s, nothing applied", p.Path)
	}

	merged, err := s.engine.Finalize(p.Path)
	s.flushNotifications()
	if errors.Is(err, engine.ErrNotAnchored) {
		return fmt.Errorf("%s: proposal could not be anchored to the file, use preview to inspect it", p.Path)
	}
	if err != nil {
		return err
	}

	diff, err := unifiedDiff(p.Path, original, merged)
	if err != nil {
		return err
	}
	fmt.Fprint(s.stdout, diff)

	if !c.Write || merged == original {
		return nil
	}
	info, err := os.Stat(c.Args.Original)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Args.Original, []byte(merged), info.Mode().Perm())
}

// unifiedDiff renders before -> after as a git-style unified diff
func unifiedDiff(path, before, after string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	diff, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}
	return diff, nil
}

