package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/internal/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const pagerHelp = "commands: n next, p previous, g <page>, m <pattern>, s <size>, q quit"

func newBrowseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through the store's keys in the terminal",
		RunE:  runBrowse,
	}
	cmd.Flags().StringP("store-url", "s", "http://localhost:8080", "Key store API URL")
	cmd.Flags().IntP("page-size", "p", 50, "Keys per page")
	cmd.Flags().StringP("match", "m", "*", "Glob pattern of the keys to browse")
	return cmd
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg, closeLogs, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLogs()
	// The pager owns stdout; keep logs quiet unless asked for.
	if cfg.LogLevel == "info" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	pattern, _ := cmd.Flags().GetString("match")

	ctx, cancel := signalContext()
	defer cancel()

	storeClient := client.New(cfg.Store.URL, client.Options{Timeout: cfg.Client.Timeout})
	if err := storeClient.WaitReady(ctx, cfg.Client.ReadyTimeout); err != nil {
		return fmt.Errorf("key store at %s is not reachable: %w", cfg.Store.URL, err)
	}

	meta := browser.NewMetadataCache(storeClient, browser.MetadataCacheOptions{
		TTL:           cfg.Browser.MetadataTTL,
		LookupTimeout: cfg.Browser.LookupTimeout,
		BatchSize:     cfg.Browser.BatchSize,
		BatchDelay:    cfg.Browser.BatchDelay,
	})
	nav := browser.NewNavigator(storeClient, meta, browser.NavigatorOptions{
		Pattern:     pattern,
		PageSize:    cfg.Browser.PageSize,
		LoadTimeout: cfg.Browser.LoadTimeout,
	})

	return newPager(nav, os.Stdin, os.Stdout).Run(ctx)
}

// pager drives a Navigator from line commands
type pager struct {
	nav *browser.Navigator
	in  io.Reader
	out io.Writer
}

func newPager(nav *browser.Navigator, in io.Reader, out io.Writer) *pager {
	return &pager{nav: nav, in: in, out: out}
}

// Run loads the first page and then executes commands until q or EOF
func (p *pager) Run(ctx context.Context) error {
	fmt.Fprintln(p.out, pagerHelp)
	p.report(p.nav.OnPatternOrPageSizeChange(ctx, "", 0))

	scanner := bufio.NewScanner(p.in)
	for {
		fmt.Fprint(p.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(p.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		quit, err := p.execute(ctx, strings.TrimSpace(scanner.Text()))
		if quit {
			return nil
		}
		p.report(err)
	}
}

// execute runs one command line. A nil error prints the current page.
func (p *pager) execute(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, errNoCommand
	case "q", "quit":
		return true, nil
	case "n", "next":
		return false, p.nav.GoToNext(ctx)
	case "p", "prev", "previous":
		return false, p.nav.GoToPrevious(ctx)
	case "g", "goto":
		page, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("usage: g <page>")
		}
		return false, p.nav.GoToPage(ctx, page)
	case "m", "match":
		if arg == "" {
			return false, fmt.Errorf("usage: m <pattern>")
		}
		return false, p.nav.OnPatternOrPageSizeChange(ctx, arg, 0)
	case "s", "size":
		size, err := strconv.Atoi(arg)
		if err != nil || size < 1 {
			return false, fmt.Errorf("usage: s <size>")
		}
		return false, p.nav.OnPatternOrPageSizeChange(ctx, "", size)
	case "h", "help":
		fmt.Fprintln(p.out, pagerHelp)
		return false, errNoCommand
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

var errNoCommand = errors.New("no command")

func (p *pager) report(err error) {
	var rebuildErr *browser.ChainRebuildError

	switch {
	case err == nil:
		p.render()
	case errors.Is(err, errNoCommand):
	case errors.As(err, &rebuildErr):
		fmt.Fprintf(p.out, "only %d pages match\n", rebuildErr.LastPage)
	case errors.Is(err, browser.ErrNoNextPage):
		fmt.Fprintln(p.out, "already on the last page")
	case errors.Is(err, browser.ErrNoPreviousPage):
		fmt.Fprintln(p.out, "already on the first page")
	default:
		fmt.Fprintf(p.out, "error: %v\n", err)
	}
}

func (p *pager) render() {
	st := p.nav.State()
	fmt.Fprintf(p.out, "page %d  pattern %q  size %d\n", st.CurrentPage, st.Pattern, st.PageSize)

	width := 0
	for _, k := range st.Keys {
		if len(k.Key) > width {
			width = len(k.Key)
		}
	}
	for _, k := range st.Keys {
		fmt.Fprintf(p.out, "  %-*s  %s\n", width, k.Key, k.Type)
	}
	if len(st.Keys) == 0 {
		fmt.Fprintln(p.out, "  (no keys)")
	}
	fmt.Fprintf(p.out, "has next: %t  complete: %t\n", st.HasNextPage, st.IsComplete)
}
