package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/metrics"
	"github.com/fruitsalade/stash/internal/navigator"
)

const shellHelp = `Commands:
  ls                     List the current folder
  cd <name|id|..|/>      Change folder
  crumb <n>              Jump to breadcrumb position n
  pwd                    Show the current path
  tree                   Show all folders
  mkdir <name>           Create a folder here
  rename <name> <new>    Rename a folder here
  rmdir <name>           Delete a folder here
  upload <path>...       Upload files here
  get <file>             Download a file
  rm <file>              Delete a file
  preview <file>         Show image details and write a thumbnail
  users                  List users (admin)
  roles <user-id> <r,..> Set a user's roles (admin)
  whoami                 Show the logged-in user
  exit                   Leave the shell`

func cmdShell(args []string) error {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	fs.Parse(args)

	return withApp(needLogin|needCache, func(ctx context.Context, a *app) error {
		if a.cfg.MetricsAddr != "" {
			srv := startMetrics(a.cfg.MetricsAddr)
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				defer done()
				srv.Shutdown(shutdownCtx)
			}()
		}

		if err := a.openFolder(ctx, ""); err != nil {
			return err
		}
		fmt.Println("Type 'help' for commands.")
		return a.shellLoop(ctx, os.Stdin)
	})
}

func (a *app) shellLoop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Printf("stash:%s> ", a.nav.Tree().PathOf(a.nav.CurrentFolderID()))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if err := a.shellCommand(ctx, fields[0], fields[1:]); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Println("Error:", describe(err))
		}
		if !a.session.IsAuthenticated() {
			fmt.Println("Session ended. Run 'stash login' to continue.")
			return nil
		}
	}
}

func (a *app) shellCommand(ctx context.Context, name string, args []string) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: missing argument, see 'help'", name)
		}
		return nil
	}

	switch name {
	case "help", "?":
		fmt.Println(shellHelp)
	case "ls":
		if err := a.nav.Refresh(ctx); err != nil {
			return err
		}
		printView(os.Stdout, a.nav.View(), a.cached())
	case "pwd":
		fmt.Println(a.nav.Tree().PathOf(a.nav.CurrentFolderID()))
		fmt.Println(breadcrumb(a.nav.View()))
	case "cd":
		if err := need(1); err != nil {
			return err
		}
		return a.changeFolder(ctx, strings.Join(args, " "))
	case "crumb":
		if err := need(1); err != nil {
			return err
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("crumb: %q is not a position", args[0])
		}
		return a.nav.NavigateToPath(ctx, i)
	case "tree":
		if err := a.nav.LoadTree(ctx); err != nil {
			return err
		}
		printTree(os.Stdout, a.nav.Tree())
	case "mkdir":
		if err := need(1); err != nil {
			return err
		}
		f, err := a.nav.CreateFolder(ctx, strings.Join(args, " "))
		if f != nil {
			fmt.Printf("Created %s/\n", f.Name)
		}
		return err
	case "rename":
		if err := need(2); err != nil {
			return err
		}
		id, err := a.folderHere(args[0])
		if err != nil {
			return err
		}
		return a.nav.RenameFolder(ctx, id, strings.Join(args[1:], " "))
	case "rmdir":
		if err := need(1); err != nil {
			return err
		}
		id, err := a.folderHere(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return a.nav.DeleteFolder(ctx, id)
	case "upload":
		if err := need(1); err != nil {
			return err
		}
		return runUpload(ctx, os.Stdout, a, args)
	case "get":
		if err := need(1); err != nil {
			return err
		}
		f, err := a.resolveFile(strings.Join(args, " "))
		if err != nil {
			return err
		}
		path, err := a.files.Download(ctx, f.ID, a.cfg.DownloadDir)
		if err != nil {
			return err
		}
		fmt.Println("Saved", path)
	case "rm":
		if err := need(1); err != nil {
			return err
		}
		f, err := a.resolveFile(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if err := a.files.Delete(ctx, f.ID); err != nil {
			return err
		}
		fmt.Println("Deleted", f.OriginalName)
	case "preview":
		if err := need(1); err != nil {
			return err
		}
		f, err := a.resolveFile(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return runPreview(ctx, os.Stdout, a, f)
	case "users":
		if err := a.admin.Reload(ctx); err != nil {
			return err
		}
		for _, u := range a.admin.Users() {
			fmt.Printf("  %s  %s <%s>  [%s]\n", u.ID, u.Name, u.Email, strings.Join(u.Roles, ","))
		}
	case "roles":
		if err := need(2); err != nil {
			return err
		}
		if err := a.admin.Load(ctx); err != nil {
			return err
		}
		if err := a.admin.SetRoles(args[0], strings.Split(args[1], ",")); err != nil {
			return err
		}
		return a.admin.Save(ctx, args[0])
	case "whoami":
		u, err := a.session.RequireAuth()
		if err != nil {
			return err
		}
		printUser(*u)
	default:
		return fmt.Errorf("unknown command %q, see 'help'", name)
	}
	return nil
}

// changeFolder resolves ref against the current folder: "..", "/", a
// child folder name or any folder ID.
func (a *app) changeFolder(ctx context.Context, ref string) error {
	switch ref {
	case "/", "~":
		return a.nav.BackToRoot(ctx)
	case "..":
		if a.nav.View().State() == navigator.StateRoot {
			return nil
		}
		return a.nav.BackOneLevel(ctx)
	}
	current := a.nav.CurrentFolderID()
	if f, ok := a.nav.Tree().FindChild(current, ref); ok {
		return a.nav.OpenFolder(ctx, f)
	}
	err := a.nav.OpenByID(ctx, ref)
	if errors.Is(err, navigator.ErrFolderNotFound) {
		return fmt.Errorf("cd: no folder %q", ref)
	}
	return err
}

// folderHere finds a folder of the current view by name or ID.
func (a *app) folderHere(ref string) (string, error) {
	for _, f := range a.nav.View().Folders {
		if f.ID == ref || f.Name == ref {
			return f.ID, nil
		}
	}
	if f, ok := a.nav.Tree().Get(ref); ok {
		return "", fmt.Errorf("folder %q is not in %s", f.Name, a.nav.Tree().PathOf(a.nav.CurrentFolderID()))
	}
	return "", fmt.Errorf("no folder %q here", ref)
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logging.Named("metrics")
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
