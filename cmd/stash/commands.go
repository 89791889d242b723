package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/fruitsalade/stash/internal/filesview"
	"github.com/fruitsalade/stash/internal/navigator"
	"github.com/fruitsalade/stash/internal/session"
	"github.com/fruitsalade/stash/internal/upload"
	"github.com/fruitsalade/stash/internal/validate"
	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	if !term.IsTerminal(int(syscall.Stdin)) {
		line, _ := stdin.ReadString('\n')
		return strings.TrimRight(line, "\r\n"), nil
	}
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	fs.Parse(args)

	return withApp(0, func(ctx context.Context, a *app) error {
		if *email == "" {
			*email = prompt("Email: ")
		}
		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		user, err := a.session.Login(ctx, *email, password)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s <%s>\n", user.Name, user.Email)
		return nil
	})
}

func cmdRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	name := fs.String("name", "", "Display name")
	fs.Parse(args)

	return withApp(0, func(ctx context.Context, a *app) error {
		form := session.RegisterForm{Email: *email, Name: *name}
		if form.Email == "" {
			form.Email = prompt("Email: ")
		}
		if form.Name == "" {
			form.Name = prompt("Name: ")
		}
		var err error
		if form.Password, err = promptPassword("Password: "); err != nil {
			return err
		}
		if form.ConfirmPassword, err = promptPassword("Confirm password: "); err != nil {
			return err
		}

		user, err := a.session.Register(ctx, form)
		if err != nil {
			return err
		}
		fmt.Printf("Account created. Logged in as %s <%s>\n", user.Name, user.Email)
		return nil
	})
}

func cmdLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	return withApp(0, func(ctx context.Context, a *app) error {
		a.session.Logout()
		fmt.Println("Logged out.")
		return nil
	})
}

func cmdWhoami(args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	fs.Parse(args)

	return withApp(0, func(ctx context.Context, a *app) error {
		s := a.session.Current()
		if s == nil {
			return errNotLoggedIn
		}
		printUser(s.User)
		fmt.Printf("Session expires %s\n", s.ExpiresAt.Local().Format(time.DateTime))
		return nil
	})
}

func cmdProfile(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "New display name")
	email := fs.String("email", "", "New email")
	changePassword := fs.Bool("password", false, "Prompt for a new password")
	fs.Parse(args)

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		update := protocol.ProfileUpdate{Name: *name, Email: *email}
		if *changePassword {
			pw, err := promptPassword("New password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if pw != confirm {
				return validate.New("password", "Passwords do not match")
			}
			update.Password = pw
		}
		if update.IsEmpty() {
			printUser(*a.session.User())
			return nil
		}
		user, err := a.session.UpdateProfile(ctx, update)
		if err != nil {
			return err
		}
		fmt.Println("Profile updated.")
		printUser(*user)
		return nil
	})
}

func printUser(u models.User) {
	fmt.Printf("ID:    %s\nName:  %s\nEmail: %s\n", u.ID, u.Name, u.Email)
	if len(u.Roles) > 0 {
		fmt.Printf("Roles: %s\n", strings.Join(u.Roles, ", "))
	}
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder ID (default: root)")
	fs.Parse(args)

	return withApp(needLogin|needCache, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		printView(os.Stdout, a.nav.View(), a.cached())
		return nil
	})
}

// printView writes the breadcrumb and a table of the view. Files for
// which cached reports true are marked; cached may be nil.
func printView(out io.Writer, v navigator.View, cached func(id string) bool) {
	fmt.Fprintf(out, "%s\n\n", breadcrumb(v))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tCREATED\tLOCAL")
	for _, f := range v.Folders {
		fmt.Fprintf(w, "%s\t%s/\tFolder\t%d files\t\t\n", f.ID, f.Name, f.FileCount)
	}
	for _, f := range v.Files {
		created := ""
		if !f.CreatedAt.IsZero() {
			created = f.CreatedAt.Local().Format(time.DateOnly)
		}
		local := ""
		if cached != nil && cached(f.ID) {
			local = "cached"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.OriginalName, filesview.TypeLabel(f.MimeType), filesview.FormatSize(f.Size), created, local)
	}
	w.Flush()
	if len(v.Folders) == 0 && len(v.Files) == 0 {
		fmt.Fprintln(out, "(empty)")
	}
}

// breadcrumb renders "Home > a > b" with the position index used by
// the shell's crumb command.
func breadcrumb(v navigator.View) string {
	parts := make([]string, 0, v.Depth()+1)
	parts = append(parts, "Home")
	for i, f := range v.Path {
		parts = append(parts, fmt.Sprintf("[%d] %s", i, f.Name))
	}
	return strings.Join(parts, " > ")
}

func cmdTree(args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	fs.Parse(args)

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.nav.LoadTree(ctx); err != nil {
			return err
		}
		printTree(os.Stdout, a.nav.Tree())
		return nil
	})
}

func printTree(out io.Writer, t *navigator.Tree) {
	fmt.Fprintln(out, "/")
	t.Walk(func(f models.Folder, depth int) bool {
		fmt.Fprintf(out, "%s%s/  (%s, %d files)\n", strings.Repeat("  ", depth+1), f.Name, f.ID, f.FileCount)
		return true
	})
	fmt.Fprintf(out, "%d folders\n", t.Count())
}

func cmdMkdir(args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	folder := fs.String("folder", "", "Parent folder ID (default: root)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("mkdir")
	}

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		created, err := a.nav.CreateFolder(ctx, fs.Arg(0))
		if created == nil {
			return err
		}
		fmt.Printf("Created folder %s (%s)\n", created.Name, created.ID)
		return nil
	})
}

func cmdRename(args []string) error {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return usageError("rename")
	}

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, ""); err != nil {
			return err
		}
		if err := a.nav.RenameFolder(ctx, fs.Arg(0), fs.Arg(1)); err != nil {
			return err
		}
		fmt.Println("Folder renamed.")
		return nil
	})
}

func cmdRmdir(args []string) error {
	fs := flag.NewFlagSet("rmdir", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("rmdir")
	}

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, ""); err != nil {
			return err
		}
		if err := a.nav.DeleteFolder(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Println("Folder deleted.")
		return nil
	})
}

func cmdUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	folder := fs.String("folder", "", "Destination folder ID (default: root)")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return usageError("upload")
	}

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		return runUpload(ctx, os.Stdout, a, fs.Args())
	})
}

// runUpload queues paths, reports rejections and uploads the rest into
// the navigator's current folder.
func runUpload(ctx context.Context, out io.Writer, a *app, paths []string) error {
	o := a.uploader(func(p upload.Progress) {
		status := p.Item.Status.String()
		if p.Item.Error != "" {
			status += ": " + p.Item.Error
		}
		fmt.Fprintf(out, "[%3d%%] %s %s\n", p.Percent(), p.Item.Name, status)
	})
	defer o.Close()

	var candidates []upload.Candidate
	for _, p := range paths {
		c, err := upload.CandidateFromPath(p)
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", p, err)
			continue
		}
		candidates = append(candidates, c)
	}
	for _, r := range o.Add(candidates...) {
		fmt.Fprintf(out, "rejected %v\n", r.Err)
	}
	if len(o.Items()) == 0 {
		fmt.Fprintln(out, "Nothing to upload.")
		return nil
	}

	res, err := o.Upload(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d uploaded, %d failed\n", len(res.Uploaded), len(res.Failed))
	return res.Err
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder ID containing the file (default: root)")
	outDir := fs.String("o", "", "Output directory (default: STASH_DOWNLOAD_DIR)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("download")
	}

	return withApp(needLogin|needCache, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		f, err := a.resolveFile(fs.Arg(0))
		if err != nil {
			return err
		}
		dir := *outDir
		if dir == "" {
			dir = a.cfg.DownloadDir
		}
		path, err := a.files.Download(ctx, f.ID, dir)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\n", path, filesview.FormatSize(f.Size))
		return nil
	})
}

func cmdRemove(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder ID containing the file (default: root)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("rm")
	}

	return withApp(needLogin|needCache, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		f, err := a.resolveFile(fs.Arg(0))
		if err != nil {
			return err
		}
		if err := a.files.Delete(ctx, f.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", f.OriginalName)
		return nil
	})
}

func cmdPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder ID containing the file (default: root)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("preview")
	}

	return withApp(needLogin|needCache, func(ctx context.Context, a *app) error {
		if err := a.openFolder(ctx, *folder); err != nil {
			return err
		}
		f, err := a.resolveFile(fs.Arg(0))
		if err != nil {
			return err
		}
		return runPreview(ctx, os.Stdout, a, f)
	})
}

func runPreview(ctx context.Context, out io.Writer, a *app, f models.FileRecord) error {
	res, err := a.files.Preview(ctx, f.ID, a.cfg.DownloadDir)
	if err != nil {
		return err
	}
	if res.Info == nil {
		fmt.Fprintf(out, "%s is not an image; saved to %s\n", f.OriginalName, res.Downloaded)
		return nil
	}
	fmt.Fprintf(out, "%s\n  %s, %dx%d, %s\n", f.OriginalName, strings.ToUpper(res.Info.Format),
		res.Info.Width, res.Info.Height, filesview.FormatSize(f.Size))
	if s := res.Info.Exif.Summary(); s != "" {
		fmt.Fprintf(out, "  %s\n", s)
	}
	fmt.Fprintf(out, "  thumbnail: %s\n", res.ThumbPath)
	return nil
}

func cmdUsers(args []string) error {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	fs.Parse(args)

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.admin.Load(ctx); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLES")
		for _, u := range a.admin.Users() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, strings.Join(u.Roles, ","))
		}
		return w.Flush()
	})
}

func cmdSetRoles(args []string) error {
	fs := flag.NewFlagSet("set-roles", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return usageError("set-roles")
	}
	userID := fs.Arg(0)
	roles := strings.Split(fs.Arg(1), ",")

	return withApp(needLogin, func(ctx context.Context, a *app) error {
		if err := a.admin.Load(ctx); err != nil {
			return err
		}
		if err := a.admin.SetRoles(userID, roles); err != nil {
			return err
		}
		if !slices.Contains(a.admin.Dirty(), userID) {
			fmt.Printf("Roles for %s unchanged.\n", userID)
			return nil
		}
		if err := a.admin.Save(ctx, userID); err != nil {
			return err
		}
		fmt.Printf("Roles for %s saved.\n", userID)
		return nil
	})
}

func cmdCache(args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	fs.Parse(args)
	sub := "stats"
	if fs.NArg() > 0 {
		sub = fs.Arg(0)
	}

	return withApp(needCache, func(ctx context.Context, a *app) error {
		switch sub {
		case "stats":
			size, maxSize, count := a.cache.Stats()
			fmt.Printf("Cache:   %s\n", a.cache.Dir())
			fmt.Printf("Files:   %d\n", count)
			fmt.Printf("Size:    %s / %s\n", filesview.FormatSize(size), filesview.FormatSize(maxSize))
		case "list", "ls":
			entries := a.cache.List()
			if len(entries) == 0 {
				fmt.Println("Cache is empty")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tLAST ACCESS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.FileID, filesview.FormatSize(e.Size), e.LastAccess.Local().Format(time.DateTime))
			}
			return w.Flush()
		case "clear":
			fmt.Printf("Removed %d cached files.\n", a.cache.Clear())
		default:
			return usageError("cache")
		}
		return nil
	})
}
