package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alphabot-ai/threadline/internal/auth"
	"github.com/alphabot-ai/threadline/internal/client"
	"github.com/alphabot-ai/threadline/internal/config"
	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/push"
	"github.com/alphabot-ai/threadline/internal/rate"
	"github.com/alphabot-ai/threadline/internal/store"
	"github.com/alphabot-ai/threadline/internal/store/memory"
	"github.com/alphabot-ai/threadline/internal/store/sqlite"
	"github.com/alphabot-ai/threadline/internal/thread"
	"github.com/alphabot-ai/threadline/internal/token"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "register":
		cmdRegister(args)
	case "login", "auth":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "refresh":
		cmdRefresh(args)
	case "status", "whoami":
		cmdStatus(args)
	case "profile":
		cmdProfile(args)
	case "read", "list":
		cmdRead(args)
	case "post", "reply":
		cmdPost(args)
	case "preview":
		cmdPreview(args)
	case "watch":
		cmdWatch(args)
	case "-v", "--version", "version":
		fmt.Println("threadline v0.1.0")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`threadline - comment threads from the terminal

Usage: threadline <command> [options]

Account:
  register            Create an account and log into it
  login               Log in and store the session
  logout              Forget the stored session
  refresh             Force a token refresh
  status              Show the current session
  profile             Edit the locally cached profile

Comments:
  read                List comments, or show one thread with --thread
  post                Post a comment, or a reply with --parent
  preview             Show text as the server will render it
  watch               Follow a thread and print replies as they arrive

Examples:
  threadline register --username ada --email ada@example.com --password ...
  threadline read --sort created_at --search golang
  threadline read --thread 12
  threadline post --parent 12 --text "Agreed" --attach shot.png
  threadline watch --thread 12

Environment Variables:
  THREADLINE_API_URL              API base URL (default: http://127.0.0.1:8000)
  THREADLINE_WS_URL               Push base URL (default: derived from API URL)
  THREADLINE_CREDENTIALS_DB       Session database (default: ~/.threadline/credentials.db, empty keeps it in memory)
  THREADLINE_STORE_KEY            Hex key (64 chars) encrypting stored tokens
  THREADLINE_HTTP_TIMEOUT         HTTP timeout (default: 30s)
  THREADLINE_REFRESH_BUFFER       Refresh tokens this long before expiry (default: 60s)
  THREADLINE_RECONNECTS_PER_MIN   Reconnect budget for watch (default: 5)`)
}

// ============================================================================
// SETUP
// ============================================================================

type app struct {
	cfg   config.Config
	api   *client.Client
	auth  *auth.Manager
	close func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	api := client.New(cfg.APIURL)
	api.HTTPClient.Timeout = cfg.HTTPTimeout

	mgr := auth.New(api, st, cfg.RefreshBuffer)
	mgr.Initialize(ctx)

	return &app{cfg: cfg, api: api, auth: mgr, close: closeStore}, nil
}

func openStore(cfg config.Config) (store.CredentialStore, func() error, error) {
	if cfg.CredentialsDB == "" {
		return memory.New(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CredentialsDB), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create credentials dir: %w", err)
	}

	if cfg.StoreKey != "" {
		sealer, err := sqlite.NewSealer(cfg.StoreKey)
		if err != nil {
			return nil, nil, fmt.Errorf("THREADLINE_STORE_KEY: %w", err)
		}
		st, err := sqlite.OpenSealed(cfg.CredentialsDB, sealer)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}

	st, err := sqlite.Open(cfg.CredentialsDB)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func mustApp(ctx context.Context) *app {
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func (a *app) mustToken(ctx context.Context) string {
	tok, err := a.auth.GetValidAccessToken(ctx)
	if err != nil {
		a.fail(sessionHint(err))
	}
	return tok
}

func (a *app) fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	_ = a.close()
	os.Exit(1)
}

func sessionHint(err error) error {
	switch {
	case errors.Is(err, auth.ErrNoAccessToken):
		return errors.New("not logged in - run 'threadline login'")
	case errors.Is(err, auth.ErrRefreshFailed):
		return fmt.Errorf("session expired - run 'threadline login' (%v)", err)
	}
	return err
}

// ============================================================================
// ACCOUNT COMMANDS
// ============================================================================

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	email := fs.String("email", "", "Email (required)")
	password := fs.String("password", "", "Password (required)")
	homepage := fs.String("homepage", "", "Optional homepage URL")
	fs.Parse(args)

	if *username == "" || *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Error: --username, --email and --password are required")
		os.Exit(1)
	}

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	user, err := a.auth.Register(ctx, model.Registration{
		Username: *username,
		Email:    *email,
		Password: *password,
		HomePage: *homepage,
	})
	if errors.Is(err, auth.ErrLoginAfterRegistration) {
		fmt.Printf("✓ Registered '%s' (id %d)\n", user.Username, user.ID)
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		fmt.Println("Run 'threadline login' to start a session")
		return
	}
	if err != nil {
		a.fail(err)
	}

	fmt.Printf("✓ Registered '%s' (id %d)\n", user.Username, user.ID)
	fmt.Println("✓ Logged in")
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", os.Getenv("THREADLINE_PASSWORD"), "Password (default: $THREADLINE_PASSWORD)")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Error: --username and --password are required")
		os.Exit(1)
	}

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	if err := a.auth.Login(ctx, model.Credentials{Username: *username, Password: *password}); err != nil {
		a.fail(err)
	}

	user := a.auth.User()
	fmt.Printf("✓ Logged in as '%s' (id %d)\n", user.Username, user.ID)
}

func cmdLogout(args []string) {
	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	a.auth.Logout(ctx)
	fmt.Println("✓ Logged out")
}

func cmdRefresh(args []string) {
	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	if err := a.auth.RefreshTokens(ctx, ""); err != nil {
		a.fail(sessionHint(err))
	}
	fmt.Println("✓ Token refreshed")
	printExpiry(a.auth.AccessToken())
}

func cmdStatus(args []string) {
	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	fmt.Printf("Server:  %s\n", a.cfg.APIURL)
	if a.cfg.CredentialsDB != "" {
		fmt.Printf("Session: %s\n", a.cfg.CredentialsDB)
	}

	s := a.auth.Session()
	if s.User == nil {
		fmt.Println("Status:  Not logged in")
		fmt.Println("\nRun: threadline login --username <name>")
		return
	}
	fmt.Printf("Status:  %s\n", s.Status)
	fmt.Printf("User:    %s (id %d)\n", s.User.Username, s.User.ID)
	if s.User.Email != "" {
		fmt.Printf("Email:   %s\n", s.User.Email)
	}
	printExpiry(s.Tokens.Access)
}

func printExpiry(access string) {
	exp, ok, err := token.ExpiresAt(access)
	switch {
	case err != nil:
		fmt.Println("Token:   Unreadable")
	case !ok:
		fmt.Println("Token:   No expiry")
	default:
		fmt.Printf("Token:   Valid until %s\n", exp.Local().Format(time.RFC3339))
	}
}

func cmdProfile(args []string) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	username := fs.String("username", "", "New display username")
	email := fs.String("email", "", "New email")
	fs.Parse(args)

	var patch model.UserPatch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "username":
			patch.Username = username
		case "email":
			patch.Email = email
		}
	})
	if patch.Username == nil && patch.Email == nil {
		fmt.Fprintln(os.Stderr, "Error: provide --username and/or --email")
		os.Exit(1)
	}

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	user, err := a.auth.UpdateUser(ctx, patch)
	if errors.Is(err, auth.ErrNoUser) {
		a.fail(errors.New("not logged in - run 'threadline login'"))
	}
	if err != nil {
		a.fail(err)
	}
	fmt.Printf("✓ Profile updated: %s <%s>\n", user.Username, user.Email)
}

// ============================================================================
// COMMENT COMMANDS
// ============================================================================

func cmdRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	threadID := fs.Int64("thread", 0, "Show one comment with all replies")
	page := fs.Int("page", 1, "Page number")
	sort := fs.String("sort", "-created_at", "Ordering: created_at, -created_at, user__username, user__email")
	search := fs.String("search", "", "Search text")
	fs.Parse(args)

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	if *threadID != 0 {
		root, err := a.api.GetComment(ctx, *threadID)
		if err != nil {
			a.fail(err)
		}
		printThread(thread.NewTree(root))
		return
	}

	result, err := a.api.ListComments(ctx, model.CommentListOpts{Page: *page, Ordering: *sort, Search: *search})
	if err != nil {
		a.fail(err)
	}

	fmt.Printf("\nComments (page %d, %d total)\n\n", *page, result.Count)
	for _, c := range result.Results {
		fmt.Printf("#%d %s · %s · %d replies\n", c.ID, c.User.Username, c.CreatedAt.Local().Format("2006-01-02 15:04"), len(c.Children))
		fmt.Printf("   %s\n\n", oneLine(c.Text))
	}
	if result.Next != "" {
		fmt.Printf("More: threadline read --page %d\n", *page+1)
	}
}

func cmdPost(args []string) {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	text := fs.String("text", "", "Comment text (required)")
	parentID := fs.Int64("parent", 0, "Parent comment ID (for replies)")
	attach := fs.String("attach", "", "Comma-separated files to attach")
	fs.Parse(args)

	if *text == "" {
		fmt.Fprintln(os.Stderr, "Error: --text is required")
		os.Exit(1)
	}

	var files []string
	if *attach != "" {
		for _, f := range strings.Split(*attach, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
	}

	var parent *int64
	if *parentID != 0 {
		parent = parentID
	}

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	comment, err := a.api.PostComment(ctx, a.mustToken(ctx), *text, parent, files)
	if err != nil {
		a.fail(err)
	}

	if parent != nil {
		fmt.Printf("✓ Replied to #%d\n", *parent)
	} else {
		fmt.Println("✓ Posted")
	}
	fmt.Printf("  ID: %d\n", comment.ID)
}

func cmdPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	text := fs.String("text", "", "Text to preview (required)")
	fs.Parse(args)

	if *text == "" {
		fmt.Fprintln(os.Stderr, "Error: --text is required")
		os.Exit(1)
	}

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.close()

	rendered, err := a.api.PreviewText(ctx, *text)
	if err != nil {
		a.fail(err)
	}
	fmt.Println(rendered)
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	threadID := fs.Int64("thread", 0, "Comment ID to follow (required)")
	fs.Parse(args)

	if *threadID == 0 {
		fmt.Fprintln(os.Stderr, "Error: --thread is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx)
	defer a.close()

	syncer := thread.New(a.api, a.auth, pushDialer(push.NewDialer(a.cfg.WSURL)))
	a.auth.OnLogout(syncer.Disconnect)
	syncer.OnReply(func(r *model.Comment) {
		fmt.Printf("↳ #%d %s replied to #%d: %s\n", r.ID, r.User.Username, *r.ParentID, oneLine(r.Text))
	})

	limiter := rate.NewWindow(a.cfg.Reconnects.PerMinute, time.Minute)
	key := fmt.Sprintf("thread:%d", *threadID)

	for first := true; ; first = false {
		if err := rate.Wait(ctx, limiter, key); err != nil {
			break
		}

		// Each (re)connect starts from a fresh copy so replies missed while
		// offline are picked up.
		if err := syncer.LoadThread(ctx, *threadID); err != nil {
			if first || ctx.Err() != nil {
				a.fail(err)
			}
			log.Printf("[watch] reload failed: %v", err)
			continue
		}
		if first {
			printThread(thread.NewTree(syncer.Thread()))
			fmt.Println("\nWatching for replies (Ctrl+C to stop)...")
		}

		if err := syncer.Connect(ctx, *threadID); err != nil {
			if errors.Is(err, auth.ErrRefreshFailed) {
				a.fail(sessionHint(err))
			}
			if ctx.Err() != nil {
				break
			}
			log.Printf("[watch] connect failed: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
		case <-syncer.Done():
			log.Printf("[watch] stream closed, reconnecting")
		}
		if ctx.Err() != nil {
			break
		}
	}

	syncer.Disconnect()
	fmt.Println("\nStopped")
}

func pushDialer(d *push.Dialer) thread.Dialer {
	return thread.DialerFunc(func(ctx context.Context, threadID int64, token string) (thread.Channel, error) {
		conn, err := d.Dial(ctx, threadID, token)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func printThread(tree *thread.Tree) {
	fmt.Println()
	tree.Walk(func(c *model.Comment, depth int) bool {
		indent := strings.Repeat("   ", depth)
		fmt.Printf("%s#%d %s · %s\n", indent, c.ID, c.User.Username, c.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("%s  %s\n", indent, oneLine(c.Text))
		for _, att := range c.Attachments {
			fmt.Printf("%s  [%s] %s\n", indent, att.MediaType, att.File)
		}
		return true
	})
	fmt.Printf("\n%d comments\n", tree.Len())
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 200 {
		return string(r[:197]) + "..."
	}
	return s
}
