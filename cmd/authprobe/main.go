// Command authprobe drives a token session from the command line: it logs in, keeps the
// access token renewed, and calls protected endpoints through the refresh-aware agent.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gogotex/jwtsession/internal/config"
	"github.com/gogotex/jwtsession/pkg/authclient"
	"github.com/gogotex/jwtsession/pkg/logger"
)

const usage = `usage: authprobe <command> [flags]

commands:
  login     -email E [-password P] [-remember] [-cookie]
  register  -email E -name N [-password P]
  logout
  whoami
  renew
  refresh-token     request a refresh token for the current session
  forget-refresh    revoke and forget the stored refresh token
  get PATH          GET a protected path and print the success payload
  watch             keep the session renewed until interrupted

The password may also come from AUTHPROBE_PASSWORD; otherwise it is prompted for.`

var stderr io.Writer = os.Stderr

// cliNavigator has no pages to go to. The saved location is the command line that was
// interrupted, and going back to it after login means telling the user to rerun it.
type cliNavigator struct {
	cmd       string
	loginPath string
	w         io.Writer
}

func (n cliNavigator) Location() string { return n.cmd }
func (n cliNavigator) Redirect(path string) {
	if path == n.loginPath {
		fmt.Fprintf(n.w, "session expired, log in again (%s)\n", n.cmd)
		return
	}
	fmt.Fprintf(n.w, "resume with: authprobe %s\n", path)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg := config.LoadClientConfig()
	if err := run(cfg, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "authprobe:", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, cmd string, args []string) error {
	storagePath := cfg.StoragePath
	if storagePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		storagePath = filepath.Join(dir, "authprobe", "session.json")
	}
	store, err := authclient.NewFileStorage(storagePath)
	if err != nil {
		return err
	}

	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = authclient.DefaultLoginPath
	}
	nav := cliNavigator{
		cmd:       strings.Join(append([]string{cmd}, args...), " "),
		loginPath: loginPath,
		w:         stderr,
	}
	agent, err := authclient.New(authclient.Config{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.Timeout},
		Storage:        store,
		Navigator:      nav,
		Notifier:       func(err error) { logger.Warn("request failed", "err", err) },
		AccessTokenTTL: cfg.AccessTokenTTL,
		RenewMargin:    cfg.RenewMargin,
		LoginPath:      loginPath,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "login", "register":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("email", "", "account email")
		name := fs.String("name", "", "display name (register)")
		password := fs.String("password", os.Getenv("AUTHPROBE_PASSWORD"), "account password")
		remember := fs.Bool("remember", true, "request a refresh token")
		cookie := fs.Bool("cookie", false, "also ask for cookies")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *password == "" {
			if *password, err = promptPassword(stderr); err != nil {
				return err
			}
		}
		var res *authclient.AuthResult
		if cmd == "login" {
			res, err = agent.Login(ctx, *email, *password, *remember, *cookie)
		} else {
			res, err = agent.Register(ctx, *email, *password, *name, *remember, *cookie)
		}
		if err != nil {
			return err
		}
		return printJSON(res.User)
	case "logout":
		return agent.Logout(ctx)
	case "whoami":
		u, err := agent.CurrentUser(ctx)
		if err != nil {
			return err
		}
		return printJSON(u)
	case "renew":
		return agent.Renew(ctx)
	case "refresh-token":
		_, err := agent.RequestRefreshToken(ctx)
		return err
	case "forget-refresh":
		return agent.RemoveRefreshToken(ctx)
	case "get":
		if len(args) != 1 {
			return errors.New("get needs exactly one path")
		}
		var out json.RawMessage
		if err := agent.GetJSON(ctx, args[0], &out); err != nil {
			return err
		}
		return printJSON(out)
	case "watch":
		agent.StartRenewal(ctx)
		defer agent.StopRenewal()
		logger.Info("renewing session until interrupted", "base", cfg.BaseURL)
		<-ctx.Done()
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
