// Command forumctl is a CLI client for the forum auth HTTP API.
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
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage(w io.Writer) {
	fmt.Fprint(w, `forumctl CLI
Usage:
  forumctl -addr URL <cmd> [args]

Commands:
  version
  register     -email <email> -u <username> -p <password> [-avatar <url>]
  login        -u <username|email> -p <password>     (saves session)
  refresh                                          (rotates the refresh token)
  profile
  logout
  logout-all
  permissions                                      (permission catalog)
  roles
  set-perms    -role <uuid> -file <json array|->
  assign-role  -user <id> [-role <uuid>]           (no -role restores the default)
`)
}

// main dispatches subcommands against the server at -addr.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, newClient(*addr, *timeout), flag.Args(), os.Stdout); err != nil {
		fail(err)
	}
}

func run(ctx context.Context, c *client, args []string, stdout io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {

	case "version":
		fmt.Fprintf(stdout, "forumctl %s (%s)\n", version, buildDate)
		return nil

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		email := fs.String("email", "", "email")
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		avatar := fs.String("avatar", "", "avatar URL")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" || *u == "" || *p == "" {
			return errors.New("need -email, -u and -p")
		}
		in := map[string]any{"email": *email, "username": *u, "password": *p}
		if *avatar != "" {
			in["avatar"] = *avatar
		}
		var out map[string]any
		if _, err := c.do(ctx, http.MethodPost, "/auth/register", nil, in, &out); err != nil {
			return err
		}
		printJSON(stdout, out)
		return nil

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		u := fs.String("u", "", "username or email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *u == "" || *p == "" {
			return errors.New("need -u and -p")
		}
		s, info, err := c.login(ctx, *u, *p)
		if err != nil {
			return err
		}
		if err := saveSession(s); err != nil {
			return err
		}
		printJSON(stdout, info)
		return nil

	case "refresh":
		s, err := loadSession()
		if err != nil {
			return err
		}
		ns, err := c.refresh(ctx, s)
		if err != nil {
			return dropOnReuse(err)
		}
		if err := saveSession(ns); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "logout", "logout-all":
		path := "/auth/" + cmd
		if err := authed(ctx, c, http.MethodPost, path, nil, nil); err != nil {
			return err
		}
		if err := clearSession(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "profile":
		return authedPrint(ctx, c, stdout, "/auth/profile")

	case "permissions":
		return authedPrint(ctx, c, stdout, "/admin/permissions")

	case "roles":
		return authedPrint(ctx, c, stdout, "/admin/roles")

	case "set-perms":
		fs := flag.NewFlagSet("set-perms", flag.ContinueOnError)
		role := fs.String("role", "", "role id (uuid)")
		file := fs.String("file", "", "JSON array of permission codes, - for stdin")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		id, err := uuid.FromString(*role)
		if err != nil {
			return fmt.Errorf("bad -role: %w", err)
		}
		if *file == "" {
			return errors.New("need -file")
		}
		raw, err := readAll(*file)
		if err != nil {
			return err
		}
		var codes []string
		if err := json.Unmarshal(raw, &codes); err != nil {
			return fmt.Errorf("permissions file: %w", err)
		}
		var out map[string]any
		if err := authed(ctx, c, http.MethodPut, "/admin/roles/"+id.String()+"/permissions",
			map[string]any{"permissions": codes}, &out); err != nil {
			return err
		}
		printJSON(stdout, out)
		return nil

	case "assign-role":
		fs := flag.NewFlagSet("assign-role", flag.ContinueOnError)
		user := fs.Int64("user", 0, "user id")
		role := fs.String("role", "", "role id (uuid); empty restores the default role")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *user <= 0 {
			return errors.New("need -user")
		}
		var roleID *uuid.UUID
		if *role != "" {
			id, err := uuid.FromString(*role)
			if err != nil {
				return fmt.Errorf("bad -role: %w", err)
			}
			roleID = &id
		}
		path := "/admin/users/" + strconv.FormatInt(*user, 10) + "/role"
		if err := authed(ctx, c, http.MethodPut, path, map[string]any{"role_id": roleID}, nil); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", strings.TrimSpace(cmd))
	}
}

// authed runs one request with the stored session, rotating it first when the
// access token has expired.
func authed(ctx context.Context, c *client, method, path string, in, out any) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	s, rotated, err := c.ensure(ctx, s)
	if err != nil {
		return dropOnReuse(err)
	}
	if rotated {
		if err := saveSession(s); err != nil {
			return err
		}
	}
	_, err = c.do(ctx, method, path, &s, in, out)
	return err
}

func authedPrint(ctx context.Context, c *client, w io.Writer, path string) error {
	var out any
	if err := authed(ctx, c, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	printJSON(w, out)
	return nil
}

// dropOnReuse forgets the local session once the server reports reuse; every
// session of the account has been revoked by then.
func dropOnReuse(err error) error {
	var ae *apiError
	if errors.As(err, &ae) && ae.Code == "token_reuse_detected" {
		_ = clearSession()
	}
	return err
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", ae.Status, ae.Code, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
