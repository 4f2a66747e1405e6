package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/pansave/internal/cookiefile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Import browser cookies and verify the login",
		Long: `Import the cookies of a logged-in browser session. Pass them as a Cookie
header ("BDUSS=...; STOKEN=..."), point at a file holding such a header or a
saved cookie file, or paste the header on stdin.

The cookies are checked with the provider before they are saved.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("cookie-string", "", "cookie header copied from the browser")
	cmd.Flags().String("file", "", "file holding a cookie header or saved cookie file")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved cookies",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the logged-in account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cookieString, _ := cmd.Flags().GetString("cookie-string")
	file, _ := cmd.Flags().GetString("file")

	cookies, err := readCookies(cookieString, file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	sess, err := svc.Sessions.Login(cmd.Context(), cookies)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	cc.Logger.Info("login successful",
		slog.Int64("uk", sess.UK()),
		slog.String("cookie_file", svc.Sessions.CookiePath()),
	)
	cc.Statusf("Logged in as %s.\n", accountName(sess.Username(), sess.UK()))

	return nil
}

// readCookies takes the cookie set from the first source given: the flag
// string, a file, or one line of stdin.
func readCookies(cookieString, file string, stdin io.Reader) (map[string]string, error) {
	switch {
	case cookieString != "":
		cookies := cookiefile.ParseHeader(cookieString)
		if len(cookies) == 0 {
			return nil, fmt.Errorf("--cookie-string holds no cookies")
		}

		return cookies, nil

	case file != "":
		f, err := cookiefile.Load(file)
		if err != nil {
			return nil, err
		}

		if f == nil {
			return nil, fmt.Errorf("cookie file %s does not exist", file)
		}

		return f.Cookies, nil
	}

	fmt.Fprint(os.Stderr, "Paste the Cookie header and press Enter: ")

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return nil, fmt.Errorf("reading cookies from stdin: %w", err)
	}

	cookies := cookiefile.ParseHeader(strings.TrimSpace(line))
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies entered")
	}

	return cookies, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	if err := svc.Sessions.Logout(); err != nil {
		return err
	}

	cc.Logger.Info("logout successful", slog.String("cookie_file", svc.Sessions.CookiePath()))
	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	UK         int64  `json:"uk"`
	Username   string `json:"username"`
	CookieFile string `json:"cookie_file"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	sess, err := svc.Sessions.Session(cmd.Context())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(whoamiOutput{
			UK:         sess.UK(),
			Username:   sess.Username(),
			CookieFile: svc.Sessions.CookiePath(),
		})
	}

	fmt.Printf("User:    %s\n", accountName(sess.Username(), sess.UK()))
	fmt.Printf("Cookies: %s\n", svc.Sessions.CookiePath())

	return nil
}

func accountName(username string, uk int64) string {
	if username == "" {
		return fmt.Sprintf("uk %d", uk)
	}

	return fmt.Sprintf("%s (uk %d)", username, uk)
}
