package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"teamera_server/core/domain"
	"teamera_server/core/port/in"
	"teamera_server/core/service/profileview"
)

// withSession opens a session manager for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, m in.SessionManager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m, closeFn, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, m)
}

// resultError turns a failed result into an error carrying its message.
func resultError(r domain.Result) error {
	if r.Success {
		return nil
	}
	return errors.New(r.Error)
}

func requireFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := requireFlag(cmd, "email")
		if err != nil {
			return err
		}
		password, err := requireFlag(cmd, "password")
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			r := m.Login(ctx, email, password)
			if err := resultError(r); err != nil {
				return err
			}
			printSuccess("Signed in as %s", displayName(r.User, email))
			return nil
		})
	},
}

// --- signup ---

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Long: `Create an account.

Examples:
  teamera signup --name "Ada Lovelace" --email ada@example.com --password s3cret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		user, err := domain.NewUser(domain.UserInput{Name: name, Email: email})
		if err != nil {
			return err
		}
		password, err := requireFlag(cmd, "password")
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			r := m.Signup(ctx, user.Email, password, user.Name)
			if err := resultError(r); err != nil {
				return err
			}
			if r.RequiresEmailConfirmation {
				printWarning("%s", r.Message)
				return nil
			}
			printSuccess("Welcome, %s", user.Name)
			if r.User != nil && r.User.NeedsOnboarding {
				printStep("Complete your profile with: teamera update-profile")
			}
			return nil
		})
	},
}

// --- logout ---

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			if err := resultError(m.Logout(ctx)); err != nil {
				return err
			}
			printSuccess("Signed out")
			return nil
		})
	},
}

// --- whoami ---

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the session state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			st := m.State()
			out := map[string]any{
				"isAuthenticated": st.IsAuthenticated,
				"user":            st.User,
			}
			if st.Session != nil {
				out["expiresAt"] = st.Session.ExpiresAt
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your profile card",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			st := m.State()
			if !st.IsAuthenticated {
				return errors.New("not signed in")
			}
			if st.User == nil {
				printWarning("No profile yet")
				return nil
			}
			printView(stdout, profileview.Build(st.User))
			return nil
		})
	},
}

// --- update-profile ---

var updateProfileCmd = &cobra.Command{
	Use:   "update-profile",
	Short: "Change profile fields",
	Long: `Change profile fields. Only the flags given are changed.

Examples:
  teamera update-profile --title "Staff Engineer" --location Berlin
  teamera update-profile --skills "Go,PostgreSQL,Kubernetes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			st := m.State()
			if !st.IsAuthenticated {
				return errors.New("not signed in")
			}
			fields := &domain.Profile{}
			if st.User != nil {
				fields = st.User.Clone()
			}
			changed, err := applyProfileFlags(cmd, fields)
			if err != nil {
				return err
			}
			if !changed {
				return errors.New("nothing to update")
			}
			r := m.UpdateProfile(ctx, fields)
			if err := resultError(r); err != nil {
				return err
			}
			printSuccess("Profile updated")
			return nil
		})
	},
}

// applyProfileFlags copies the flags that were set onto p.
func applyProfileFlags(cmd *cobra.Command, p *domain.Profile) (bool, error) {
	flags := cmd.Flags()
	changed := false

	optional := map[string]**string{
		"bio":       &p.Bio,
		"location":  &p.Location,
		"title":     &p.Title,
		"github":    &p.GithubURL,
		"linkedin":  &p.LinkedinURL,
		"portfolio": &p.PortfolioURL,
	}
	for name, dst := range optional {
		if !flags.Changed(name) {
			continue
		}
		v, _ := flags.GetString(name)
		*dst = domain.StringPtr(v)
		changed = true
	}

	if flags.Changed("name") {
		p.Name, _ = flags.GetString("name")
		if strings.TrimSpace(p.Name) == "" {
			return false, errors.New("--name cannot be empty")
		}
		changed = true
	}
	if flags.Changed("role") {
		v, _ := flags.GetString("role")
		role := domain.Role(v)
		if !role.Known() {
			return false, fmt.Errorf("unknown role %q", v)
		}
		p.Role = &role
		changed = true
	}
	if flags.Changed("skills") {
		v, _ := flags.GetString("skills")
		p.Skills = parseSkills(v)
		changed = true
	}
	return changed, nil
}

func parseSkills(s string) []domain.Skill {
	skills := []domain.Skill{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			skills = append(skills, domain.NamedSkill(part))
		}
	}
	return skills
}

// --- reset-password ---

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Email a password reset link",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := requireFlag(cmd, "email")
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			if err := resultError(m.ResetPassword(ctx, email)); err != nil {
				return err
			}
			printSuccess("Reset link sent to %s", email)
			return nil
		})
	},
}

// --- oauth ---

var oauthCmd = &cobra.Command{
	Use:   "oauth",
	Short: "Sign in with Google or Microsoft",
	Long: `Sign in with Google or Microsoft. Open the printed URL, then paste the
"code" parameter of the page you are redirected to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			r := m.SignInWithProvider(ctx, domain.OAuthProvider(provider))
			if err := resultError(r); err != nil {
				return err
			}
			printStep("Open this URL to continue:")
			fmt.Fprintln(stdout, r.RedirectURL)

			fmt.Fprint(os.Stderr, "Code: ")
			code, err := readLine(cmd)
			if err != nil {
				return err
			}
			if err := resultError(m.ExchangeCode(ctx, code)); err != nil {
				return err
			}
			printSuccess("Signed in with %s", provider)
			return nil
		})
	},
}

func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print profile changes as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, m in.SessionManager) error {
			if !m.State().IsAuthenticated {
				return errors.New("not signed in")
			}
			states, unsubscribe := m.Subscribe()
			defer unsubscribe()

			printStep("Watching for profile changes, Ctrl-C to stop")
			var last []byte
			for {
				select {
				case <-ctx.Done():
					return nil
				case st, ok := <-states:
					if !ok {
						return nil
					}
					if st.User == nil {
						continue
					}
					cur, _ := json.Marshal(st.User)
					if bytes.Equal(cur, last) {
						continue
					}
					last = cur
					printView(stdout, profileview.Build(st.User))
				}
			}
		})
	},
}

func displayName(p *domain.Profile, fallback string) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	return fallback
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", os.Getenv("TEAMERA_PASSWORD"), "account password (default from TEAMERA_PASSWORD)")

	signupCmd.Flags().String("name", "", "display name")
	signupCmd.Flags().String("email", "", "account email")
	signupCmd.Flags().String("password", "", "account password")

	resetPasswordCmd.Flags().String("email", "", "account email")

	oauthCmd.Flags().String("provider", string(domain.ProviderGoogle), "google or azure")

	for _, f := range []struct{ name, usage string }{
		{"name", "display name"},
		{"bio", "short bio"},
		{"location", "where you are based"},
		{"title", "job title shown on your card"},
		{"role", "founder, professional, investor or student"},
		{"github", "GitHub URL"},
		{"linkedin", "LinkedIn URL"},
		{"portfolio", "portfolio URL"},
		{"skills", "comma-separated skills"},
	} {
		updateProfileCmd.Flags().String(f.name, "", f.usage)
	}
}
