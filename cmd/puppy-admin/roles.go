package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/puppy-social/puppy/internal/data"
	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/http/uiutil"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
)

const defaultActivityLimit = 20

// userRef names a user by ID or by email.
type userRef struct {
	ID    string
	Email string
}

func (u userRef) empty() bool { return u.ID == "" && u.Email == "" }

type grantRoleOptions struct {
	Admin userRef
	User  userRef
	Role  domainauth.Role
}

type activityOptions struct {
	Limit int
}

// userFinder resolves emails to actor IDs.
type userFinder interface {
	FindByEmail(ctx context.Context, email string) (ports.Credentials, error)
}

var _ userFinder = (*data.UserRepo)(nil)

func resolveUser(ctx context.Context, users userFinder, ref userRef) (string, error) {
	if ref.ID != "" {
		return ref.ID, nil
	}
	creds, err := users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(ref.Email)))
	if err != nil {
		return "", fmt.Errorf("find user %q: %w", ref.Email, err)
	}
	return creds.Actor.ID, nil
}

// withAdminDeps runs f with connected role services under a signal-aware timeout.
func withAdminDeps(cmdCtx *commandContext, f func(ctx context.Context, deps *adminDeps) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	deps, err := openAdminDeps(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := deps.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close connections failed", "error", cerr)
		}
	}()
	return f(ctx, deps)
}

func runBootstrapAdmin(cmdCtx *commandContext, args []string) error {
	ref, err := parseBootstrapAdminFlags(args)
	if err != nil {
		return err
	}
	return withAdminDeps(cmdCtx, func(ctx context.Context, deps *adminDeps) error {
		userID, err := resolveUser(ctx, deps.Users, ref)
		if err != nil {
			return err
		}
		if err := deps.Roles.BootstrapAdmin(ctx, userID); err != nil {
			if errors.Is(err, service.ErrAdminExists) {
				return errors.New("an administrator already exists; use grant-role instead")
			}
			return err
		}
		return writef(os.Stdout, "Granted admin to %s.\n", userID)
	})
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseGrantRoleFlags(args)
	if err != nil {
		return err
	}
	return withAdminDeps(cmdCtx, func(ctx context.Context, deps *adminDeps) error {
		adminID, err := resolveUser(ctx, deps.Users, opts.Admin)
		if err != nil {
			return err
		}
		userID, err := resolveUser(ctx, deps.Users, opts.User)
		if err != nil {
			return err
		}
		if err := deps.Roles.SetRole(ctx, service.SetRoleInput{
			AdminID: adminID,
			UserID:  userID,
			Role:    opts.Role,
		}); err != nil {
			return err
		}
		return writef(os.Stdout, "Set role of %s to %s.\n", userID, opts.Role)
	})
}

func runListRoles(cmdCtx *commandContext, _ []string) error {
	return withAdminDeps(cmdCtx, func(ctx context.Context, deps *adminDeps) error {
		assignments, err := deps.Roles.ListRoles(ctx)
		if err != nil {
			return err
		}
		return renderRoles(os.Stdout, assignments)
	})
}

func runActivity(cmdCtx *commandContext, args []string) error {
	opts, err := parseActivityFlags(args)
	if err != nil {
		return err
	}
	return withAdminDeps(cmdCtx, func(ctx context.Context, deps *adminDeps) error {
		records, err := data.NewActivityLogRepo(deps.DB).Recent(ctx, opts.Limit)
		if err != nil {
			return fmt.Errorf("load activity: %w", err)
		}
		return renderActivity(os.Stdout, records)
	})
}

func renderRoles(w io.Writer, assignments map[string][]domainauth.Role) error {
	if len(assignments) == 0 {
		return writeln(w, "No role assignments.")
	}
	ids := make([]string, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "USER\tROLES\n"); err != nil {
		return err
	}
	for _, id := range ids {
		names := make([]string, 0, len(assignments[id]))
		for _, r := range assignments[id] {
			names = append(names, string(r))
		}
		if err := writef(tw, "%s\t%s\n", id, strings.Join(names, ",")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func renderActivity(w io.Writer, records []ports.ActivityRecord) error {
	if len(records) == 0 {
		return writeln(w, "No activity recorded.")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "WHEN\tADMIN\tACTION\tTARGET\n"); err != nil {
		return err
	}
	for _, rec := range records {
		admin := rec.AdminUsername
		if admin == "" {
			admin = rec.AdminID
		}
		target := rec.TargetID
		if rec.TargetType != "" {
			target = rec.TargetType + ":" + rec.TargetID
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\n",
			uiutil.FormatFriendlyDateTime(rec.CreatedAt), admin, rec.Action, target); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func addUserFlags(fs *flag.FlagSet, ref *userRef, prefix, who string) {
	fs.StringVar(&ref.ID, prefix, "", "ID of the "+who)
	fs.StringVar(&ref.Email, prefix+"-email", "", "Email of the "+who+" (alternative to --"+prefix+")")
}

func parseBootstrapAdminFlags(args []string) (userRef, error) {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var ref userRef
	addUserFlags(fs, &ref, "user", "user to promote")
	if err := fs.Parse(args); err != nil {
		return userRef{}, err
	}
	if ref.empty() {
		return userRef{}, errors.New("--user or --user-email is required")
	}
	return ref, nil
}

func parseGrantRoleFlags(args []string) (grantRoleOptions, error) {
	fs := flag.NewFlagSet("grant-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts grantRoleOptions
		role string
	)
	addUserFlags(fs, &opts.Admin, "admin", "administrator making the change")
	addUserFlags(fs, &opts.User, "user", "user whose role changes")
	fs.StringVar(&role, "role", "", "Role to assign: admin, moderator or user")
	if err := fs.Parse(args); err != nil {
		return grantRoleOptions{}, err
	}

	if opts.Admin.empty() {
		return grantRoleOptions{}, errors.New("--admin or --admin-email is required")
	}
	if opts.User.empty() {
		return grantRoleOptions{}, errors.New("--user or --user-email is required")
	}
	parsed, ok := domainauth.ParseRole(strings.ToLower(strings.TrimSpace(role)))
	if !ok {
		return grantRoleOptions{}, fmt.Errorf("--role must be admin, moderator or user (got %q)", role)
	}
	opts.Role = parsed
	return opts, nil
}

func parseActivityFlags(args []string) (activityOptions, error) {
	fs := flag.NewFlagSet("activity", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := activityOptions{Limit: defaultActivityLimit}
	fs.IntVar(&opts.Limit, "limit", defaultActivityLimit, "Maximum number of entries to show")
	if err := fs.Parse(args); err != nil {
		return activityOptions{}, err
	}
	if opts.Limit <= 0 {
		return activityOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}
