package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memohai/statebot/internal/roles"
	"github.com/memohai/statebot/internal/router"
)

// RoleManager is the part of roles.Service the account commands use.
type RoleManager interface {
	LoginAs(ctx context.Context, role, userID, password string) error
	LogoutAs(ctx context.Context, role, userID string) error
}

// LocaleStore is the part of usermeta.Service the account commands use.
type LocaleStore interface {
	GetLocale(ctx context.Context, id string) (string, error)
	SetLocale(ctx context.Context, id, locale string) error
}

// registerAccountRoutes adds the login, logout, whoami and locale commands.
func registerAccountRoutes(r *router.Router, rm RoleManager, locales LocaleStore) error {
	routes := []router.CommandRoute{
		{Command: "login", Handler: loginHandler(rm)},
		{Command: "logout", Handler: logoutHandler(rm)},
		{Command: "whoami", Handler: whoamiHandler},
		{Command: "locale", Handler: localeHandler(locales)},
	}
	for _, cr := range routes {
		if err := r.RegisterCommandRoute(cr); err != nil {
			return err
		}
	}
	return nil
}

func loginHandler(rm RoleManager) router.HandlerFunc {
	return func(ctx context.Context, req router.Request) error {
		if len(req.Args) == 0 {
			return req.Reply.Reply(ctx, "Usage: /login <role> [password]")
		}
		role := req.Args[0]
		password := strings.Join(req.Args[1:], " ")
		err := rm.LoginAs(ctx, role, req.User.ID, password)
		switch {
		case err == nil:
			return req.Reply.Reply(ctx, fmt.Sprintf("Logged in as %s.", role))
		case errors.Is(err, roles.ErrAlreadyLoggedIn):
			return req.Reply.Reply(ctx, fmt.Sprintf("Already logged in as %s.", role))
		default:
			if text, ok := roleErrorText(err); ok {
				return req.Reply.Reply(ctx, text)
			}
			return err
		}
	}
}

func logoutHandler(rm RoleManager) router.HandlerFunc {
	return func(ctx context.Context, req router.Request) error {
		if len(req.Args) != 1 {
			return req.Reply.Reply(ctx, "Usage: /logout <role>")
		}
		role := req.Args[0]
		err := rm.LogoutAs(ctx, role, req.User.ID)
		switch {
		case err == nil:
			return req.Reply.Reply(ctx, fmt.Sprintf("Logged out of %s.", role))
		case errors.Is(err, roles.ErrNotLoggedIn):
			return req.Reply.Reply(ctx, fmt.Sprintf("Not logged in as %s.", role))
		default:
			if text, ok := roleErrorText(err); ok {
				return req.Reply.Reply(ctx, text)
			}
			return err
		}
	}
}

func roleErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, roles.ErrUnknownRole):
		return "Unknown role.", true
	case errors.Is(err, roles.ErrPassword):
		return "Wrong password.", true
	case errors.Is(err, roles.ErrUserNotFound):
		return "Send /start first.", true
	}
	return "", false
}

func whoamiHandler(ctx context.Context, req router.Request) error {
	u := req.User
	name := u.Username
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	lines := []string{
		fmt.Sprintf("id: %s", u.ID),
		fmt.Sprintf("name: %s", name),
		fmt.Sprintf("state: %s", u.State),
		fmt.Sprintf("roles: %s", strings.Join(u.Roles, ", ")),
	}
	if !u.Known {
		lines = append(lines, "Send /start to register.")
	}
	return req.Reply.Reply(ctx, strings.Join(lines, "\n"))
}

func localeHandler(locales LocaleStore) router.HandlerFunc {
	return func(ctx context.Context, req router.Request) error {
		if !req.User.Known {
			return req.Reply.Reply(ctx, "Send /start first.")
		}
		if len(req.Args) == 0 {
			locale, err := locales.GetLocale(ctx, req.User.ID)
			if err != nil || locale == "" {
				return req.Reply.Reply(ctx, "No locale set.")
			}
			return req.Reply.Reply(ctx, "Locale: "+locale)
		}
		locale := strings.ToLower(req.Args[0])
		if err := locales.SetLocale(ctx, req.User.ID, locale); err != nil {
			return err
		}
		return req.Reply.Reply(ctx, "Locale set to "+locale+".")
	}
}
