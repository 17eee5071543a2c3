package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lobbybee/frontdesk/internal/app"
	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/config"
	"github.com/lobbybee/frontdesk/internal/lock"
	"github.com/lobbybee/frontdesk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", profile.ConfigPath(), "config file path")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag, profile.EnvPath())
	if err != nil {
		fatalf("%v", err)
	}
	profileName := profile.Resolve(*profileFlag, cfg.DefaultProfile)
	if err := profile.ValidateName(profileName); err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, profileName, cfg, *jsonFlag)
	case "profiles":
		if len(args) >= 2 && args[1] == "list" {
			cmdProfilesList(*jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: frontdeskctl profiles list")
			os.Exit(1)
		}
	case "config":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: frontdeskctl config <show|init>")
			os.Exit(1)
		}
		cmdConfig(args[1], *configFlag, cfg, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: frontdeskctl [--profile <name>] [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show whether the client is running and connected")
	fmt.Fprintln(os.Stderr, "  profiles list    List known profiles")
	fmt.Fprintln(os.Stderr, "  config show      Print the effective configuration")
	fmt.Fprintln(os.Stderr, "  config init      Write a default config file")
}

type statusReport struct {
	Profile   string     `json:"profile"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Health    string     `json:"health,omitempty"`
	Chat      string     `json:"chat,omitempty"`
	HasToken  bool       `json:"has_token"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Expired   bool       `json:"token_expired"`
}

func cmdStatus(ctx context.Context, profileName string, cfg *config.Config, jsonOut bool) {
	r := statusReport{Profile: profileName}

	lockPath := profile.LockPath(profileName)
	held := false
	if _, err := os.Stat(profile.Dir(profileName)); err == nil {
		if held, err = lock.Held(lockPath); err != nil {
			fatalf("check lock: %v", err)
		}
	}
	if held {
		r.Running = true
		if h, err := lock.Read(lockPath); err == nil {
			r.PID = h.PID
			if !h.Started.IsZero() {
				r.Since = &h.Started
			}
		}
		rep, err := app.Probe(ctx, profile.SocketPath(profileName))
		if err != nil {
			r.Health = "unreachable"
		} else {
			r.Health = rep.Process.String()
			r.Chat = rep.Chat.String()
		}
	}

	tokenPath := cfg.TokenFile
	if tokenPath == "" {
		tokenPath = profile.TokenPath(profileName)
	}
	tok, err := auth.Chain{auth.Static(cfg.Token), auth.File{Path: tokenPath}}.Token(ctx)
	switch {
	case err == nil:
		r.HasToken = true
		if c, err := auth.Inspect(tok); err == nil {
			r.UserID = c.UserID
			if !c.ExpiresAt.IsZero() {
				r.ExpiresAt = &c.ExpiresAt
			}
			r.Expired = c.Expired(time.Now())
		}
	case !errors.Is(err, auth.ErrNoToken):
		fatalf("read token: %v", err)
	}

	if jsonOut {
		outputJSON(r)
		return
	}
	fmt.Printf("Profile: %s\n", r.Profile)
	if r.Running {
		fmt.Printf("Client:  running (PID %d)\n", r.PID)
		if r.Since != nil {
			fmt.Printf("Since:   %s\n", r.Since.Local().Format(time.DateTime))
		}
		fmt.Printf("Health:  %s\n", r.Health)
		if r.Chat != "" {
			fmt.Printf("Chat:    %s\n", r.Chat)
		}
	} else {
		fmt.Println("Client:  stopped")
	}
	switch {
	case !r.HasToken:
		fmt.Println("Token:   none")
	case r.Expired:
		fmt.Printf("Token:   expired at %s\n", r.ExpiresAt.Local().Format(time.DateTime))
	case r.ExpiresAt != nil:
		fmt.Printf("Token:   valid until %s (user %s)\n", r.ExpiresAt.Local().Format(time.DateTime), r.UserID)
	default:
		fmt.Println("Token:   present")
	}
}

func cmdProfilesList(jsonOut bool) {
	names, err := profile.List()
	if err != nil {
		fatalf("%v", err)
	}
	type entry struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Running bool   `json:"running"`
	}
	entries := make([]entry, 0, len(names))
	for _, n := range names {
		held, _ := lock.Held(profile.LockPath(n))
		entries = append(entries, entry{Name: n, Path: profile.Dir(n), Running: held})
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, e := range entries {
		running := "stopped"
		if e.Running {
			running = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", e.Name, e.Path, running)
	}
}

func cmdConfig(sub, path string, cfg *config.Config, jsonOut bool) {
	switch sub {
	case "show":
		if jsonOut {
			shown := *cfg
			if shown.Token != "" {
				shown.Token = "<redacted>"
			}
			outputJSON(shown)
			return
		}
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fatalf("encode config: %v", err)
		}
	case "init":
		if _, err := os.Stat(path); err == nil {
			fatalf("%s already exists", path)
		}
		def := config.Default()
		if err := config.Save(path, &def); err != nil {
			fatalf("write config: %v", err)
		}
		fmt.Printf("Wrote %s\n", path)
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
