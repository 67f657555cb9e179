package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/store/pg"
	"gatehouse.dev/ops/migrations"
)

const usage = "usage: migrate [-dsn DSN] up|down|seed|status|bootstrap-admin -username U -email E -password P"

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("GATEHOUSE_PG_DSN"), "PostgreSQL DSN")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATEHOUSE_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.Schema(), migrations.Seeds())

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, store, args)
	default:
		log.Fatalf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}

// bootstrapAdmin creates the first account and gives it super_admin. User
// creation is otherwise outside this service.
func bootstrapAdmin(ctx context.Context, store *pg.Store, args []string) error {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ContinueOnError)
	username := fs.String("username", "", "admin username")
	email := fs.String("email", "", "admin email")
	password := fs.String("password", os.Getenv("GATEHOUSE_BOOTSTRAP_PASSWORD"), "admin password")
	cost := fs.Int("cost", auth.DefaultHashCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" || !strings.Contains(*email, "@") || *password == "" {
		return fmt.Errorf("%w: -username, -email and -password are required", auth.ErrInvalidInput)
	}

	hasher, err := auth.NewHasher(*cost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(*password)
	if err != nil {
		return err
	}
	user, err := store.Users().Create(ctx, strings.TrimSpace(*username), strings.TrimSpace(*email), hash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	superAdmin, err := store.Roles().GetByName(ctx, auth.RoleSuperAdmin)
	if err != nil {
		return fmt.Errorf("find %s (run seed first): %w", auth.RoleSuperAdmin, err)
	}
	if _, err := store.Roles().ReplaceUserRoles(ctx, user.ID, []int64{superAdmin.ID}, 0); err != nil {
		return fmt.Errorf("assign %s: %w", auth.RoleSuperAdmin, err)
	}
	fmt.Printf("created user %d (%s) with role %s\n", user.ID, user.Username, auth.RoleSuperAdmin)
	return nil
}
