package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/insightserenity/access/cmd/access/cli"
	"github.com/insightserenity/access/internal/app"
	"github.com/insightserenity/access/internal/authz"
	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/observability"
	"github.com/insightserenity/access/internal/permsets"
	"github.com/insightserenity/access/internal/platform/cache"
	"github.com/insightserenity/access/internal/platform/db"
	"github.com/insightserenity/access/internal/principals"
	"github.com/insightserenity/access/internal/roles"
	"github.com/insightserenity/access/internal/seed"
	"github.com/insightserenity/access/jobs"
)

const usage = `usage: access <command> [flags]

commands:
  seed                        idempotently bootstrap catalog, sets and roles
  authorize                   evaluate an authorization check
  role inspect|clone          inspect or duplicate a role
  sets list|resolve           inspect the permission set registry
  jobs trigger|stats          manage background jobs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) error {
	switch command {
	case "seed":
		return runSeed(ctx, cfg, logger)
	case "authorize":
		return runAuthorize(ctx, cfg, logger, args)
	case "role":
		return runRole(ctx, cfg, logger, args)
	case "sets":
		return runSets(ctx, cfg, logger, args)
	case "jobs":
		return runJobs(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// services wires the shared dependency graph behind the subcommands.
type services struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
	catalog     *catalog.Service
	sets        *permsets.Service
	roles       *roles.Service
	evaluator   *authz.Service
	seeder      *seed.Seeder
}

func asynqRedisOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr}
}

func buildServices(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*services, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// A nil client puts both caches in pass-through mode, so an unreachable
	// Redis degrades to direct reads instead of a warning on every lookup.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, coverage cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	coverageCache := authz.NewCache(redisClient, cfg.DecisionCacheTTL)

	catalogService := catalog.NewService(catalog.NewRepository(pool), logger)
	catalogSource := catalog.NewCachedSource(catalogService, redisClient, cfg.CatalogCacheTTL, logger)
	roleRepo := roles.NewRepository(pool)
	principalRepo := principals.NewRepository(pool)
	roleService := roles.NewService(roleRepo, catalogService, principalRepo, coverageCache, logger)

	usageClient, err := jobs.NewClient(asynqRedisOpt(cfg))
	if err != nil {
		return nil, fmt.Errorf("init jobs client: %w", err)
	}

	metrics := observability.NewMetrics()
	evaluator := authz.NewService(roleService, catalogSource, coverageCache, usageClient, metrics, logger)

	setRepo := permsets.NewRepository(pool)
	seeder := seed.New(catalogService, setRepo, roleRepo, principalRepo, coverageCache, logger)

	return &services{
		pool:        pool,
		redisClient: redisClient,
		catalog:     catalogService,
		sets:        permsets.NewService(setRepo),
		roles:       roleService,
		evaluator:   evaluator,
		seeder:      seeder,
	}, nil
}

func (s *services) close(logger *slog.Logger) {
	if s == nil {
		return
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func runSeed(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	deps, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)
	return cli.NewSeedCLI(deps.seeder, os.Stdout).Run(ctx)
}

func runAuthorize(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	roleList := fs.String("roles", "", "comma separated role ids")
	permission := fs.String("permission", "", "permission code (resource:action)")
	contextJSON := fs.String("context", "", "request context as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)
	return cli.NewAuthorizeCLI(deps.evaluator, os.Stdout).Run(ctx, *roleList, *permission, *contextJSON)
}

func runRole(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("role: expected subcommand inspect or clone")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("role "+sub, flag.ContinueOnError)
	roleID := fs.Int64("id", 0, "role id")
	newName := fs.String("name", "", "new role name (clone)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *roleID <= 0 {
		return fmt.Errorf("role %s: -id required", sub)
	}

	deps, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	roleCLI := cli.NewRoleCLI(deps.roles, os.Stdout)
	switch sub {
	case "inspect":
		return roleCLI.Inspect(ctx, *roleID)
	case "clone":
		return roleCLI.Clone(ctx, *roleID, *newName)
	default:
		return fmt.Errorf("role: unknown subcommand %q", sub)
	}
}

func runSets(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("sets: expected subcommand list or resolve")
	}
	sub, args := args[0], args[1:]

	deps, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	setCLI := cli.NewSetCLI(deps.sets, os.Stdout)
	switch sub {
	case "list":
		return setCLI.List(ctx)
	case "resolve":
		if len(args) < 1 {
			return fmt.Errorf("sets resolve: set code required")
		}
		return setCLI.Resolve(ctx, args[0])
	default:
		return fmt.Errorf("sets: unknown subcommand %q", sub)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("jobs: expected subcommand trigger or stats")
	}
	sub, args := args[0], args[1:]

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	switch sub {
	case "trigger":
		if len(args) < 1 {
			return fmt.Errorf("jobs trigger: task type required")
		}
		info, err := jobsCLI.Trigger(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", sub)
	}
}
