package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cdm-client/internal/config"
	"cdm-client/internal/lock"
	"cdm-client/internal/migration"
	"cdm-client/internal/repository/sqlite"
	"cdm-client/internal/storage"
	"cdm-client/internal/torrentclient"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// newAdapter is swapped out in tests.
var newAdapter = torrentclient.New

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type side struct {
	typ  torrentclient.Type
	opts torrentclient.Options
}

type options struct {
	source, target side
	dryRun         bool
	verbose        bool
	database       string
	archive        storage.Options
}

// execute runs the migration tool and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "migration failed: %v\n", r)
			code = exitFailure
		}
	}()

	code = exitOK
	cmd := newRootCmd(&code)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(stderr, cmd.UsageString())
			return exitUsage
		}
		return exitFailure
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CDM_MIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var opts options
	cmd := &cobra.Command{
		Use:   "cdm-migrate",
		Short: "Move every torrent from one client backend to another",
		Long:  `cdm-migrate copies all torrents from the source backend into the target backend and repoints the tracker mappings at the new IDs. Nothing is removed from the source.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unexpected arguments: %s", strings.Join(args, " "))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			parsed, err := parseOptions(v)
			if err != nil {
				return err
			}
			opts = parsed
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runMigration(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if report != nil {
				report.Print(cmd.OutOrStdout())
				*code = report.ExitCode()
			}
			return err
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	flags := cmd.Flags()
	for _, name := range []string{"source", "target"} {
		flags.String(name+"-type", "", fmt.Sprintf("%s backend: %s", name, typeList()))
		flags.String(name+"-host", torrentclient.DefaultHost, name+" backend host")
		flags.Int(name+"-port", 0, name+" backend port (9091 for transmission, 8080 for qbittorrent)")
		flags.String(name+"-username", "", name+" backend username")
		flags.String(name+"-password", "", name+" backend password")
	}
	flags.Bool("dry-run", false, "report what would be migrated without changing anything")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("database", config.DefaultDatabasePath(), "mapping database path")
	flags.String("archive-bucket", "", "S3 bucket that receives a copy of every migrated .torrent")
	flags.String("archive-prefix", "cdm-migrate", "key prefix inside the archive bucket")
	flags.String("archive-region", "us-east-1", "archive bucket region")
	flags.String("archive-endpoint", "", "custom S3 endpoint for compatible stores")
	return cmd
}

func typeList() string {
	names := make([]string, len(torrentclient.Types))
	for i, t := range torrentclient.Types {
		names[i] = string(t)
	}
	return strings.Join(names, "|")
}

func parseSide(v *viper.Viper, name string) (side, error) {
	raw := v.GetString(name + "-type")
	if strings.TrimSpace(raw) == "" {
		return side{}, usagef("--%s-type is required", name)
	}
	t, err := torrentclient.ParseType(raw)
	if err != nil {
		return side{}, usagef("--%s-type: %v", name, err)
	}
	return side{
		typ: t,
		opts: torrentclient.Options{
			Host:     v.GetString(name + "-host"),
			Port:     v.GetInt(name + "-port"),
			Username: v.GetString(name + "-username"),
			Password: v.GetString(name + "-password"),
		},
	}, nil
}

// parseOptions rejects malformed input before any backend is contacted.
func parseOptions(v *viper.Viper) (options, error) {
	source, err := parseSide(v, "source")
	if err != nil {
		return options{}, err
	}
	target, err := parseSide(v, "target")
	if err != nil {
		return options{}, err
	}
	if source.typ == target.typ {
		return options{}, usagef("source and target must be different client types")
	}
	if source.opts.Endpoint(source.typ) == target.opts.Endpoint(target.typ) {
		return options{}, usagef("source and target point at the same endpoint %s", source.opts.Endpoint(source.typ))
	}
	return options{
		source:   source,
		target:   target,
		dryRun:   v.GetBool("dry-run"),
		verbose:  v.GetBool("verbose"),
		database: v.GetString("database"),
		archive: storage.Options{
			Bucket:    v.GetString("archive-bucket"),
			KeyPrefix: v.GetString("archive-prefix"),
			Region:    v.GetString("archive-region"),
			Endpoint:  v.GetString("archive-endpoint"),
		},
	}, nil
}

func runMigration(ctx context.Context, opts options, stdout, stderr io.Writer) (*migration.Report, error) {
	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	opts.source.opts.Logger = logger
	opts.target.opts.Logger = logger

	source, err := newAdapter(ctx, opts.source.typ, opts.source.opts)
	if err != nil {
		return nil, fmt.Errorf("connect source %s: %w", opts.source.typ, err)
	}
	target, err := newAdapter(ctx, opts.target.typ, opts.target.opts)
	if err != nil {
		return nil, fmt.Errorf("connect target %s: %w", opts.target.typ, err)
	}

	m := &migration.Migrator{
		Source:     source,
		Target:     target,
		TargetType: opts.target.typ,
		DryRun:     opts.dryRun,
		Logger:     logger,
		Out:        stdout,
	}

	if !opts.dryRun {
		dbLock, err := lock.Acquire(opts.database)
		if err != nil {
			return nil, err
		}
		defer dbLock.Release()

		db, err := sqlite.Open(opts.database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		mappings := sqlite.NewMappingRepository(db)
		if err := mappings.Init(ctx); err != nil {
			return nil, fmt.Errorf("init mapping repository: %w", err)
		}
		m.Mappings = mappings

		if opts.archive.Bucket != "" {
			archive, err := storage.NewS3Archive(ctx, opts.archive)
			if err != nil {
				return nil, fmt.Errorf("setup archive: %w", err)
			}
			logger.Infof("archiving payloads to s3://%s/%s", opts.archive.Bucket, opts.archive.KeyPrefix)
			m.Archive = archive
		}
	}

	return m.Run(ctx)
}
