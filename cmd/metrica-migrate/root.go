package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/metricafm/metrica-cms/internal/config"
	"github.com/metricafm/metrica-cms/internal/database"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/service"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// envPrefix: переменные окружения CMS_<FLAG>, например CMS_STORE_DRIVER.
const envPrefix = "CMS"

// app: общее состояние команд. Свой экземпляр viper на каждое дерево команд.
type app struct {
	v      *viper.Viper
	out    io.Writer
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "metrica-migrate",
		Short: "Перенос контента между JSON-зеркалом и хранилищем документов",
		Long: `metrica-migrate переносит страницы и мегаменю между JSON-зеркалом
и хранилищем документов (PostgreSQL или SQLite).

Примеры:
  metrica-migrate import --dry-run
  metrica-migrate export --store-driver sqlite --sqlite-path data/metrica.db
  metrica-migrate seed --overwrite
  metrica-migrate verify --json

Каждый флаг можно задать переменной окружения CMS_<ФЛАГ>,
например CMS_STORE_DRIVER или CMS_DB_HOST.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			level, err := parseLevel(a.v.GetString("log-level"))
			if err != nil {
				return err
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("content-dir", filepath.Join("data", "content"), "корень JSON-зеркала")
	flags.String("store-driver", config.StoreDriverPostgres, "хранилище документов: postgres или sqlite")
	flags.String("sqlite-path", filepath.Join("data", "metrica.db"), "файл SQLite")
	flags.String("db-host", "localhost", "хост PostgreSQL")
	flags.Int("db-port", 5432, "порт PostgreSQL")
	flags.String("db-name", "metrica", "имя базы PostgreSQL")
	flags.String("db-user", "metrica", "пользователь PostgreSQL")
	flags.String("db-password", "", "пароль PostgreSQL")
	flags.String("db-ssl-mode", "disable", "режим SSL PostgreSQL")
	flags.Int("concurrency", service.DefaultMigrationConcurrency, "одновременно обрабатываемых документов")
	flags.Bool("json", false, "вывод в формате JSON")
	flags.String("log-level", "warn", "уровень логирования (debug, info, warn, error)")
	bindFlags(a.v, flags)

	root.AddCommand(
		newImportCmd(a),
		newExportCmd(a),
		newSeedCmd(a),
		newVerifyCmd(a),
	)
	return root
}

// bindFlags связывает флаги с viper и включает переменные окружения CMS_*.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log-level: недопустимое значение %q", s)
	}
	return level, nil
}

// storeConfig переводит флаги в config.Config для пакета database.
func (a *app) storeConfig() (*config.Config, error) {
	cfg := &config.Config{
		StoreDriver: a.v.GetString("store-driver"),
		SQLitePath:  a.v.GetString("sqlite-path"),
		ContentDir:  a.v.GetString("content-dir"),
		DBHost:      a.v.GetString("db-host"),
		DBPort:      a.v.GetInt("db-port"),
		DBName:      a.v.GetString("db-name"),
		DBUser:      a.v.GetString("db-user"),
		DBPassword:  a.v.GetString("db-password"),
		DBSSLMode:   a.v.GetString("db-ssl-mode"),
	}
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres, config.StoreDriverSQLite:
		return cfg, nil
	default:
		return nil, fmt.Errorf("store-driver: недопустимое значение %q, допустимые: postgres, sqlite", cfg.StoreDriver)
	}
}

// openStore открывает хранилище документов. close освобождает ресурсы.
func (a *app) openStore(ctx context.Context, cfg *config.Config) (repo repository.DocumentRepository, closeFn func(), err error) {
	if cfg.StoreDriver == config.StoreDriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("создание каталога SQLite: %w", err)
		}
		store, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	if err := database.Migrate(cfg, a.logger); err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewDocumentRepository(pool), pool.Close, nil
}

// withMigration открывает хранилище и зеркало и вызывает fn.
func (a *app) withMigration(ctx context.Context, fn func(*service.MigrationService) ([]service.MigrationItem, error)) ([]service.MigrationItem, error) {
	cfg, err := a.storeConfig()
	if err != nil {
		return nil, err
	}
	repo, closeFn, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	content, err := mirror.New(cfg.ContentDir)
	if err != nil {
		return nil, err
	}
	return fn(service.NewMigrationService(repo, content, a.v.GetInt("concurrency"), a.logger))
}

// printItems печатает отчёт таблицей или JSON.
func (a *app) printItems(items []service.MigrationItem, verbose bool) error {
	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ДОКУМЕНТ\tСТАТУС\tПОДРОБНОСТИ")
	for _, it := range items {
		detail := it.Detail
		if !verbose && strings.Contains(detail, "\n") {
			detail = "(используйте --verbose)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.Name, it.Status, detail)
	}
	return tw.Flush()
}
