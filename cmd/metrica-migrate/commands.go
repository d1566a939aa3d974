package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/service"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

func newImportCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Зеркало → хранилище (массивы страниц разворачиваются)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.withMigration(cmd.Context(), func(m *service.MigrationService) ([]service.MigrationItem, error) {
				return m.Import(cmd.Context(), dryRun)
			})
			if err != nil {
				return fmt.Errorf("импорт: %w", err)
			}
			return a.printItems(items, false)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только прочитать файлы, ничего не записывать")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Хранилище → зеркало (с резервными копиями)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.withMigration(cmd.Context(), func(m *service.MigrationService) ([]service.MigrationItem, error) {
				return m.Export(cmd.Context())
			})
			if err != nil {
				return fmt.Errorf("экспорт: %w", err)
			}
			return a.printItems(items, false)
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Записать значения по умолчанию для всех страниц",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.storeConfig()
			if err != nil {
				return err
			}
			repo, closeFn, err := a.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			content, err := mirror.New(cfg.ContentDir)
			if err != nil {
				return err
			}
			defaults, err := service.LoadPageDefaults()
			if err != nil {
				return err
			}

			bus := broadcast.New(a.logger)
			defer bus.Close()
			inv := service.NewInvalidationService(bus, repo, a.logger)
			pages := service.NewPageService(repo, content, service.NewCacheService(len(model.AllSlugs()), time.Minute, a.logger), inv, defaults, a.logger)

			written, err := pages.SeedDefaults(ctx, overwrite)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			items := make([]service.MigrationItem, 0, len(model.AllSlugs()))
			seeded := make(map[model.Slug]bool, len(written))
			for _, sl := range written {
				seeded[sl] = true
			}
			for _, sl := range model.AllSlugs() {
				status := service.MigrationSkipped
				if seeded[sl] {
					status = service.MigrationSeeded
				}
				items = append(items, service.MigrationItem{Name: string(sl), Status: status})
			}
			return a.printItems(items, false)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "перезаписать страницы, уже существующие в хранилище")
	return cmd
}

// errMismatch: verify нашёл расхождения (ненулевой код выхода).
var errMismatch = errors.New("хранилище и зеркало расходятся")

func newVerifyCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Сравнить хранилище и зеркало по каждому документу",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.withMigration(cmd.Context(), func(m *service.MigrationService) ([]service.MigrationItem, error) {
				return m.Verify(cmd.Context())
			})
			if err != nil {
				return fmt.Errorf("проверка: %w", err)
			}
			if err := a.printItems(items, verbose); err != nil {
				return err
			}
			for _, it := range items {
				switch it.Status {
				case service.VerifyDiffers, service.VerifyJSONOnly, service.VerifyStoreOnly:
					return errMismatch
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "печатать diff для расходящихся документов")
	return cmd
}
