package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/govote/internal/database"
)

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Управление миграциями схемы БД сервиса",
	}
	cmd.AddCommand(
		migrateUpCommand(),
		migrateDownCommand(),
		migrateVersionCommand(),
		migrateListCommand(),
	)
	return cmd
}

func migrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Применить все новые миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return database.Migrate(cfg, logger)
		},
	}
}

func migrateDownCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Откатить последние миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return database.MigrateDown(cfg, steps, logger)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "число откатываемых миграций")
	return cmd
}

func migrateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать текущую версию схемы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg)
			if err != nil {
				return fmt.Errorf("чтение версии схемы: %w", err)
			}
			return printJSON(cmd, map[string]any{
				"service": cfg.Service,
				"version": version,
				"dirty":   dirty,
			})
		},
	}
}

// migrateListCommand не обращается к БД: список берётся из встроенных файлов.
func migrateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Показать встроенные файлы миграций",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFromFlag()
			if err != nil {
				return err
			}
			files, err := database.MigrationFiles(svc)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}
