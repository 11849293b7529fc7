// votectl — операторская утилита govote: миграции схем Credential Service
// и Tally Service, проверка цепочки журнала аудита.
// Конфигурация читается из тех же переменных окружения, что и у сервиса
// (префикс CS_ или TS_ по флагу --service).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/govote/internal/config"
)

// errChainBroken — цепочка аудита нарушена (код выхода 2).
var errChainBroken = errors.New("цепочка журнала аудита нарушена")

var globalFlags = struct {
	service string
}{}

// serviceFromFlag возвращает сервис, выбранный флагом --service.
func serviceFromFlag() (config.Service, error) {
	switch globalFlags.service {
	case "tally":
		return config.ServiceTally, nil
	case "credential":
		return config.ServiceCredential, nil
	default:
		return "", fmt.Errorf("--service: недопустимое значение %q, допустимые: tally, credential", globalFlags.service)
	}
}

// loadConfig загружает конфигурацию выбранного сервиса и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	svc, err := serviceFromFlag()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(svc)
	if err != nil {
		return nil, nil, err
	}
	logger := config.SetupLogger(cfg).With(slog.String("component", "votectl"))
	return cfg, logger, nil
}

// printJSON выводит v в stdout с отступами.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "votectl",
		Short:         "Операторская утилита govote",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&globalFlags.service, "service", "s", "tally",
		"сервис: tally или credential")

	rootCmd.AddCommand(
		migrateCommand(),
		auditCommand(),
	)
	return rootCmd
}

func main() {
	ctx := context.Background()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		if errors.Is(err, errChainBroken) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
