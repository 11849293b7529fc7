package main

import (
	"github.com/spf13/cobra"

	"github.com/bigkaa/govote/internal/api/dto"
	"github.com/bigkaa/govote/internal/database"
	"github.com/bigkaa/govote/internal/repository"
	"github.com/bigkaa/govote/internal/service"
)

func auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Операции с журналом аудита",
	}
	cmd.AddCommand(auditVerifyCommand())
	return cmd
}

// auditVerifyCommand пересчитывает хэш-цепочку журнала сервиса.
// При нарушении цепочки завершается с кодом 2.
func auditVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Проверить хэш-цепочку журнала аудита",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := database.Connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := service.NewAuditService(repository.NewAuditRepository(pool), logger)
			v, err := svc.Verify(cmd.Context())
			if err != nil {
				return err
			}

			out := dto.AuditVerification{Valid: v.Valid, Entries: v.Checked, VerifiedAt: v.VerifiedAt}
			if v.Break != nil {
				id := v.Break.EntryID
				out.BrokenAt = &id
				out.Reason = v.Break.Reason
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}
			if !v.Valid {
				return errChainBroken
			}
			return nil
		},
	}
}
