package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services"
	"sure_app_go/services/queue"

	"gorm.io/gorm"
)

const (
	exportProgressEvery = 25
	exportLinkTTL       = 24 * time.Hour
)

// RunExport builds the CSV of an export, uploads it and emails the requester.
// Any failure marks the export failed with the error message.
func RunExport(ctx context.Context, db *gorm.DB, storage services.StorageProvider, cfg *config.Config, exportID string) error {
	log := logger.Component("export").With().Str("export_id", exportID).Logger()

	var export models.VisitExport
	if err := db.Preload("User").First(&export, "id = ?", exportID).Error; err != nil {
		return fmt.Errorf("failed to load export: %w", err)
	}
	if export.Status == models.ExportDone {
		return nil
	}
	if export.User == nil {
		return failExport(db, cfg, &export, errors.New("requesting user no longer exists"))
	}
	if err := db.Model(&export).Update("status", models.ExportRunning).Error; err != nil {
		return fmt.Errorf("failed to start export: %w", err)
	}

	key, total, err := buildExport(ctx, db, storage, &export)
	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		return failExport(db, cfg, &export, err)
	}

	finished := time.Now()
	err = db.Model(&export).Updates(map[string]interface{}{
		"status":      models.ExportDone,
		"file_key":    key,
		"progress":    total,
		"finished_at": finished,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to finish export: %w", err)
	}
	log.Info().Int("visits", total).Str("file_key", key).Msg("Export done")

	link, err := storage.GetSignedURL(ctx, key, exportLinkTTL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign export link")
		return nil
	}
	email := services.BuildExportReadyEmail(export.User.Email, export.User.Name, total, link, "")
	if err := services.SendEmail(cfg, email); err != nil {
		log.Error().Err(err).Msg("Failed to send export email")
	}
	return nil
}

func buildExport(ctx context.Context, db *gorm.DB, storage services.StorageProvider, export *models.VisitExport) (string, int, error) {
	ids, err := services.ExportVisitIDs(db, export.User)
	if err != nil {
		return "", 0, err
	}
	total := len(ids)
	if err := db.Model(export).Updates(map[string]interface{}{"total": total, "progress": 0}).Error; err != nil {
		return "", 0, fmt.Errorf("failed to update export total: %w", err)
	}

	exporter := services.NewExporter(db)
	rows := make([]*services.ExportRow, 0, total)
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		var visit models.Visit
		if err := db.First(&visit, "id = ?", id).Error; err != nil {
			return "", 0, fmt.Errorf("failed to load visit %s: %w", id, err)
		}
		row, err := exporter.Record(&visit)
		if err != nil {
			return "", 0, fmt.Errorf("failed to export visit %s: %w", id, err)
		}
		rows = append(rows, row)

		if (i+1)%exportProgressEvery == 0 {
			db.Model(export).UpdateColumn("progress", i+1)
		}
	}

	var buf bytes.Buffer
	if err := writeExportCSV(&buf, rows); err != nil {
		return "", 0, err
	}

	key := services.GenerateExportKey(export.ID)
	if _, err := storage.UploadReader(ctx, bytes.NewReader(buf.Bytes()), key, "text/csv", int64(buf.Len())); err != nil {
		return "", 0, fmt.Errorf("failed to upload export: %w", err)
	}
	return key, total, nil
}

func writeExportCSV(buf *bytes.Buffer, rows []*services.ExportRow) error {
	header := services.ExportHeader(rows)
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			record[i] = row.Values[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func failExport(db *gorm.DB, cfg *config.Config, export *models.VisitExport, cause error) error {
	finished := time.Now()
	err := db.Model(export).Updates(map[string]interface{}{
		"status":      models.ExportFailed,
		"error":       cause.Error(),
		"finished_at": finished,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark export failed: %w", err)
	}
	if export.User != nil {
		email := services.BuildExportFailedEmail(export.User.Email, export.User.Name, cause.Error(), "")
		if err := services.SendEmail(cfg, email); err != nil {
			logger.Component("export").Error().Err(err).Str("export_id", export.ID).Msg("Failed to send export failure email")
		}
	}
	return cause
}

// ExportHandler adapts RunExport to the task queue
func ExportHandler(db *gorm.DB, storage services.StorageProvider, cfg *config.Config) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var payload services.ExportTaskPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		return RunExport(ctx, db, storage, cfg, payload.ExportID)
	}
}
