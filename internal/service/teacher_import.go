package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

var teacherImportHeader = []string{"Nouveau prof ?", "Prénom", "NOM", "MAIL", "TEL", "CAMPUS"}

const (
	colNewTeacher = iota
	colFirstName
	colLastName
	colEmail
	colPhone
	colCampus
)

// maxImportSize bounds the uploaded teacher file.
const maxImportSize = 5 << 20

// ImportTeachers provisions one ENSEIGNANT account per data row of the teacher CSV.
// Row-level problems are collected in the result; only an unreadable file or a wrong
// header fails the whole import.
func (s *ProvisioningService) ImportTeachers(ctx context.Context, actor models.Actor, r io.Reader) (*dto.ImportTeachersResult, error) {
	records, err := readImportCSV(r, teacherImportHeader)
	if err != nil {
		return nil, err
	}
	index, err := s.campuses.CampusIndex(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load campuses")
	}

	candidates := make([]string, 0, len(records))
	for _, rec := range records {
		if len(rec) > colEmail {
			candidates = append(candidates, strings.ToLower(strings.TrimSpace(rec[colEmail])))
		}
	}
	existing, err := s.profiles.ExistingEmails(ctx, candidates)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check existing emails")
	}

	result := &dto.ImportTeachersResult{
		Errors:          []string{},
		Warnings:        []string{},
		UnknownCampuses: []string{},
		Rows:            []dto.ImportRow{},
	}
	unknown := map[string]struct{}{}
	seen := map[string]string{}

	for i, rec := range records {
		line := i + 2
		if blankRecord(rec) {
			continue
		}
		if len(rec) < len(teacherImportHeader) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Ligne %d : %d colonnes au lieu de %d, ligne ignorée", line, len(rec), len(teacherImportHeader)))
			continue
		}
		result.TotalTeachers++

		row := dto.ImportRow{
			Line:      line,
			Email:     strings.ToLower(strings.TrimSpace(rec[colEmail])),
			FirstName: strings.TrimSpace(rec[colFirstName]),
			LastName:  strings.TrimSpace(rec[colLastName]),
		}
		name := strings.TrimSpace(row.FirstName + " " + row.LastName)

		if !strings.Contains(row.Email, "@") {
			msg := fmt.Sprintf("Ligne %d : email invalide pour %s (%s)", line, name, row.Email)
			row.Status = dto.ImportRowError
			row.Message = msg
			result.Errors = append(result.Errors, msg)
			result.Rows = append(result.Rows, row)
			continue
		}

		// only the first listed campus is primary; an unknown first campus leaves none
		var primary *string
		for pos, raw := range SplitCampusCell(rec[colCampus]) {
			canonical, ok := NormalizeCampusName(raw)
			campus, found := index[canonical]
			if !ok || !found {
				if _, dup := unknown[raw]; !dup {
					unknown[raw] = struct{}{}
					result.UnknownCampuses = append(result.UnknownCampuses, raw)
				}
				result.Warnings = append(result.Warnings, fmt.Sprintf("Ligne %d : campus inconnu %q pour %s", line, raw, name))
				continue
			}
			row.Campuses = append(row.Campuses, campus.Name)
			if pos == 0 {
				id := campus.ID
				primary = &id
			}
		}

		if id, ok := existing[row.Email]; ok {
			s.markExisting(result, &row, id)
			continue
		}
		if id, ok := seen[row.Email]; ok {
			s.markExisting(result, &row, id)
			continue
		}

		account, err := s.CreateAccount(ctx, dto.CreateAccountRequest{
			Email:        row.Email,
			FirstName:    row.FirstName,
			LastName:     row.LastName,
			Phone:        rec[colPhone],
			Role:         models.RoleTeacher,
			CampusID:     primary,
			IsNewTeacher: parseYes(rec[colNewTeacher]),
		})
		if err != nil {
			msg := fmt.Sprintf("Ligne %d : création impossible pour %s (%s) : %s", line, name, row.Email, appErrors.FromError(err).Message)
			s.logger.Warn("teacher import row failed", zap.Int("line", line), zap.String("email", row.Email), zap.Error(err))
			row.Status = dto.ImportRowError
			row.Message = msg
			result.Errors = append(result.Errors, msg)
			result.Rows = append(result.Rows, row)
			continue
		}
		seen[row.Email] = account.UserID
		if account.AlreadyExists {
			s.markExisting(result, &row, account.UserID)
			continue
		}
		row.Status = dto.ImportRowCreated
		row.UserID = account.UserID
		result.ProcessedTeachers++
		result.Rows = append(result.Rows, row)
	}

	s.writeAudit(ctx, actor, models.AuditActionTeacherImport, "profiles", nil,
		fmt.Sprintf(`{"total":%d,"processed":%d,"existing":%d,"errors":%d}`,
			result.TotalTeachers, result.ProcessedTeachers, result.AlreadyExisting, len(result.Errors)))
	s.logger.Info("teacher import finished",
		zap.Int("total", result.TotalTeachers),
		zap.Int("processed", result.ProcessedTeachers),
		zap.Int("existing", result.AlreadyExisting),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *ProvisioningService) markExisting(result *dto.ImportTeachersResult, row *dto.ImportRow, userID string) {
	row.Status = dto.ImportRowExists
	row.UserID = userID
	row.Message = "compte déjà existant"
	result.AlreadyExisting++
	result.Rows = append(result.Rows, *row)
}

// readImportCSV parses an uploaded CSV and checks its header, returning the data records.
// A UTF-8 BOM and spaces around header cells are tolerated.
func readImportCSV(r io.Reader, header []string) ([][]string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read file")
	}
	if len(raw) > maxImportSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file too large")
	}
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
				fmt.Sprintf("malformed CSV at line %d", parseErr.Line))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed CSV")
	}
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if !headerMatches(records[0], header) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("unexpected header, expected %q", strings.Join(header, ",")))
	}
	return records[1:], nil
}

func headerMatches(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, col := range want {
		if strings.TrimSpace(got[i]) != col {
			return false
		}
	}
	for _, extra := range got[len(want):] {
		if strings.TrimSpace(extra) != "" {
			return false
		}
	}
	return true
}

func blankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseYes(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "oui", "yes", "1", "x", "true", "o", "y":
		return true
	}
	return false
}
