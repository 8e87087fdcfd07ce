package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/campus-invoicing-api/internal/dto"
	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

var errHelp = errors.New("help provided")

type provisioner interface {
	ImportTeachers(ctx context.Context, actor models.Actor, r io.Reader) (*dto.ImportTeachersResult, error)
	ResetPasswords(ctx context.Context, actor models.Actor, req dto.ResetPasswordsRequest) (*dto.ResetResult, error)
	ExportCredentials(ctx context.Context, actor models.Actor, req dto.CredentialExportRequest) (*dto.DownloadLink, error)
}

type reminderRunner interface {
	RunOnce(ctx context.Context, now time.Time) []models.ReminderOutcome
}

type fileReader interface {
	Read(filename string) ([]byte, error)
}

// commandLine dispatches admin subcommands. Every field is resolved lazily so that
// usage errors never need a database.
type commandLine struct {
	out          io.Writer
	migrate      func(ctx context.Context) ([]int64, error)
	provisioning func() (provisioner, fileReader, error)
	reminders    func() (reminderRunner, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                                  - apply database migrations")
	fmt.Fprintln(cli.out, "  import-teachers -file PATH [-actor ID]   - create teacher accounts from a spreadsheet export")
	fmt.Fprintln(cli.out, "  reset-passwords -scope SCOPE [-email]    - issue new temporary passwords (new_teachers, all_teachers, all_users)")
	fmt.Fprintln(cli.out, "  export-credentials -out PATH [-only-new] - write unexpired temporary credentials to a CSV file")
	fmt.Fprintln(cli.out, "  reminders [-date YYYY-MM-DD]             - evaluate the reminder calendar once")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		versions, err := cli.migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "applied %d migration(s)\n", len(versions))
		return nil

	case "import-teachers":
		cmd := flag.NewFlagSet("import-teachers", flag.ContinueOnError)
		path := cmd.String("file", "", "CSV or TSV file with Nom, Prénom, Email, Campus columns")
		actorID := cmd.String("actor", "", "Super admin user id recorded in the audit trail")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *path == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.importTeachers(ctx, *path, *actorID)

	case "reset-passwords":
		cmd := flag.NewFlagSet("reset-passwords", flag.ContinueOnError)
		scope := cmd.String("scope", string(dto.ResetScopeNewTeachers), "new_teachers, all_teachers or all_users")
		sendEmail := cmd.Bool("email", false, "Queue an access email for every reset")
		actorID := cmd.String("actor", "", "Super admin user id recorded in the audit trail")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.resetPasswords(ctx, dto.ResetScope(*scope), *sendEmail, *actorID)

	case "export-credentials":
		cmd := flag.NewFlagSet("export-credentials", flag.ContinueOnError)
		out := cmd.String("out", "", "Destination CSV path")
		onlyNew := cmd.Bool("only-new", false, "Only credentials never exported before")
		actorID := cmd.String("actor", "", "Super admin user id recorded in the audit trail")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *out == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.exportCredentials(ctx, *out, *onlyNew, *actorID)

	case "reminders":
		cmd := flag.NewFlagSet("reminders", flag.ContinueOnError)
		date := cmd.String("date", "", "Evaluate as of this day (default today)")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		now := time.Now()
		if *date != "" {
			parsed, err := time.Parse("2006-01-02", *date)
			if err != nil {
				return fmt.Errorf("invalid -date %q: %w", *date, err)
			}
			// noon keeps the calendar day stable across timezones
			now = parsed.Add(12 * time.Hour)
		}
		return cli.runReminders(ctx, now)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) importTeachers(ctx context.Context, path, actorID string) error {
	svc, _, err := cli.provisioning()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	result, err := svc.ImportTeachers(ctx, adminActor(actorID), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "teachers: %d, created: %d, already existing: %d\n",
		result.TotalTeachers, result.ProcessedTeachers, result.AlreadyExisting)
	for _, w := range result.Warnings {
		fmt.Fprintln(cli.out, "warning:", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintln(cli.out, "error:", e)
	}
	if len(result.UnknownCampuses) > 0 {
		fmt.Fprintln(cli.out, "unknown campuses:", strings.Join(result.UnknownCampuses, ", "))
	}
	return nil
}

func (cli *commandLine) resetPasswords(ctx context.Context, scope dto.ResetScope, sendEmail bool, actorID string) error {
	svc, _, err := cli.provisioning()
	if err != nil {
		return err
	}
	result, err := svc.ResetPasswords(ctx, adminActor(actorID), dto.ResetPasswordsRequest{Scope: scope, SendEmail: sendEmail})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "reset %d password(s), %d failed\n", result.Succeeded, result.Failed)
	return nil
}

func (cli *commandLine) exportCredentials(ctx context.Context, out string, onlyNew bool, actorID string) error {
	svc, files, err := cli.provisioning()
	if err != nil {
		return err
	}
	link, err := svc.ExportCredentials(ctx, adminActor(actorID), dto.CredentialExportRequest{OnlyNew: onlyNew})
	if err != nil {
		return err
	}
	data, err := files.Read("credentials/" + link.Filename)
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "wrote %d credential(s) to %s\n", link.Rows, out)
	return nil
}

func (cli *commandLine) runReminders(ctx context.Context, now time.Time) error {
	svc, err := cli.reminders()
	if err != nil {
		return err
	}
	outcomes := svc.RunOnce(ctx, now)
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}

func adminActor(id string) models.Actor {
	return models.Actor{ID: id, Role: models.RoleSuperAdmin}
}
