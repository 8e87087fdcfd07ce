package dto

// ReportFormat selects the rendering of a monthly report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportFile is a rendered report ready to be streamed as an attachment.
type ReportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
